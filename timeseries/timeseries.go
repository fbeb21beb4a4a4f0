package timeseries

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lpdaac/hls-super/common"
	"github.com/lpdaac/hls-super/raster"
	"github.com/lpdaac/hls-super/service"
	"github.com/lpdaac/hls-super/service/log"
)

// GridMismatchError is returned when the rasters of a tile do not share the
// same grid and cannot be stacked
type GridMismatchError struct {
	Tile string
	Path string
}

func (e GridMismatchError) Error() string {
	return fmt.Sprintf("raster %s does not share the grid of tile %s", e.Path, e.Tile)
}

// Params configures the assembly of single-date rasters into per-tile
// timeseries files
type Params struct {
	// RasterDir is scanned for the subset files of the processing stage
	RasterDir string
	// OutputDir receives the netcdf files (RasterDir if empty)
	OutputDir string
	// RemoveRasters deletes the single-date rasters once their tile has been
	// assembled
	RemoveRasters bool
	Env           raster.Env
}

// tileStack is the set of single-date rasters of one tile, grouped by band
type tileStack struct {
	tile  string
	bands map[string][]common.OutputRaster
}

// Assemble groups the single-date rasters of RasterDir by tile and writes one
// CF-1.6 netcdf timeseries file per tile, each band stacked along a shared
// time axis. Tiles are assembled independently: one tile failing does not
// abort the others.
func Assemble(ctx context.Context, params Params) ([]common.Result, error) {
	if params.OutputDir == "" {
		params.OutputDir = params.RasterDir
	}
	stacks, err := scan(ctx, params.RasterDir)
	if err != nil {
		return nil, fmt.Errorf("Assemble.%w", err)
	}
	if len(stacks) == 0 {
		log.Logger(ctx).Sugar().Warnf("no raster to assemble in %s", params.RasterDir)
		return nil, nil
	}

	results := make([]common.Result, len(stacks))
	g, gctx := errgroup.WithContext(ctx)
	for i, stack := range stacks {
		i, stack := i, stack
		g.Go(func() error {
			results[i] = assembleTile(gctx, stack, params)
			return nil
		})
	}
	g.Wait()
	return results, nil
}

// scan parses every single-date raster of dir once and groups the records by
// tile and band
func scan(ctx context.Context, dir string) ([]tileStack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("scan[%s]: %w", dir, err))
	}
	byTile := map[string]map[string][]common.OutputRaster{}
	excluded := map[string]service.StringSet{} // tile -> bands
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "."+common.OutputSuffix) {
			continue
		}
		rec, err := common.ParseOutputName(filepath.Join(dir, entry.Name()))
		if err != nil {
			var terr common.TemporalParseError
			if errors.As(err, &terr) && rec.Tile != "" {
				// a band with one unplaceable observation cannot be stacked
				log.Logger(ctx).Sugar().Warnf("excluding band %s of tile %s: %v", rec.Band, rec.Tile, err)
				if excluded[rec.Tile] == nil {
					excluded[rec.Tile] = service.StringSet{}
				}
				excluded[rec.Tile].Push(rec.Band)
			} else {
				log.Logger(ctx).Sugar().Warnf("skipping %s: %v", entry.Name(), err)
			}
			continue
		}
		if byTile[rec.Tile] == nil {
			byTile[rec.Tile] = map[string][]common.OutputRaster{}
		}
		byTile[rec.Tile][rec.Band] = append(byTile[rec.Tile][rec.Band], rec)
	}
	for tile, bands := range excluded {
		for _, band := range bands.Slice() {
			delete(byTile[tile], band)
		}
		if len(byTile[tile]) == 0 {
			delete(byTile, tile)
		}
	}

	tiles := make([]string, 0, len(byTile))
	for tile := range byTile {
		tiles = append(tiles, tile)
	}
	sort.Strings(tiles)

	stacks := make([]tileStack, 0, len(tiles))
	for _, tile := range tiles {
		stacks = append(stacks, tileStack{tile: tile, bands: byTile[tile]})
	}
	return stacks, nil
}

// assembleTile stacks all bands of one tile and writes the timeseries file
func assembleTile(ctx context.Context, stack tileStack, params Params) common.Result {
	ctx = log.With(ctx, "tile", stack.tile)

	axis := timeAxis(stack)
	diagnoseRaggedStacks(ctx, stack, len(axis))

	out := filepath.Join(params.OutputDir, outputName(stack.tile, axis))
	if _, err := os.Stat(out); err == nil {
		log.Logger(ctx).Sugar().Infof("already assembled, skipping")
		return common.Result{Unit: stack.tile, Status: common.StatusSKIPPED, Message: "output exists"}
	}

	bands := make([]string, 0, len(stack.bands))
	for band := range stack.bands {
		bands = append(bands, band)
	}
	sort.Strings(bands)

	var grid *raster.Raster
	cube := map[string]*bandCube{}
	for _, band := range bands {
		c, ref, err := stackBand(ctx, stack, band, axis, grid, params.Env)
		if err != nil {
			return failure(stack.tile, fmt.Errorf("AssembleTile[%s][%s].%w", stack.tile, band, err))
		}
		if grid == nil {
			grid = ref
		}
		cube[band] = c
	}

	if err := writeNetCDF(ctx, out, stack.tile, axis, bands, cube, grid); err != nil {
		return failure(stack.tile, fmt.Errorf("AssembleTile[%s].%w", stack.tile, err))
	}
	log.Logger(ctx).Sugar().Infof("%d band(s), %d date(s) assembled", len(bands), len(axis))

	if params.RemoveRasters {
		for _, recs := range stack.bands {
			for _, rec := range recs {
				if err := os.Remove(rec.Path); err != nil {
					log.Logger(ctx).Sugar().Warnf("remove %s: %v", rec.Path, err)
				}
			}
		}
	}
	return common.Result{Unit: stack.tile, Status: common.StatusDONE, Message: filepath.Base(out)}
}

// bandCube is one band of a tile stacked along the time axis
type bandCube struct {
	data [][]float32 // time → y*x pixels
	fill float64
}

// stackBand loads the band rasters sorted by time onto the shared time axis.
// Dates without an observation of this band are filled with the band's fill
// value. Every raster must share the grid of the reference raster.
func stackBand(ctx context.Context, stack tileStack, band string, axis []time.Time, grid *raster.Raster, env raster.Env) (*bandCube, *raster.Raster, error) {
	index := map[time.Time]string{}
	for _, rec := range stack.bands[band] {
		index[rec.Time.UTC()] = rec.Path
	}

	cube := &bandCube{data: make([][]float32, len(axis)), fill: common.NoDataValue}
	var ref *raster.Raster
	for i, t := range axis {
		path, ok := index[t]
		if !ok {
			continue
		}
		r, err := raster.Open(ctx, env, path, raster.OpenOptions{})
		if err != nil {
			return nil, nil, fmt.Errorf("stackBand.%w", err)
		}
		if grid == nil {
			grid = r
			ref = r
		} else if r.Width != grid.Width || r.Height != grid.Height || r.GeoTransform != grid.GeoTransform {
			return nil, nil, GridMismatchError{Tile: stack.tile, Path: path}
		}
		cube.data[i] = r.Data
		cube.fill = r.NoData
	}
	for i := range cube.data {
		if cube.data[i] == nil && grid != nil {
			cube.data[i] = filled(grid.Width*grid.Height, float32(cube.fill))
		}
	}
	return cube, ref, nil
}

func filled(n int, v float32) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = v
	}
	return data
}

// timeAxis is the sorted union of the observation times of every band
func timeAxis(stack tileStack) []time.Time {
	set := map[time.Time]struct{}{}
	for _, recs := range stack.bands {
		for _, rec := range recs {
			set[rec.Time.UTC()] = struct{}{}
		}
	}
	axis := make([]time.Time, 0, len(set))
	for t := range set {
		axis = append(axis, t)
	}
	sort.Slice(axis, func(i, j int) bool { return axis[i].Before(axis[j]) })
	return axis
}

// diagnoseRaggedStacks reports bands observed on fewer dates than the tile's
// time axis, usually a sign of partially failed processings
func diagnoseRaggedStacks(ctx context.Context, stack tileStack, dates int) {
	for band, recs := range stack.bands {
		if len(recs) < dates {
			log.Logger(ctx).Sugar().Warnf("band %s has %d of %d date(s), missing dates are filled", band, len(recs), dates)
		}
	}
}

// outputName is HLS.<tile>.<first date>.<last date>.subset.nc with dates
// formatted MMDDYYYY
func outputName(tile string, axis []time.Time) string {
	const layout = "01022006"
	return fmt.Sprintf("HLS.%s.%s.%s.subset.nc", tile, axis[0].Format(layout), axis[len(axis)-1].Format(layout))
}

// coordinates returns the x and y axes at pixel centers
func coordinates(grid *raster.Raster) ([]float64, []float64) {
	gt := grid.GeoTransform
	xs := make([]float64, grid.Width)
	for i := range xs {
		xs[i] = gt[0] + (float64(i)+0.5)*gt[1]
	}
	ys := make([]float64, grid.Height)
	for j := range ys {
		ys[j] = gt[3] + (float64(j)+0.5)*gt[5]
	}
	return xs, ys
}

func failure(tile string, err error) common.Result {
	status := common.StatusFAILED
	if service.Temporary(err) {
		status = common.StatusRETRY
	}
	return common.Result{Unit: tile, Status: status, Message: err.Error()}
}
