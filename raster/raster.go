package raster

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/airbusgeo/godal"
	"github.com/paulsmith/gogeos/geos"

	"github.com/lpdaac/hls-super/service"
	"github.com/lpdaac/hls-super/service/geometry"
)

// SpatialMismatchError is returned when an asset shares no area with the ROI
type SpatialMismatchError struct {
	Ref string
}

func (e SpatialMismatchError) Error() string {
	return fmt.Sprintf("asset does not overlap the region of interest: %s", e.Ref)
}

// Chunking is the window size of raster reads
type Chunking struct {
	X, Y int
}

// DefaultChunking bounds the memory of a single read
var DefaultChunking = Chunking{X: 512, Y: 512}

// OpenOptions controls how an asset is opened
type OpenOptions struct {
	// ROI clips the asset to the region of interest (all-touched policy)
	ROI *geometry.ROI
	// ApplyScale multiplies pixel values by the scale factor. Never applied
	// to quality bands.
	ApplyScale bool
	// Quality marks the asset as a quality band
	Quality bool
	// DefaultScale is used when the asset does not declare a scale factor
	DefaultScale float64
	// Chunking is the read window size (DefaultChunking if zero)
	Chunking Chunking
}

// Raster is one band of one asset, loaded in memory with its georeferencing
type Raster struct {
	Data          []float32
	Width, Height int
	GeoTransform  [6]float64
	Projection    string // WKT
	DataType      godal.DataType
	// NoData is the fill sentinel of the source. When the raster has been
	// scaled, missing pixels hold NaN in Data and NoData is only used when
	// writing the raster back to a file.
	NoData float64
	// Scale is the recorded scale attribute: 1.0 once applied, the declared
	// factor otherwise
	Scale  float64
	scaled bool
}

// Missing returns the in-memory missing-value marker of the raster
func (r *Raster) Missing() float32 {
	if r.scaled {
		return float32(math.NaN())
	}
	return float32(r.NoData)
}

// IsMissing returns whether v is the missing-value marker
func (r *Raster) IsMissing(v float32) bool {
	if r.scaled {
		return math.IsNaN(float64(v))
	}
	return v == float32(r.NoData)
}

// Open opens a single raster asset, optionally clips it to the ROI and applies
// the scale factor, and returns it fully loaded in memory. The asset itself is
// never modified.
func Open(ctx context.Context, env Env, ref string, opts OpenOptions) (*Raster, error) {
	ds, err := godal.Open(vsiPath(ref), godal.ConfigOption(env.configOptions()...))
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("Open[%s]: %w", ref, err))
	}
	defer ds.Close()

	if opts.ROI != nil {
		clipped, err := clip(ctx, ds, ref, opts.ROI, env)
		if err != nil {
			return nil, fmt.Errorf("Open[%s].%w", ref, err)
		}
		defer clipped.Close()
		return load(clipped, opts)
	}
	return load(ds, opts)
}

// clip warps the dataset onto the ROI with an all-touched cutline: every pixel
// intersecting the ROI boundary is retained
func clip(ctx context.Context, ds *godal.Dataset, ref string, roi *geometry.ROI, env Env) (*godal.Dataset, error) {
	footprint, err := footprintGeographic(ds)
	if err != nil {
		return nil, fmt.Errorf("clip.%w", err)
	}
	if ok, err := roi.Intersects(footprint); err != nil {
		return nil, fmt.Errorf("clip.Intersects: %w", err)
	} else if !ok {
		return nil, SpatialMismatchError{Ref: ref}
	}

	cutline, err := roi.MaterializeCutline(os.TempDir())
	if err != nil {
		return nil, fmt.Errorf("clip.%w", err)
	}
	switches := []string{
		"-of", "MEM",
		"-cutline", cutline,
		"-crop_to_cutline",
		"-wo", "CUTLINE_ALL_TOUCHED=TRUE",
	}
	warped, err := ds.Warp("", switches, godal.ConfigOption(env.configOptions()...))
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("clip.Warp: %w", err))
	}
	return warped, nil
}

// footprintGeographic returns the dataset's corner footprint in geographic CRS
func footprintGeographic(ds *godal.Dataset) (*geos.Geometry, error) {
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("footprint.GeoTransform: %w", err)
	}
	st := ds.Structure()
	w, h := float64(st.SizeX), float64(st.SizeY)

	// pixel corners to native coordinates
	cols := []float64{0, w, w, 0}
	rows := []float64{0, 0, h, h}
	xs := make([]float64, 4)
	ys := make([]float64, 4)
	for i := range cols {
		xs[i] = gt[0] + cols[i]*gt[1] + rows[i]*gt[2]
		ys[i] = gt[3] + cols[i]*gt[4] + rows[i]*gt[5]
	}

	geogSR, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return nil, fmt.Errorf("footprint.SpatialRef: %w", err)
	}
	defer geogSR.Close()
	tr, err := godal.NewTransform(ds.SpatialRef(), geogSR)
	if err != nil {
		return nil, fmt.Errorf("footprint.NewTransform: %w", err)
	}
	defer tr.Close()
	if err := tr.TransformEx(xs, ys, nil, nil); err != nil {
		return nil, fmt.Errorf("footprint.Transform: %w", err)
	}

	wkt := fmt.Sprintf("POLYGON ((%g %g, %g %g, %g %g, %g %g, %g %g))",
		xs[0], ys[0], xs[1], ys[1], xs[2], ys[2], xs[3], ys[3], xs[0], ys[0])
	g, err := geos.FromWKT(wkt)
	if err != nil {
		return nil, fmt.Errorf("footprint.FromWKT: %w", err)
	}
	return g, nil
}

// load reads the (possibly clipped) dataset into memory and applies the scale
// semantics
func load(ds *godal.Dataset, opts OpenOptions) (*Raster, error) {
	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("load.GeoTransform: %w", err)
	}

	bnd := ds.Bands()[0]
	nodata, hasNodata := bnd.NoData()
	if !hasNodata {
		if opts.Quality {
			nodata = 255
		} else {
			nodata = -9999
		}
	}

	chunking := opts.Chunking
	if chunking.X <= 0 || chunking.Y <= 0 {
		chunking = DefaultChunking
	}
	data, err := readChunked(bnd, st.SizeX, st.SizeY, chunking)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("load.Read: %w", err))
	}

	r := &Raster{
		Data:         data,
		Width:        st.SizeX,
		Height:       st.SizeY,
		GeoTransform: gt,
		Projection:   ds.Projection(),
		DataType:     st.DataType,
		NoData:       nodata,
		Scale:        1.0,
	}

	if opts.Quality {
		// quality bands are never scaled
		return r, nil
	}

	scale := declaredScale(bnd, opts.DefaultScale)
	if !opts.ApplyScale {
		// keep pixel values untouched, record the scale for later reference
		r.Scale = scale
		return r, nil
	}
	scaleInPlace(r.Data, float32(nodata), float32(scale))
	r.scaled = true
	r.Scale = 1.0 // consumers must not double-scale
	r.DataType = godal.Float32
	return r, nil
}

// declaredScale returns the asset's scale factor, or def if not declared
func declaredScale(bnd godal.Band, def float64) float64 {
	for _, key := range []string{"SCALE", "scale_factor"} {
		if v := bnd.Metadata(key); v != "" {
			if s, err := strconv.ParseFloat(v, 64); err == nil && s != 0 {
				return s
			}
		}
	}
	if def != 0 {
		return def
	}
	return 1.0
}

// scaleInPlace replaces the no-data sentinel by NaN and multiplies the
// remaining values by scale
func scaleInPlace(data []float32, nodata, scale float32) {
	nan := float32(math.NaN())
	for i, v := range data {
		if v == nodata {
			data[i] = nan
		} else {
			data[i] = v * scale
		}
	}
}

// readChunked reads the whole band window by window
func readChunked(bnd godal.Band, width, height int, chunking Chunking) ([]float32, error) {
	data := make([]float32, width*height)
	for y := 0; y < height; y += chunking.Y {
		sy := min(chunking.Y, height-y)
		for x := 0; x < width; x += chunking.X {
			sx := min(chunking.X, width-x)
			buf := make([]float32, sx*sy)
			if err := bnd.Read(x, y, buf, sx, sy); err != nil {
				return nil, err
			}
			for row := 0; row < sy; row++ {
				copy(data[(y+row)*width+x:(y+row)*width+x+sx], buf[row*sx:(row+1)*sx])
			}
		}
	}
	return data, nil
}
