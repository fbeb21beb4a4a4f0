package timeseries

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/google/uuid"

	"github.com/lpdaac/hls-super/raster"
	"github.com/lpdaac/hls-super/service"
)

// writeNetCDF writes the stacked tile as a CF-1.6 netcdf classic file. The
// file is created under a temporary name and renamed into place once complete.
func writeNetCDF(ctx context.Context, out, tile string, axis []time.Time, bands []string, cube map[string]*bandCube, grid *raster.Raster) error {
	tmp := filepath.Join(filepath.Dir(out), fmt.Sprintf("tmp-%s.nc", uuid.New().String()))
	cw, err := cdf.OpenWriter(tmp)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("writeNetCDF.Create: %w", err))
	}

	err = func() error {
		global, err := attrs(
			"Conventions", "CF-1.6",
			"title", "HLS",
			"institution", "Unidata",
			"source", "LP DAAC",
			"tile_id", tile,
		)
		if err != nil {
			return err
		}
		if err := cw.AddAttributes(global); err != nil {
			return fmt.Errorf("AddGlobalAttrs: %w", err)
		}

		if err := addTime(cw, axis); err != nil {
			return err
		}
		if err := addCoordinates(cw, grid); err != nil {
			return err
		}
		if err := addSpatialRef(cw, grid); err != nil {
			return err
		}
		for _, band := range bands {
			if err := addBand(cw, band, cube[band], grid); err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		cw.Close()
		os.Remove(tmp)
		return fmt.Errorf("writeNetCDF.%w", err)
	}

	if err := cw.Close(); err != nil {
		os.Remove(tmp)
		return service.MakeTemporary(fmt.Errorf("writeNetCDF.Close: %w", err))
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return service.MakeTemporary(fmt.Errorf("writeNetCDF.Rename: %w", err))
	}
	return nil
}

// addTime writes the time coordinate as seconds since the unix epoch
func addTime(cw api.Writer, axis []time.Time) error {
	values := make([]float64, len(axis))
	for i, t := range axis {
		values[i] = float64(t.Unix())
	}
	am, err := attrs(
		"standard_name", "time",
		"long_name", "time of acquisition",
		"units", "seconds since 1970-01-01 00:00:00",
		"calendar", "standard",
		"axis", "T",
	)
	if err != nil {
		return err
	}
	if err := cw.AddVar("time", api.Variable{Values: values, Dimensions: []string{"time"}, Attributes: am}); err != nil {
		return fmt.Errorf("AddVar[time]: %w", err)
	}
	return nil
}

// addCoordinates writes the projected x and y coordinates at pixel centers
func addCoordinates(cw api.Writer, grid *raster.Raster) error {
	xs, ys := coordinates(grid)
	xAttrs, err := attrs(
		"standard_name", "projection_x_coordinate",
		"long_name", "x coordinate of projection",
		"units", "m",
		"axis", "X",
	)
	if err != nil {
		return err
	}
	if err := cw.AddVar("x", api.Variable{Values: xs, Dimensions: []string{"x"}, Attributes: xAttrs}); err != nil {
		return fmt.Errorf("AddVar[x]: %w", err)
	}
	yAttrs, err := attrs(
		"standard_name", "projection_y_coordinate",
		"long_name", "y coordinate of projection",
		"units", "m",
		"axis", "Y",
	)
	if err != nil {
		return err
	}
	if err := cw.AddVar("y", api.Variable{Values: ys, Dimensions: []string{"y"}, Attributes: yAttrs}); err != nil {
		return fmt.Errorf("AddVar[y]: %w", err)
	}
	return nil
}

// addSpatialRef writes the grid mapping variable carrying the projection
func addSpatialRef(cw api.Writer, grid *raster.Raster) error {
	gt := grid.GeoTransform
	am, err := attrs(
		"spatial_ref", grid.Projection,
		"crs_wkt", grid.Projection,
		"GeoTransform", fmt.Sprintf("%g %g %g %g %g %g", gt[0], gt[1], gt[2], gt[3], gt[4], gt[5]),
	)
	if err != nil {
		return err
	}
	if err := cw.AddVar("spatial_ref", api.Variable{Values: int32(0), Attributes: am}); err != nil {
		return fmt.Errorf("AddVar[spatial_ref]: %w", err)
	}
	return nil
}

// addBand writes one band cube as a (time, y, x) variable
func addBand(cw api.Writer, band string, cube *bandCube, grid *raster.Raster) error {
	values := make([][][]float32, len(cube.data))
	for i, slab := range cube.data {
		rows := make([][]float32, grid.Height)
		for j := 0; j < grid.Height; j++ {
			rows[j] = slab[j*grid.Width : (j+1)*grid.Width]
		}
		values[i] = rows
	}
	am, err := attrs(
		"long_name", band,
		"_FillValue", float32(cube.fill),
		"grid_mapping", "spatial_ref",
	)
	if err != nil {
		return err
	}
	if err := cw.AddVar(band, api.Variable{Values: values, Dimensions: []string{"time", "y", "x"}, Attributes: am}); err != nil {
		return fmt.Errorf("AddVar[%s]: %w", band, err)
	}
	return nil
}

// attrs builds an ordered attribute map from key/value pairs
func attrs(kv ...interface{}) (api.AttributeMap, error) {
	keys := make([]string, 0, len(kv)/2)
	values := map[string]interface{}{}
	for i := 0; i < len(kv); i += 2 {
		key := kv[i].(string)
		keys = append(keys, key)
		values[key] = kv[i+1]
	}
	am, err := util.NewOrderedMap(keys, values)
	if err != nil {
		return nil, fmt.Errorf("attrs: %w", err)
	}
	return am, nil
}
