package raster

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"

	"github.com/lpdaac/hls-super/service"
)

var cogCreationOptions = []string{
	"COMPRESS=LZW",
	"OVERVIEW_RESAMPLING=AVERAGE",
}

// WriteCOG writes the raster as a cloud-optimized geotiff at path. The file is
// created under a temporary name and renamed into place, so a file at path is
// always complete. If path already exists the write is skipped and
// (false, nil) is returned.
func WriteCOG(r *Raster, path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, service.MakeTemporary(fmt.Errorf("WriteCOG.Stat[%s]: %w", path, err))
	}

	mem, err := godal.Create(godal.Memory, "", 1, r.DataType, r.Width, r.Height)
	if err != nil {
		return false, fmt.Errorf("WriteCOG.Create: %w", err)
	}
	defer mem.Close()
	if err := mem.SetGeoTransform(r.GeoTransform); err != nil {
		return false, fmt.Errorf("WriteCOG.SetGeoTransform: %w", err)
	}
	if err := mem.SetProjection(r.Projection); err != nil {
		return false, fmt.Errorf("WriteCOG.SetProjection: %w", err)
	}
	bnd := mem.Bands()[0]
	if err := bnd.SetNoData(r.NoData); err != nil {
		return false, fmt.Errorf("WriteCOG.SetNoData: %w", err)
	}
	if err := bnd.SetMetadata("SCALE", fmt.Sprintf("%g", r.Scale)); err != nil {
		return false, fmt.Errorf("WriteCOG.SetMetadata: %w", err)
	}
	if err := bnd.Write(0, 0, sentinelized(r), r.Width, r.Height); err != nil {
		return false, fmt.Errorf("WriteCOG.Write: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(path), fmt.Sprintf("tmp-%s.tif", uuid.New().String()))
	cog, err := mem.Translate(tmp, []string{"-of", "COG"}, godal.CreationOption(cogCreationOptions...))
	if err != nil {
		return false, service.MakeTemporary(fmt.Errorf("WriteCOG.Translate: %w", err))
	}
	if err := cog.Close(); err != nil {
		os.Remove(tmp)
		return false, service.MakeTemporary(fmt.Errorf("WriteCOG.Close: %w", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, service.MakeTemporary(fmt.Errorf("WriteCOG.Rename: %w", err))
	}
	return true, nil
}

// sentinelized returns the raster data with NaN missing markers replaced by
// the no-data sentinel, as stored on disk
func sentinelized(r *Raster) []float32 {
	if !r.scaled {
		return r.Data
	}
	out := make([]float32, len(r.Data))
	nodata := float32(r.NoData)
	for i, v := range r.Data {
		if math.IsNaN(float64(v)) {
			out[i] = nodata
		} else {
			out[i] = v
		}
	}
	return out
}
