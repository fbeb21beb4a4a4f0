package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lpdaac/hls-super/common"
	"github.com/lpdaac/hls-super/raster"
	"github.com/lpdaac/hls-super/service"
	"github.com/lpdaac/hls-super/service/geometry"
	"github.com/lpdaac/hls-super/service/log"
)

// Params configures the processing of every granule of a run
type Params struct {
	// ROI clips every asset (nil processes full tiles)
	ROI *geometry.ROI
	// QualityFilter masks out pixels flagged by the quality band
	QualityFilter bool
	// QualityBits selects the quality bits to screen (common.DefaultQualityBits
	// if empty)
	QualityBits []int
	// ApplyScale converts pixel values to physical units
	ApplyScale bool
	// Bands selects the assets to process and names their outputs
	Bands *common.BandTable
	// OutputDir receives the subset files
	OutputDir string
	Chunking  raster.Chunking
	Env       raster.Env
}

type asset struct {
	ref     string
	info    common.AssetInfo
	logical string
	out     string // output path
}

// ProcessGranule processes every requested asset of a granule: clip to the
// ROI, screen with the quality mask, scale, and write a cloud-optimized
// geotiff per asset. When quality filtering is enabled the quality band is
// written alongside the data bands, even when absent from the requested band
// set. Assets whose output already exists are left untouched, so a failed run
// can be resumed by reprocessing the same granule.
func ProcessGranule(ctx context.Context, granule common.Granule, params Params) common.Result {
	tag := granule.Key
	ctx = log.With(ctx, "granule", tag)

	assets := selectAssets(ctx, granule, params)
	needQuality := params.QualityFilter || fmaskRequested(params.Bands)
	if len(assets) == 0 && !needQuality {
		log.Logger(ctx).Sugar().Warnf("no requested asset in granule")
		return common.Result{Unit: granule.Key, Status: common.StatusSKIPPED, Message: "no requested asset"}
	}

	qualityOut := ""
	qualityRef := ""
	if needQuality {
		var err error
		if qualityRef, qualityOut, err = resolveQuality(granule, params); err != nil {
			return failure(granule, fmt.Errorf("ProcessGranule[%s].%w", tag, err))
		}
	}

	// a granule whose outputs all exist has already been processed
	assets = pending(ctx, assets)
	qualityPending := qualityOut != "" && !exists(qualityOut)
	if len(assets) == 0 && !qualityPending {
		log.Logger(ctx).Sugar().Infof("already processed, skipping")
		return common.Result{Unit: granule.Key, Status: common.StatusSKIPPED, Message: "outputs exist"}
	}

	var quality *raster.Raster
	if qualityPending || (params.QualityFilter && len(assets) > 0) {
		var err error
		quality, err = raster.Open(ctx, params.Env, qualityRef, raster.OpenOptions{
			ROI:      params.ROI,
			Quality:  true,
			Chunking: params.Chunking,
		})
		if errors.As(err, &raster.SpatialMismatchError{}) {
			log.Logger(ctx).Sugar().Infof("granule does not overlap the region of interest, skipping")
			return common.Result{Unit: granule.Key, Status: common.StatusSKIPPED, Message: "no overlap"}
		} else if err != nil {
			// without the quality band the masking contract cannot be honored
			return failure(granule, fmt.Errorf("ProcessGranule[%s].%w", tag, err))
		}
	}

	var errs []error
	written := 0
	if qualityPending {
		if err := write(ctx, quality, qualityOut); err != nil {
			errs = append(errs, fmt.Errorf("ProcessGranule[%s][%s].%w", tag, common.FmaskCode, err))
		} else {
			written++
		}
	}

	var mask []bool
	if params.QualityFilter && len(assets) > 0 {
		bits := params.QualityBits
		if len(bits) == 0 {
			bits = common.DefaultQualityBits
		}
		mask = DecodeMask(quality.Data, quality.NoData, bits)
	}

	// one asset failing does not abort the others
	for _, a := range assets {
		if err := processAsset(ctx, a, mask, params); err != nil {
			if errors.As(err, &raster.SpatialMismatchError{}) {
				log.Logger(ctx).Sugar().Warnf("asset %s does not overlap the region of interest, skipping", a.info.Code)
				continue
			}
			log.Logger(ctx).Sugar().Errorf("asset %s: %v", a.info.Code, err)
			errs = append(errs, fmt.Errorf("ProcessGranule[%s][%s].%w", tag, a.info.Code, err))
			continue
		}
		written++
	}
	if len(errs) > 0 {
		err := service.MergeErrors(true, errs[0], errs[1:]...)
		status := common.StatusFAILED
		if service.Temporary(err) {
			status = common.StatusRETRY
		}
		return common.Result{Unit: granule.Key, Status: status, Message: err.Error()}
	}
	log.Logger(ctx).Sugar().Infof("%d asset(s) written", written)
	return common.Result{Unit: granule.Key, Status: common.StatusDONE, Message: fmt.Sprintf("%d asset(s) written", written)}
}

// selectAssets resolves the granule's data assets requested by the band table
// and their output names. The quality asset is handled separately and never
// selected here. A malformed asset reference is a data anomaly: it is logged
// and skipped, not retried.
func selectAssets(ctx context.Context, granule common.Granule, params Params) []asset {
	var assets []asset
	for _, ref := range granule.Assets {
		info, err := common.ParseAssetRef(ref)
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("skipping malformed asset %s: %v", ref, err)
			continue
		}
		if info.Code == common.FmaskCode {
			continue
		}
		logical, ok := params.Bands.LogicalName(info.Product, info.Code)
		if !ok {
			continue
		}
		out, err := common.OutputName(ref, *params.Bands)
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("skipping asset %s: %v", ref, err)
			continue
		}
		assets = append(assets, asset{ref: ref, info: info, logical: logical, out: filepath.Join(params.OutputDir, out)})
	}
	return assets
}

// resolveQuality returns the granule's quality asset reference and output
// path. The reference is synthesized from any sibling asset when the granule
// does not list one.
func resolveQuality(granule common.Granule, params Params) (string, string, error) {
	ref := ""
	for _, r := range granule.Assets {
		if info, err := common.ParseAssetRef(r); err == nil && info.Code == common.FmaskCode {
			ref = r
			break
		}
	}
	if ref == "" {
		if len(granule.Assets) == 0 {
			return "", "", fmt.Errorf("resolveQuality: empty granule")
		}
		var err error
		if ref, err = common.QualityAssetRef(granule.Assets[0]); err != nil {
			return "", "", fmt.Errorf("resolveQuality.%w", err)
		}
	}
	out, err := common.OutputName(ref, *params.Bands)
	if err != nil {
		return "", "", fmt.Errorf("resolveQuality.%w", err)
	}
	return ref, filepath.Join(params.OutputDir, out), nil
}

func fmaskRequested(bands *common.BandTable) bool {
	for _, p := range bands.Products() {
		if _, ok := bands.NativeCode(p, common.FmaskBand); ok {
			return true
		}
	}
	return false
}

// pending filters out the assets whose output already exists, noting each
// asset a resumed run will not redo
func pending(ctx context.Context, assets []asset) []asset {
	var remaining []asset
	for _, a := range assets {
		if exists(a.out) {
			log.Logger(ctx).Sugar().Infof("asset %s already processed, skipping %s", a.info.Code, filepath.Base(a.out))
			continue
		}
		remaining = append(remaining, a)
	}
	return remaining
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// processAsset clips, masks, scales and writes one data asset
func processAsset(ctx context.Context, a asset, mask []bool, params Params) error {
	r, err := raster.Open(ctx, params.Env, a.ref, raster.OpenOptions{
		ROI:          params.ROI,
		ApplyScale:   params.ApplyScale,
		DefaultScale: common.DefaultScale(a.logical),
		Chunking:     params.Chunking,
	})
	if err != nil {
		return fmt.Errorf("processAsset.%w", err)
	}
	if mask != nil {
		if len(mask) != len(r.Data) {
			return fmt.Errorf("processAsset: quality grid %d px does not match asset grid %dx%d", len(mask), r.Width, r.Height)
		}
		ApplyMask(r.Data, mask, r.Missing())
	}
	return write(ctx, r, a.out)
}

func write(ctx context.Context, r *raster.Raster, path string) error {
	wrote, err := raster.WriteCOG(r, path)
	if err != nil {
		return fmt.Errorf("write.%w", err)
	}
	if !wrote {
		// a concurrent worker got there first, the output is complete either way
		log.Logger(ctx).Sugar().Infof("output exists, skipping %s", filepath.Base(path))
	}
	return nil
}

func failure(granule common.Granule, err error) common.Result {
	status := common.StatusFAILED
	if service.Temporary(err) {
		status = common.StatusRETRY
	}
	return common.Result{Unit: granule.Key, Status: status, Message: err.Error()}
}
