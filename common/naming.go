package common

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// HLS granule assets are named
//   HLS.S30.T15TUH.2020273T163839.v2.0.B04.tif
// and the subset rasters produced by the processor are named
//   HLS.S30.T15TUH.2020273T163839.v2.0.RED.subset.tif
// The dot-separated token positions (from the right) are a contract: the
// timeseries assembler recovers tile, acquisition time and band from them.

// OutputSuffix terminates every raster produced by the granule processor
const OutputSuffix = "subset.tif"

// acquisition timestamps are YYYYDDDTHHMMSS (year, day-of-year, time)
const timestampLayout = "2006002T150405"

// NameResolutionError is returned when an asset's band code is not present in
// any product's table. It denotes malformed catalog data and is not retriable.
type NameResolutionError struct {
	Ref  string
	Code string
}

func (e NameResolutionError) Error() string {
	return fmt.Sprintf("unknown band code %q in asset %s", e.Code, e.Ref)
}

// TemporalParseError is returned when a raster filename lacks a well-formed
// acquisition timestamp token.
type TemporalParseError struct {
	File  string
	Token string
}

func (e TemporalParseError) Error() string {
	return fmt.Sprintf("malformed timestamp %q in filename %s", e.Token, e.File)
}

// AssetInfo is the structured form of an HLS asset reference
type AssetInfo struct {
	Product   Product
	Tile      string // e.g. T15TUH
	Timestamp string // e.g. 2020273T163839
	Version   string // e.g. v2.0
	Code      string // provider-native band code, e.g. B04
	stripped  string // granule id without band code and extension
}

// GranuleKey is the tile+timestamp key identifying one observation instance
func (i AssetInfo) GranuleKey() string {
	return i.Tile + "." + i.Timestamp
}

// Time parses the acquisition timestamp
func (i AssetInfo) Time() (time.Time, error) {
	t, err := time.Parse(timestampLayout, i.Timestamp)
	if err != nil {
		return time.Time{}, TemporalParseError{File: i.stripped, Token: i.Timestamp}
	}
	return t, nil
}

// ParseAssetRef parses an asset URL or path into its positional tokens
func ParseAssetRef(ref string) (AssetInfo, error) {
	name := path.Base(refPath(ref))
	base, ok := strings.CutSuffix(name, ".tif")
	if !ok {
		return AssetInfo{}, fmt.Errorf("ParseAssetRef: not a raster asset: %s", name)
	}
	tokens := strings.Split(base, ".")
	// HLS.XXX.TILE.TIMESTAMP.vM.m.CODE
	if len(tokens) < 7 {
		return AssetInfo{}, fmt.Errorf("ParseAssetRef: invalid HLS asset name: %s", name)
	}
	n := len(tokens)
	product, err := ProductFromToken(tokens[n-6])
	if err != nil {
		return AssetInfo{}, fmt.Errorf("ParseAssetRef[%s]: %w", name, err)
	}
	return AssetInfo{
		Product:   product,
		Tile:      tokens[n-5],
		Timestamp: tokens[n-4],
		Version:   tokens[n-3] + "." + tokens[n-2],
		Code:      tokens[n-1],
		stripped:  strings.Join(tokens[:n-1], "."),
	}, nil
}

// OutputName derives the deterministic output filename of an asset:
// <original-id-without-band-and-extension>.<LOGICAL_BAND>.subset.tif.
// The quality asset always resolves to the reserved FMASK logical name, even
// when absent from the user's requested band set.
func OutputName(ref string, table BandTable) (string, error) {
	info, err := ParseAssetRef(ref)
	if err != nil {
		return "", err
	}
	logical := FmaskBand
	if info.Code != FmaskCode {
		var ok bool
		if logical, ok = table.LogicalName(info.Product, info.Code); !ok {
			return "", NameResolutionError{Ref: ref, Code: info.Code}
		}
	}
	return fmt.Sprintf("%s.%s.%s", info.stripped, logical, OutputSuffix), nil
}

// QualityAssetRef synthesizes the quality asset reference of a granule from
// any of its band assets (same path with the band token replaced)
func QualityAssetRef(ref string) (string, error) {
	base, ok := strings.CutSuffix(ref, ".tif")
	if !ok {
		return "", fmt.Errorf("QualityAssetRef: not a raster asset: %s", ref)
	}
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return "", fmt.Errorf("QualityAssetRef: invalid asset name: %s", ref)
	}
	return base[:i+1] + FmaskCode + ".tif", nil
}

// OutputRaster is the structured form of a single-date raster filename
// produced by the granule processor. Filenames are parsed once into this
// record; the assembler never re-parses tokens ad hoc.
type OutputRaster struct {
	Path string
	Tile string
	Band string
	Time time.Time
}

// ParseOutputName parses a single-date raster filename back into a structured
// record. A malformed timestamp yields a TemporalParseError carrying the tile
// and band parsed from the remaining tokens.
func ParseOutputName(p string) (OutputRaster, error) {
	name := path.Base(p)
	tokens := strings.Split(name, ".")
	// HLS.XXX.TILE.TIMESTAMP.vM.m.BAND.subset.tif
	if len(tokens) < 9 || tokens[len(tokens)-2]+"."+tokens[len(tokens)-1] != OutputSuffix {
		return OutputRaster{}, fmt.Errorf("ParseOutputName: not a subset raster: %s", name)
	}
	n := len(tokens)
	r := OutputRaster{
		Path: p,
		Tile: tokens[n-7],
		Band: tokens[n-3],
	}
	t, err := time.Parse(timestampLayout, tokens[n-6])
	if err != nil {
		return r, TemporalParseError{File: name, Token: tokens[n-6]}
	}
	r.Time = t
	return r, nil
}

// refPath strips the query/fragment of URL references
func refPath(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return u.Path
	}
	return ref
}
