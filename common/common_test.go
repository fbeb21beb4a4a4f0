package common

import (
	"errors"
	"testing"
	"time"
)

const (
	assetRED   = "https://data.lpdaac.earthdatacloud.nasa.gov/lp-prod-protected/HLSS30.020/HLS.S30.T15TUH.2020273T163839.v2.0/HLS.S30.T15TUH.2020273T163839.v2.0.B04.tif"
	assetFmask = "https://data.lpdaac.earthdatacloud.nasa.gov/lp-prod-protected/HLSS30.020/HLS.S30.T15TUH.2020273T163839.v2.0/HLS.S30.T15TUH.2020273T163839.v2.0.Fmask.tif"
)

func mustTable(t *testing.T, products []Product, bands []string) BandTable {
	t.Helper()
	table, err := NewBandTable(products, bands)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestParseAssetRef(t *testing.T) {
	info, err := ParseAssetRef(assetRED)
	if err != nil {
		t.Fatal(err)
	}
	if info.Product != HLSS30 {
		t.Errorf("expected HLSS30, got %s", info.Product)
	}
	if info.Tile != "T15TUH" {
		t.Errorf("expected T15TUH, got %s", info.Tile)
	}
	if info.Timestamp != "2020273T163839" {
		t.Errorf("expected 2020273T163839, got %s", info.Timestamp)
	}
	if info.Version != "v2.0" {
		t.Errorf("expected v2.0, got %s", info.Version)
	}
	if info.Code != "B04" {
		t.Errorf("expected B04, got %s", info.Code)
	}
	if info.GranuleKey() != "T15TUH.2020273T163839" {
		t.Errorf("unexpected granule key %s", info.GranuleKey())
	}
	date, err := info.Time()
	if err != nil {
		t.Fatal(err)
	}
	expected := time.Date(2020, 9, 29, 16, 38, 39, 0, time.UTC)
	if !date.Equal(expected) {
		t.Errorf("expected %v, got %v", expected, date)
	}

	if _, err := ParseAssetRef("https://example.com/HLS.S30.tif"); err == nil {
		t.Error("too short asset name")
	}
	if _, err := ParseAssetRef("https://example.com/HLS.X30.T15TUH.2020273T163839.v2.0.B04.tif"); err == nil {
		t.Error("unknown product token")
	}
}

func TestOutputName(t *testing.T) {
	table := mustTable(t, []Product{HLSS30}, []string{"RED", "BLUE"})

	name, err := OutputName(assetRED, table)
	if err != nil {
		t.Fatal(err)
	}
	if name != "HLS.S30.T15TUH.2020273T163839.v2.0.RED.subset.tif" {
		t.Errorf("unexpected output name %s", name)
	}

	// deterministic
	name2, err := OutputName(assetRED, table)
	if err != nil || name2 != name {
		t.Errorf("expected %s, got %s (%v)", name, name2, err)
	}

	// the quality asset resolves to FMASK even though it is not requested
	name, err = OutputName(assetFmask, table)
	if err != nil {
		t.Fatal(err)
	}
	if name != "HLS.S30.T15TUH.2020273T163839.v2.0.FMASK.subset.tif" {
		t.Errorf("unexpected quality output name %s", name)
	}

	// unknown band code
	_, err = OutputName("https://example.com/HLS.S30.T15TUH.2020273T163839.v2.0.B99.tif", table)
	var nameErr NameResolutionError
	if !errors.As(err, &nameErr) {
		t.Errorf("expected a NameResolutionError, got %v", err)
	}

	// a requested band not in the table for this product
	_, err = OutputName("https://example.com/HLS.S30.T15TUH.2020273T163839.v2.0.B11.tif", table)
	if !errors.As(err, &nameErr) {
		t.Errorf("expected a NameResolutionError for an unrequested band, got %v", err)
	}
}

func TestQualityAssetRef(t *testing.T) {
	ref, err := QualityAssetRef(assetRED)
	if err != nil {
		t.Fatal(err)
	}
	if ref != assetFmask {
		t.Errorf("expected %s, got %s", assetFmask, ref)
	}
}

func TestParseOutputName(t *testing.T) {
	r, err := ParseOutputName("/out/HLS.S30.T15TUH.2020273T163839.v2.0.RED.subset.tif")
	if err != nil {
		t.Fatal(err)
	}
	if r.Tile != "T15TUH" || r.Band != "RED" {
		t.Errorf("unexpected record %+v", r)
	}
	if !r.Time.Equal(time.Date(2020, 9, 29, 16, 38, 39, 0, time.UTC)) {
		t.Errorf("unexpected time %v", r.Time)
	}

	_, err = ParseOutputName("HLS.S30.T15TUH.20202730163839.v2.0.RED.subset.tif")
	var tperr TemporalParseError
	if !errors.As(err, &tperr) {
		t.Errorf("expected a TemporalParseError, got %v", err)
	}

	if _, err := ParseOutputName("HLS.S30.T15TUH.2020273T163839.v2.0.RED.tif"); err == nil {
		t.Error("expected an error for a non-subset raster")
	}
}

func TestNewBandTable(t *testing.T) {
	table := mustTable(t, []Product{HLSS30, HLSL30}, []string{"RED", "TIR1"})
	if code, ok := table.NativeCode(HLSS30, "RED"); !ok || code != "B04" {
		t.Errorf("expected B04, got %s (%v)", code, ok)
	}
	// TIR1 only exists for HLSL30
	if _, ok := table.NativeCode(HLSS30, "TIR1"); ok {
		t.Error("TIR1 must not resolve for HLSS30")
	}
	if code, ok := table.NativeCode(HLSL30, "TIR1"); !ok || code != "B10" {
		t.Errorf("expected B10, got %s (%v)", code, ok)
	}
	// reverse lookup
	if logical, ok := table.LogicalName(HLSL30, "B10"); !ok || logical != "TIR1" {
		t.Errorf("expected TIR1, got %s (%v)", logical, ok)
	}
	// the quality layer is always resolvable
	if logical, ok := table.LogicalName(HLSS30, FmaskCode); !ok || logical != FmaskBand {
		t.Errorf("expected %s, got %s (%v)", FmaskBand, logical, ok)
	}

	if _, err := NewBandTable([]Product{HLSS30}, []string{"NOT-A-BAND"}); err == nil {
		t.Error("expected an error for an unknown band")
	}
	if _, err := NewBandTable(nil, []string{"RED"}); err == nil {
		t.Error("expected an error without product")
	}

	table = mustTable(t, []Product{HLSS30}, []string{"ALL"})
	if len(table.Mappings(HLSS30)) != 18 {
		t.Errorf("expected 18 bands for ALL, got %d", len(table.Mappings(HLSS30)))
	}
}

func TestDefaultScale(t *testing.T) {
	if s := DefaultScale("RED"); s != 0.0001 {
		t.Errorf("expected 0.0001, got %g", s)
	}
	if s := DefaultScale("VZA"); s != 0.01 {
		t.Errorf("expected 0.01, got %g", s)
	}
	if s := DefaultScale(FmaskBand); s != 0 {
		t.Errorf("the quality layer is never scaled, got %g", s)
	}
}

func TestGranulesFromLinks(t *testing.T) {
	links := []string{
		assetRED,
		assetFmask,
		"https://example.com/HLS.S30.T15TUH.2020273T163839.v2.0.jpg",
		"https://example.com/HLS.S30.T15TUH.2020273T163839.v2.0.cmr.xml",
		"https://example.com/HLS.L30.T15TUH.2020274T170000.v2.0.B04.tif",
		"not-an-asset.tif",
	}
	granules, ancillary, malformed := GranulesFromLinks(links)
	if len(granules) != 2 {
		t.Fatalf("expected 2 granules, got %d", len(granules))
	}
	if granules[0].Key != "T15TUH.2020273T163839" || len(granules[0].Assets) != 2 {
		t.Errorf("unexpected granule %+v", granules[0])
	}
	if granules[1].Key != "T15TUH.2020274T170000" || len(granules[1].Assets) != 1 {
		t.Errorf("unexpected granule %+v", granules[1])
	}
	if len(ancillary) != 2 {
		t.Errorf("expected 2 ancillary files, got %d", len(ancillary))
	}
	if len(malformed) != 1 {
		t.Errorf("expected 1 malformed link, got %d", len(malformed))
	}
}
