package raster

import (
	"math"
	"testing"
)

func TestScaleInPlace(t *testing.T) {
	data := []float32{-9999, 0, 1000, 2500, -9999}
	scaleInPlace(data, -9999, 0.0001)
	if !math.IsNaN(float64(data[0])) || !math.IsNaN(float64(data[4])) {
		t.Errorf("nodata values must become NaN, got %v %v", data[0], data[4])
	}
	for i, want := range []float32{0, 0.1, 0.25} {
		if got := data[i+1]; got != want {
			t.Errorf("expected %v at %d, got %v", want, i+1, got)
		}
	}
}

func TestMissing(t *testing.T) {
	r := &Raster{NoData: -9999}
	if r.IsMissing(0) || !r.IsMissing(-9999) {
		t.Errorf("unscaled raster must use the nodata sentinel as missing marker")
	}
	if r.IsMissing(float32(math.NaN())) {
		t.Errorf("NaN is not the missing marker of an unscaled raster")
	}
	r.scaled = true
	if !r.IsMissing(float32(math.NaN())) {
		t.Errorf("scaled raster must use NaN as missing marker")
	}
	if r.IsMissing(-9999) {
		t.Errorf("sentinel values are ordinary data once scaled")
	}
	if !math.IsNaN(float64(r.Missing())) {
		t.Errorf("expected NaN missing marker, got %v", r.Missing())
	}
}

func TestSentinelized(t *testing.T) {
	nan := float32(math.NaN())
	r := &Raster{Data: []float32{nan, 0.25, nan}, NoData: -9999, scaled: true}
	out := sentinelized(r)
	if out[0] != -9999 || out[2] != -9999 {
		t.Errorf("NaN must be written as the nodata sentinel, got %v %v", out[0], out[2])
	}
	if out[1] != 0.25 {
		t.Errorf("expected 0.25, got %v", out[1])
	}
	if math.IsNaN(float64(r.Data[0])) == false {
		t.Errorf("source data must not be modified")
	}

	r = &Raster{Data: []float32{-9999, 1000}, NoData: -9999}
	if &sentinelized(r)[0] != &r.Data[0] {
		t.Errorf("unscaled raster needs no copy")
	}
}

func TestVSIPath(t *testing.T) {
	tests := map[string]string{
		"https://data.lpdaac.earthdatacloud.nasa.gov/a/b.tif": "/vsicurl/https://data.lpdaac.earthdatacloud.nasa.gov/a/b.tif",
		"http://example.com/b.tif":                            "/vsicurl/http://example.com/b.tif",
		"/local/path/b.tif":                                   "/local/path/b.tif",
		"s3://bucket/key/b.tif":                               "s3://bucket/key/b.tif",
	}
	for in, want := range tests {
		if got := vsiPath(in); got != want {
			t.Errorf("vsiPath(%s): expected %s, got %s", in, want, got)
		}
	}
}

func TestConfigOptions(t *testing.T) {
	env := DefaultEnv("/tmp/cookies.txt")
	opts := env.configOptions()
	found := map[string]bool{}
	for _, o := range opts {
		found[o] = true
	}
	for _, want := range []string{
		"GDAL_DISABLE_READDIR_ON_OPEN=EMPTY_DIR",
		"GDAL_HTTP_COOKIEFILE=/tmp/cookies.txt",
		"GDAL_HTTP_COOKIEJAR=/tmp/cookies.txt",
		"GDAL_HTTP_MAX_RETRY=10",
		"CPL_VSIL_CURL_ALLOWED_EXTENSIONS=TIF",
	} {
		if !found[want] {
			t.Errorf("missing config option %s in %v", want, opts)
		}
	}
}
