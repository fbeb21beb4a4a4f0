package timeseries

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	. "github.com/onsi/gomega"

	"github.com/lpdaac/hls-super/common"
	"github.com/lpdaac/hls-super/raster"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 16, 38, 39, 0, time.UTC)
}

func testStack() tileStack {
	return tileStack{
		tile: "T15TUH",
		bands: map[string][]common.OutputRaster{
			"RED": {
				{Path: "/r/a.tif", Tile: "T15TUH", Band: "RED", Time: date(2020, 9, 29)},
				{Path: "/r/b.tif", Tile: "T15TUH", Band: "RED", Time: date(2020, 10, 4)},
			},
			"NIR1": {
				{Path: "/r/c.tif", Tile: "T15TUH", Band: "NIR1", Time: date(2020, 10, 4)},
			},
		},
	}
}

func TestTimeAxis(t *testing.T) {
	axis := timeAxis(testStack())
	if len(axis) != 2 {
		t.Fatalf("expected 2 dates, got %d", len(axis))
	}
	if !axis[0].Before(axis[1]) {
		t.Errorf("axis must be sorted, got %v", axis)
	}
	if !axis[0].Equal(date(2020, 9, 29)) || !axis[1].Equal(date(2020, 10, 4)) {
		t.Errorf("unexpected axis %v", axis)
	}
}

func TestOutputName(t *testing.T) {
	axis := timeAxis(testStack())
	if got := outputName("T15TUH", axis); got != "HLS.T15TUH.09292020.10042020.subset.nc" {
		t.Errorf("unexpected output name %s", got)
	}
	// a single date collapses the range
	single := []time.Time{date(2021, 1, 2)}
	if got := outputName("T15TUH", single); got != "HLS.T15TUH.01022021.01022021.subset.nc" {
		t.Errorf("unexpected output name %s", got)
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"HLS.S30.T15TUH.2020273T163839.v2.0.RED.subset.tif",
		"HLS.S30.T15TUH.2020278T163901.v2.0.RED.subset.tif",
		"HLS.L30.T16TCK.2020275T164155.v2.0.NIR1.subset.tif",
		"HLS.S30.T15TUH.2020273T163839.v2.0.NIR1.subset.tif",
		"HLS.S30.T15TUH.BADSTAMP.v2.0.NIR1.subset.tif", // malformed timestamp
		"HLS.S30.T15TUH.2020273T163839.v2.0.B04.tif",   // not an output
		"notes.txt",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	stacks, err := scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(stacks) != 2 {
		t.Fatalf("expected 2 tiles, got %d", len(stacks))
	}
	// sorted by tile
	if stacks[0].tile != "T15TUH" || stacks[1].tile != "T16TCK" {
		t.Errorf("unexpected tile order: %s, %s", stacks[0].tile, stacks[1].tile)
	}
	if len(stacks[0].bands["RED"]) != 2 {
		t.Errorf("expected 2 RED rasters for T15TUH, got %d", len(stacks[0].bands["RED"]))
	}
	// a malformed timestamp excludes the band from its tile, not just the file
	if _, ok := stacks[0].bands["NIR1"]; ok {
		t.Errorf("NIR1 must be excluded from T15TUH")
	}
	if len(stacks[1].bands["NIR1"]) != 1 {
		t.Errorf("expected 1 NIR1 raster for T16TCK, got %d", len(stacks[1].bands["NIR1"]))
	}
}

func TestCoordinates(t *testing.T) {
	grid := &raster.Raster{
		Width: 3, Height: 2,
		GeoTransform: [6]float64{300000, 30, 0, 4900020, 0, -30},
	}
	xs, ys := coordinates(grid)
	if len(xs) != 3 || len(ys) != 2 {
		t.Fatalf("expected 3x2 axes, got %dx%d", len(xs), len(ys))
	}
	// pixel centers
	if xs[0] != 300015 || xs[1] != 300045 {
		t.Errorf("unexpected x axis %v", xs)
	}
	if ys[0] != 4900005 || ys[1] != 4899975 {
		t.Errorf("unexpected y axis %v", ys)
	}
}

func TestWriteNetCDF(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "HLS.T15TUH.09292020.10042020.subset.nc")
	axis := []time.Time{date(2020, 9, 29), date(2020, 10, 4)}
	grid := &raster.Raster{
		Width: 2, Height: 2,
		GeoTransform: [6]float64{300000, 30, 0, 4900020, 0, -30},
		Projection:   `PROJCS["UTM Zone 15, Northern Hemisphere"]`,
		NoData:       common.NoDataValue,
	}
	cube := map[string]*bandCube{
		"RED": {
			data: [][]float32{{0.1, 0.2, 0.3, 0.4}, {-9999, 0.6, 0.7, 0.8}},
			fill: common.NoDataValue,
		},
	}

	g.Expect(writeNetCDF(context.Background(), out, "T15TUH", axis, []string{"RED"}, cube, grid)).To(Succeed())

	nc, err := netcdf.Open(out)
	g.Expect(err).NotTo(HaveOccurred())
	defer nc.Close()

	g.Expect(nc.Attributes().Keys()[0]).To(Equal("Conventions"))
	title, ok := nc.Attributes().Get("title")
	g.Expect(ok).To(BeTrue())
	g.Expect(title).To(Equal("HLS"))

	tv, err := nc.GetVarGetter("time")
	g.Expect(err).NotTo(HaveOccurred())
	times, err := tv.Values()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(times).To(Equal([]float64{float64(axis[0].Unix()), float64(axis[1].Unix())}))

	// coordinate variables carry the CF axis hints
	for name, ax := range map[string]string{"time": "T", "x": "X", "y": "Y"} {
		v, err := nc.GetVariable(name)
		g.Expect(err).NotTo(HaveOccurred())
		got, ok := v.Attributes.Get("axis")
		g.Expect(ok).To(BeTrue(), "missing axis attribute on %s", name)
		g.Expect(got).To(Equal(ax))
	}

	rv, err := nc.GetVarGetter("RED")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rv.Dimensions()).To(Equal([]string{"time", "y", "x"}))
	values, err := rv.Values()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(values).To(Equal([][][]float32{
		{{0.1, 0.2}, {0.3, 0.4}},
		{{-9999, 0.6}, {0.7, 0.8}},
	}))

	// no temporary file is left behind
	entries, err := os.ReadDir(dir)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(entries).To(HaveLen(1))
}
