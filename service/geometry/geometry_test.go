package geometry

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulsmith/gogeos/geos"
)

func checkGeomEquality(wkt1, wkt2 string) error {
	geom1, err := geos.FromWKT(wkt1)
	if err != nil {
		return err
	}
	geom2, err := geos.FromWKT(wkt2)
	if err != nil {
		return err
	}
	if equal, err := geom1.Equals(geom2); err != nil {
		return err
	} else if !equal {
		return fmt.Errorf("not equal")
	}
	return nil
}

func TestFromBBox(t *testing.T) {
	roi, err := FromBBox("-120,43,-118,48")
	if err != nil {
		t.Fatal(err)
	}
	expected := "POLYGON ((-120 43, -118 43, -118 48, -120 48, -120 43))"
	if err := checkGeomEquality(roi.WKT(), expected); err != nil {
		t.Errorf("expect %s found %s (%v)", expected, roi.WKT(), err)
	}

	if _, err := FromBBox("-120,43,-118"); err == nil {
		t.Error("expecting an error with 3 coordinates")
	}
	if _, err := FromBBox("-118,43,-120,48"); err == nil {
		t.Error("expecting an error with swapped corners")
	}
}

func TestFromGeoJSONSingleFeature(t *testing.T) {
	data := []byte(`{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[129,-11],[130,-11],[130,-12],[129,-12],[129,-11]]]}}`)
	roi, note, err := FromGeoJSON(data, FirstFeature)
	if err != nil {
		t.Fatal(err)
	}
	if note != "" {
		t.Errorf("unexpected note for a single feature: %s", note)
	}
	if err := checkGeomEquality(roi.WKT(), "POLYGON ((129 -11, 130 -11, 130 -12, 129 -12, 129 -11))"); err != nil {
		t.Error(err)
	}
}

func TestFromGeoJSONMultiFeature(t *testing.T) {
	data := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[129,-11],[130,-11],[130,-12],[129,-12],[129,-11]]]}},
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[130,-12],[131,-12],[131,-13],[130,-13],[130,-12]]]}}]}`)

	roi, note, err := FromGeoJSON(data, FirstFeature)
	if err != nil {
		t.Fatal(err)
	}
	if note == "" {
		t.Error("expecting a reduction note for a multi-feature input")
	}
	if err := checkGeomEquality(roi.WKT(), "POLYGON ((129 -11, 130 -11, 130 -12, 129 -12, 129 -11))"); err != nil {
		t.Error(err)
	}

	roi, _, err = FromGeoJSON(data, ConvexHull)
	if err != nil {
		t.Fatal(err)
	}
	hull, err := roi.Geos()
	if err != nil {
		t.Fatal(err)
	}
	for _, wkt := range []string{
		"POLYGON ((129 -11, 130 -11, 130 -12, 129 -12, 129 -11))",
		"POLYGON ((130 -12, 131 -12, 131 -13, 130 -13, 130 -12))",
	} {
		g, err := geos.FromWKT(wkt)
		if err != nil {
			t.Fatal(err)
		}
		if contains, err := hull.Contains(g); err != nil || !contains {
			t.Errorf("convex hull must contain %s (%v)", wkt, err)
		}
	}
}

func TestIntersects(t *testing.T) {
	roi, err := FromBBox("-120,43,-118,48")
	if err != nil {
		t.Fatal(err)
	}
	g, _ := geos.FromWKT("POLYGON ((-119 44, -118.5 44, -118.5 45, -119 45, -119 44))")
	if ok, err := roi.Intersects(g); err != nil || !ok {
		t.Errorf("expecting intersection (%v)", err)
	}
	g, _ = geos.FromWKT("POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))")
	if ok, err := roi.Intersects(g); err != nil || ok {
		t.Errorf("expecting no intersection (%v)", err)
	}
}

func TestMaterializeCutline(t *testing.T) {
	roi, err := FromBBox("-120,43,-118,48")
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	path, err := roi.MaterializeCutline(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("cutline not in %s: %s", dir, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error(err)
	}
	// the cutline is materialized once
	path2, err := roi.MaterializeCutline(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if path2 != path {
		t.Errorf("expecting the same cutline, got %s and %s", path, path2)
	}
}
