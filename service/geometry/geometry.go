package geometry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
	"github.com/google/uuid"
	"github.com/paulsmith/gogeos/geos"

	"github.com/lpdaac/hls-super/service"
)

var TOLERANCE_GEOG = 0.000001

// ROI is a region of interest, normalized to a single polygon in geographic CRS
// (EPSG:4326). It is immutable and safe to share between concurrent granule
// processings.
type ROI struct {
	wkt string

	cutlineOnce sync.Once
	cutline     string // path of the materialized geojson cutline
	cutlineErr  error
}

// Reduction selects how a multi-feature input is reduced to a single polygon
type Reduction int

const (
	// FirstFeature keeps the first polygon of the input
	FirstFeature Reduction = iota
	// ConvexHull takes the convex hull of the union of all input polygons
	ConvexHull
)

// FromWKT builds an ROI from a polygon WKT in geographic CRS
func FromWKT(wkt string) (*ROI, error) {
	if _, err := geos.FromWKT(wkt); err != nil {
		return nil, fmt.Errorf("FromWKT: %w", err)
	}
	return &ROI{wkt: wkt}, nil
}

// FromBBox builds an ROI from "LLLon,LLLat,URLon,URLat" coordinates
func FromBBox(bbox string) (*ROI, error) {
	fields := strings.Split(bbox, ",")
	if len(fields) != 4 {
		return nil, fmt.Errorf("FromBBox: expecting 4 coordinates, got %d", len(fields))
	}
	c := [4]float64{}
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.Trim(strings.TrimSpace(f), "[]'\""), 64)
		if err != nil {
			return nil, fmt.Errorf("FromBBox[%s]: %w", f, err)
		}
		c[i] = v
	}
	if c[0] >= c[2] || c[1] >= c[3] {
		return nil, fmt.Errorf("FromBBox: lower-left corner must be south-west of upper-right corner")
	}
	wkt := fmt.Sprintf("POLYGON ((%g %g, %g %g, %g %g, %g %g, %g %g))",
		c[0], c[1], c[2], c[1], c[2], c[3], c[0], c[3], c[0], c[1])
	return &ROI{wkt: wkt}, nil
}

// FromGeoJSON builds an ROI from a geojson geometry, feature or featureCollection.
// Multi-feature inputs are reduced to a single polygon according to the given
// Reduction. The returned note is non-empty when such a reduction happened.
func FromGeoJSON(data []byte, reduction Reduction) (*ROI, string, error) {
	g, err := service.UnmarshalGeometry(data)
	if err != nil {
		return nil, "", fmt.Errorf("FromGeoJSON: %w", err)
	}

	switch g := g.(type) {
	case geom.Polygon:
		return &ROI{wkt: geomwkt.MustEncode(g)}, "", nil
	case geom.MultiPolygon:
		polygons := g.Polygons()
		switch len(polygons) {
		case 0:
			return nil, "", fmt.Errorf("FromGeoJSON: no polygon found")
		case 1:
			return &ROI{wkt: geomwkt.MustEncode(geom.Polygon(polygons[0]))}, "", nil
		}
		roi, err := reduce(g, reduction)
		if err != nil {
			return nil, "", fmt.Errorf("FromGeoJSON.%w", err)
		}
		note := fmt.Sprintf("multi-feature region of interest reduced to a single polygon (%s)", reduction)
		return roi, note, nil
	default:
		return nil, "", fmt.Errorf("FromGeoJSON: unsupported geometry type %T", g)
	}
}

// Load builds an ROI from the user input: either a geojson file path or
// bounding-box coordinates
func Load(input string, reduction Reduction) (*ROI, string, error) {
	if fi, err := os.Stat(input); err == nil && !fi.IsDir() {
		data, err := os.ReadFile(input)
		if err != nil {
			return nil, "", fmt.Errorf("Load: %w", err)
		}
		return FromGeoJSON(data, reduction)
	}
	roi, err := FromBBox(strings.Trim(input, "'\""))
	return roi, "", err
}

func reduce(mp geom.MultiPolygon, reduction Reduction) (*ROI, error) {
	switch reduction {
	case FirstFeature:
		return &ROI{wkt: geomwkt.MustEncode(geom.Polygon(mp.Polygons()[0]))}, nil
	case ConvexHull:
		g, err := geos.FromWKT(geomwkt.MustEncode(mp))
		if err != nil {
			return nil, fmt.Errorf("reduce.FromWKT: %w", err)
		}
		if g, err = g.UnaryUnion(); err != nil {
			return nil, fmt.Errorf("reduce.UnaryUnion: %w", err)
		}
		if g, err = g.ConvexHull(); err != nil {
			return nil, fmt.Errorf("reduce.ConvexHull: %w", err)
		}
		wkt, err := g.ToWKT()
		if err != nil {
			return nil, fmt.Errorf("reduce.ToWKT: %w", err)
		}
		return &ROI{wkt: wkt}, nil
	}
	return nil, fmt.Errorf("reduce: unknown reduction %d", reduction)
}

func (r Reduction) String() string {
	if r == ConvexHull {
		return "convex hull of the union"
	}
	return "first feature"
}

// WKT returns the polygon as WKT in geographic CRS
func (r *ROI) WKT() string {
	return r.wkt
}

// Geos returns the polygon as a geos geometry
func (r *ROI) Geos() (*geos.Geometry, error) {
	return geos.FromWKT(r.wkt)
}

// Intersects returns whether the ROI shares some area with the given geometry
// (in geographic CRS)
func (r *ROI) Intersects(g *geos.Geometry) (bool, error) {
	roi, err := r.Geos()
	if err != nil {
		return false, fmt.Errorf("Intersects: %w", err)
	}
	return roi.Intersects(g)
}

// GeoJSON returns the polygon encoded as a geojson geometry
func (r *ROI) GeoJSON() (json.RawMessage, error) {
	g, err := geomwkt.DecodeString(r.wkt)
	if err != nil {
		return nil, fmt.Errorf("GeoJSON.DecodeString: %w", err)
	}
	data, err := json.Marshal(geojson.Geometry{Geometry: g})
	if err != nil {
		return nil, fmt.Errorf("GeoJSON.Marshal: %w", err)
	}
	return data, nil
}

// MaterializeCutline writes the ROI as a geojson file usable as a warp cutline
// and returns its path. The file is created once, on first call, and reused by
// every subsequent call whatever the dir argument.
func (r *ROI) MaterializeCutline(dir string) (string, error) {
	r.cutlineOnce.Do(func() {
		data, err := r.GeoJSON()
		if err != nil {
			r.cutlineErr = fmt.Errorf("MaterializeCutline.%w", err)
			return
		}
		path := filepath.Join(dir, fmt.Sprintf("roi-%s.geojson", uuid.New().String()))
		if err := os.WriteFile(path, data, 0644); err != nil {
			r.cutlineErr = fmt.Errorf("MaterializeCutline.WriteFile: %w", err)
			return
		}
		r.cutline = path
	})
	return r.cutline, r.cutlineErr
}
