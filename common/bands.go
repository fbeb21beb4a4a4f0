package common

import (
	"fmt"
	"sort"
	"strings"
)

// Product identifies an HLS collection
type Product string

const (
	// HLSS30 is the Sentinel-2 based surface reflectance product
	HLSS30 Product = "HLSS30"
	// HLSL30 is the Landsat based surface reflectance product
	HLSL30 Product = "HLSL30"
)

const (
	// ProcessingVersion of the HLS collections
	ProcessingVersion = "v2.0"

	// FmaskBand is the reserved logical name of the bit-packed quality layer.
	// It is always resolvable, even when absent from the user's band selection.
	FmaskBand = "FMASK"
	// FmaskCode is the provider-native code of the quality layer
	FmaskCode = "Fmask"

	// NoDataValue is the fill value of the HLS data bands
	NoDataValue = -9999
	// FmaskNoData is the fill value of the quality layer
	FmaskNoData = 255
)

// DefaultQualityBits are the Fmask bits selected for quality filtering:
// cirrus, cloud, adjacent-to-cloud, cloud shadow, snow/ice and water
var DefaultQualityBits = []int{0, 1, 2, 3, 4, 5}

// ShortName returns the collection short name used by the catalog
func (p Product) ShortName() string {
	return fmt.Sprintf("%s.%s", p, ProcessingVersion)
}

// Token returns the product token of the granule ids (e.g. "S30" in
// HLS.S30.T15TUH.2020273T163839.v2.0)
func (p Product) Token() string {
	return strings.TrimPrefix(string(p), "HLS")
}

// ProductFromToken returns the Product from a granule id token
func ProductFromToken(token string) (Product, error) {
	switch token {
	case "S30":
		return HLSS30, nil
	case "L30":
		return HLSL30, nil
	}
	return "", fmt.Errorf("unknown product token: %s", token)
}

// BandMapping associates a logical band name with its provider-native code
type BandMapping struct {
	Logical string
	Native  string
}

// lut maps each product to its ordered list of (logical name, native code)
var lut = map[Product][]BandMapping{
	HLSS30: {
		{"COASTAL-AEROSOL", "B01"},
		{"BLUE", "B02"},
		{"GREEN", "B03"},
		{"RED", "B04"},
		{"RED-EDGE1", "B05"},
		{"RED-EDGE2", "B06"},
		{"RED-EDGE3", "B07"},
		{"NIR-Broad", "B08"},
		{"NIR1", "B8A"},
		{"WATER-VAPOR", "B09"},
		{"CIRRUS", "B10"},
		{"SWIR1", "B11"},
		{"SWIR2", "B12"},
		{FmaskBand, FmaskCode},
		{"VZA", "VZA"},
		{"VAA", "VAA"},
		{"SZA", "SZA"},
		{"SAA", "SAA"},
	},
	HLSL30: {
		{"COASTAL-AEROSOL", "B01"},
		{"BLUE", "B02"},
		{"GREEN", "B03"},
		{"RED", "B04"},
		{"NIR1", "B05"},
		{"SWIR1", "B06"},
		{"SWIR2", "B07"},
		{"CIRRUS", "B09"},
		{"TIR1", "B10"},
		{"TIR2", "B11"},
		{FmaskBand, FmaskCode},
		{"VZA", "VZA"},
		{"VAA", "VAA"},
		{"SZA", "SZA"},
		{"SAA", "SAA"},
	},
}

// scales are the default scale factors per logical band (0: never scaled)
var scales = map[string]float64{
	"VZA": 0.01, "VAA": 0.01, "SZA": 0.01, "SAA": 0.01,
	"TIR1": 0.01, "TIR2": 0.01,
	FmaskBand: 0,
}

// DefaultScale returns the scale factor of a band when the asset does not
// declare one. Reflectance bands are scaled by 0.0001, angle and thermal
// bands by 0.01, the quality layer is never scaled.
func DefaultScale(logical string) float64 {
	if s, ok := scales[logical]; ok {
		return s
	}
	return 0.0001
}

// BandTable is the two-level association product → (logical name, native code),
// constructed once per run from the user-selected products and bands, and
// read-only thereafter.
type BandTable struct {
	mappings map[Product][]BandMapping
	reverse  map[Product]map[string]string // product → native code → logical name
}

// NewBandTable builds and validates the band lookup table for the selected
// products. bands are logical names, or "ALL" for every band of each product.
// A band unknown to every selected product is an error.
func NewBandTable(products []Product, bands []string) (BandTable, error) {
	t := BandTable{
		mappings: map[Product][]BandMapping{},
		reverse:  map[Product]map[string]string{},
	}
	if len(products) == 0 {
		return t, fmt.Errorf("NewBandTable: no product selected")
	}
	for _, p := range products {
		all, ok := lut[p]
		if !ok {
			return t, fmt.Errorf("NewBandTable: unknown product: %s", p)
		}
		t.reverse[p] = map[string]string{}
		for _, band := range bands {
			band = strings.ToUpper(strings.TrimSpace(band))
			if band == "ALL" {
				t.mappings[p] = append([]BandMapping{}, all...)
				break
			}
			if m, ok := lookup(all, band); ok {
				t.mappings[p] = append(t.mappings[p], m)
			}
		}
		for _, m := range t.mappings[p] {
			t.reverse[p][m.Native] = m.Logical
		}
		// the quality layer is always resolvable, even when not requested
		t.reverse[p][FmaskCode] = FmaskBand
	}

	// every requested band must exist in at least one product
	for _, band := range bands {
		band = strings.ToUpper(strings.TrimSpace(band))
		if band == "ALL" {
			continue
		}
		found := false
		for _, p := range products {
			if _, ok := lookup(lut[p], band); ok {
				found = true
				break
			}
		}
		if !found {
			return t, fmt.Errorf("NewBandTable: unknown band: %s (valid bands: %s)", band, strings.Join(ValidBands(), ", "))
		}
	}
	return t, nil
}

func lookup(mappings []BandMapping, logical string) (BandMapping, bool) {
	for _, m := range mappings {
		if strings.EqualFold(m.Logical, logical) {
			return m, true
		}
	}
	return BandMapping{}, false
}

// ValidBands returns the logical names known to at least one product
func ValidBands(products ...Product) []string {
	if len(products) == 0 {
		products = []Product{HLSS30, HLSL30}
	}
	set := map[string]struct{}{}
	for _, p := range products {
		for _, m := range lut[p] {
			set[m.Logical] = struct{}{}
		}
	}
	bands := make([]string, 0, len(set))
	for b := range set {
		bands = append(bands, b)
	}
	sort.Strings(bands)
	return bands
}

// Products returns the selected products, sorted
func (t BandTable) Products() []Product {
	products := make([]Product, 0, len(t.mappings))
	for p := range t.mappings {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i] < products[j] })
	return products
}

// Mappings returns the ordered (logical, native) pairs of the product
func (t BandTable) Mappings(p Product) []BandMapping {
	return t.mappings[p]
}

// NativeCode returns the provider-native code of a logical band
func (t BandTable) NativeCode(p Product, logical string) (string, bool) {
	for _, m := range t.mappings[p] {
		if strings.EqualFold(m.Logical, logical) {
			return m.Native, true
		}
	}
	return "", false
}

// LogicalName recovers the logical band name from a provider-native code
func (t BandTable) LogicalName(p Product, native string) (string, bool) {
	logical, ok := t.reverse[p][native]
	return logical, ok
}
