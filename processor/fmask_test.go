package processor

import (
	"math"
	"testing"

	"github.com/lpdaac/hls-super/common"
)

func TestDecodeMask(t *testing.T) {
	// bit 1 is cloud, bit 3 is cloud shadow
	quality := []float32{
		0,          // all clear
		1 << 1,     // cloud
		1 << 3,     // shadow
		1<<6 | 1<<7, // only aerosol bits
		255,        // no data
	}
	mask := DecodeMask(quality, common.FmaskNoData, common.DefaultQualityBits)
	want := []bool{false, true, true, false, false}
	for i := range want {
		if mask[i] != want[i] {
			t.Errorf("pixel %d: expected %v, got %v (quality %v)", i, want[i], mask[i], quality[i])
		}
	}
}

func TestDecodeMaskBitSelection(t *testing.T) {
	quality := []float32{1 << 1, 1 << 3}
	mask := DecodeMask(quality, common.FmaskNoData, []int{3})
	if mask[0] {
		t.Errorf("bit 1 is not selected, pixel must not be rejected")
	}
	if !mask[1] {
		t.Errorf("bit 3 is selected, pixel must be rejected")
	}

	// no selected bits rejects nothing
	for i, rejected := range DecodeMask(quality, common.FmaskNoData, nil) {
		if rejected {
			t.Errorf("pixel %d rejected with an empty bit selection", i)
		}
	}
}

func TestApplyMask(t *testing.T) {
	nan := float32(math.NaN())
	data := []float32{0.1, 0.2, 0.3}
	ApplyMask(data, []bool{false, true, false}, nan)
	if data[0] != 0.1 || data[2] != 0.3 {
		t.Errorf("unmasked pixels must be untouched, got %v", data)
	}
	if !math.IsNaN(float64(data[1])) {
		t.Errorf("masked pixel must hold the missing marker, got %v", data[1])
	}
}
