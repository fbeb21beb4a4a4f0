package processor

// DecodeMask expands a bit-packed quality band into a rejection mask. A pixel
// is rejected when any of the selected bits is set in its quality value. The
// quality no-data value carries no quality information and is treated as an
// all-clear word, so unobserved pixels are never rejected by the mask alone.
func DecodeMask(quality []float32, nodata float64, bits []int) []bool {
	var selected uint32
	for _, b := range bits {
		selected |= 1 << uint(b)
	}
	mask := make([]bool, len(quality))
	nd := float32(nodata)
	for i, v := range quality {
		if v == nd {
			continue
		}
		mask[i] = uint32(v)&selected != 0
	}
	return mask
}

// ApplyMask writes the missing marker over every rejected pixel
func ApplyMask(data []float32, mask []bool, missing float32) {
	for i, rejected := range mask {
		if rejected {
			data[i] = missing
		}
	}
}
