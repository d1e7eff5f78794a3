// Package utils holds small numeric and byte-slice helpers shared across
// the pipeline. Adapted from the teacher's utils/utils.go: kept the
// helpers with real call sites elsewhere in this module (MinInt,
// BytesEqual2, SaturatingAddUint16), dropped CheckGlobalArgs/ArgsOpt --
// those were odin-cli-flag-bag-specific and are replaced by the explicit
// per-package Config structs spec.md section 9 asks for
// ("move global mutable state ... into explicit configuration records
// threaded through the pipeline").
package utils

// MinInt returns the smaller of a and b.
func MinInt(a, b int) int {
	if a > b {
		return b
	}
	return a
}

// SaturatingAddUint16 saturates to 0xFFFF when a+b overflows -- used by the
// k-mer count merge (spec.md section 4.2: "counts saturate at 2^16-1").
func SaturatingAddUint16(a, b uint16) uint16 {
	sum := uint32(a) + uint32(b)
	if sum > 0xFFFF {
		return 0xFFFF
	}
	return uint16(sum)
}

// BytesEqual2 compares two byte slices element by element, matching the
// teacher's fallback (non-unsafe) byte-slice comparison.
func BytesEqual2(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
