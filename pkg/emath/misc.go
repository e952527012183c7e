package emath

import "math"

// Some functions that only operate on basic types, that are useful

// https://www.sjbrown.co.uk/posts/gamma-correct-rendering/ - "linear RGB to sRGB"
// `f` is assumed to be in the range [0,1]
func GammaExpand_F64(f float64) float64 {
	if f <= 0.0031308 {
		return 12.92 * f
	}
	return 1.055 * math.Pow(f, 1.0/2.4) - 0.055
}

// ClampU8 rounds and saturates into a byte, like a saturate_cast.
func ClampU8(f float64) uint8 {
	if f <= 0 || math.IsNaN(f) {
		return 0
	} else if f >= 255 {
		return 255
	}
	return uint8(f + 0.5)
}

func ClampInt(v, lo, hi int) int {
	if v < lo { return lo }
	if v > hi { return hi }
	return v
}

// The inverse of GammaExpand_F64: sRGB back to linear, `f` in [0,1].
func GammaLinearize_F64(f float64) float64 {
	if f <= 0.04045 {
		return f / 12.92
	}
	return math.Pow((f + 0.055) / 1.055, 2.4)
}
