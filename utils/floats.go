package utils

import "math"

// Clamp limits `value` to [lower, upper].
func Clamp(value, lower, upper float64) float64 {
	return math.Min(math.Max(value, lower), upper)
}

// Sign returns -1, 0 or 1. Unlike math.Copysign, zero maps to zero.
func Sign(value float64) float64 {
	switch {
	case value > 0:
		return 1
	case value < 0:
		return -1
	default:
		return 0
	}
}

// AllFinite reports whether no element is NaN or infinite.
func AllFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
