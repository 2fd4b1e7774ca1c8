package types

import "math"

const floatCmpEpsilon float32 = 1e-6

// Clamp a value to the [min, max] range.
func Clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Check whether two vectors are equal within the given per-component threshold.
func ApproxEqual(v1, v2 Vec4, threshold float32) bool {
	for i := range v1 {
		if float32(math.Abs(float64(v1[i]-v2[i]))) > threshold {
			return false
		}
	}
	return true
}

// Check whether two scalars are equal within the given threshold.
func ApproxEqualScalar(v1, v2, threshold float32) bool {
	return float32(math.Abs(float64(v1-v2))) <= threshold
}

// Returns true if all vector components are neither NaN nor infinite.
func (v Vec4) IsFinite() bool {
	for _, c := range v {
		if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
			return false
		}
	}
	return true
}
