// Package mathx contains small numeric helpers
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// Sign returns -1 for negative numbers and 1 otherwise
func Sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
