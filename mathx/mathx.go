// Package mathx provides the small numerical toolkit used to build and invert
// calibration curves: evenly spaced grids, least-squares polynomial fits,
// polynomial evaluation and root finding.
//
// Polynomial coefficients are always ordered highest degree first, so
// []float64{a, b, c} is a*x^2 + b*x + c.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Floor(x/unit+0.5) * unit
}

// Linspace returns n evenly spaced samples over the closed interval [start, stop].
// The last sample is exactly stop.  n < 1 yields an empty slice, and n == 1 yields
// []float64{start}.
func Linspace(start, stop float64, n int) []float64 {
	if n < 1 {
		return []float64{}
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// Polyval evaluates the polynomial at x using Horner's method.
// An empty coefficient slice evaluates to zero.
func Polyval(coeffs []float64, x float64) float64 {
	var v float64
	for _, c := range coeffs {
		v = v*x + c
	}
	return v
}
