// Package numeric provides the shared floating-point utilities used by the
// pricing and arbitrage packages: approximate comparison with an explicit
// epsilon, and root-finding by bisection over a monotonic function.
//
// Bisection is implemented once here with a hard iteration cap so that every
// iterative solve in the engine is bounded by construction.
package numeric

import "math"

// Epsilon is the default tolerance for amount comparisons.
const Epsilon = 1e-7

// MaxBisectionIterations bounds BinarySearch. A float64 interval collapses to
// a single representable midpoint in well under 2048 halvings; the cap exists
// so a misbehaving comparator can never loop forever.
const MaxBisectionIterations = 4096

// Equal reports whether a and b differ by less than Epsilon.
func Equal(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// EqualWithin reports whether a and b differ by less than eps.
func EqualWithin(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

// GreaterEqual reports a >= b up to Epsilon.
func GreaterEqual(a, b float64) bool {
	return a > b || Equal(a, b)
}

// LesserEqual reports a <= b up to Epsilon.
func LesserEqual(a, b float64) bool {
	return a < b || Equal(a, b)
}

// BinarySearch finds a root of the monotonically increasing comparator f on
// [min, max] by bisection. It returns the midpoint at which f is zero, or the
// last midpoint once the interval can no longer be halved at float64
// precision (or the iteration cap is reached).
//
// The comparator returns a negative value when the probe is below the root
// and a positive value when above; BinarySearch itself never calls f outside
// (min, max).
func BinarySearch(min, max float64, f func(x float64) float64) float64 {
	var mid float64
	for i := 0; i < MaxBisectionIterations; i++ {
		mid = min + (max-min)/2
		if mid == min || mid == max {
			break
		}
		c := f(mid)
		if c == 0 {
			break
		} else if c > 0 {
			max = mid
		} else {
			min = mid
		}
	}
	return mid
}
