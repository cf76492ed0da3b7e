package numeric

import (
	"math"
	"testing"
)

func TestBinarySearch_LinearRoot(t *testing.T) {
	root := BinarySearch(0, 10, func(x float64) float64 { return x - 3 })
	if math.Abs(root-3) > 1e-10 {
		t.Errorf("expected root 3, got %v", root)
	}
}

func TestBinarySearch_NonlinearRoot(t *testing.T) {
	// x^2 - 2 = 0 on [0, 2] -> sqrt(2).
	root := BinarySearch(0, 2, func(x float64) float64 { return x*x - 2 })
	if math.Abs(root-math.Sqrt2) > 1e-12 {
		t.Errorf("expected sqrt(2), got %v", root)
	}
}

func TestBinarySearch_RootAtBound(t *testing.T) {
	// Comparator always positive: converges toward min.
	root := BinarySearch(0, 1, func(x float64) float64 { return 1 })
	if root > 1e-300 {
		t.Errorf("expected convergence toward lower bound, got %v", root)
	}
}

func TestBinarySearch_DegenerateInterval(t *testing.T) {
	root := BinarySearch(5, 5, func(x float64) float64 { return x })
	if root != 5 {
		t.Errorf("expected 5 for degenerate interval, got %v", root)
	}
}

func TestBinarySearch_Terminates(t *testing.T) {
	calls := 0
	BinarySearch(0, 1e300, func(x float64) float64 {
		calls++
		return -1 // never converges by comparison, only by precision
	})
	if calls >= MaxBisectionIterations {
		t.Errorf("expected precision-based termination, got %d calls", calls)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b float64
		want bool
	}{
		{1, 1, true},
		{1, 1 + 1e-9, true},
		{1, 1.001, false},
		{0, Epsilon, false},
		{0, Epsilon / 2, true},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestGreaterLesserEqual(t *testing.T) {
	if !GreaterEqual(1, 1+1e-9) {
		t.Error("GreaterEqual should tolerate epsilon-scale differences")
	}
	if !LesserEqual(1+1e-9, 1) {
		t.Error("LesserEqual should tolerate epsilon-scale differences")
	}
	if GreaterEqual(1, 2) {
		t.Error("GreaterEqual(1, 2) should be false")
	}
	if LesserEqual(2, 1) {
		t.Error("LesserEqual(2, 1) should be false")
	}
}
