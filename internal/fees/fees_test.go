package fees

import (
	"math"
	"testing"
)

func TestTakerFee(t *testing.T) {
	tests := []struct {
		shares, prob, want float64
	}{
		{0, 0.5, 0},
		{100, 0.5, 0.07 * 0.25 * 100},
		{100, 0.1, 0.07 * 0.09 * 100},
		{50, 0.99, 0.07 * 0.0099 * 50},
	}
	for _, tt := range tests {
		got := TakerFee(tt.shares, tt.prob)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("TakerFee(%v, %v) = %v, want %v", tt.shares, tt.prob, got, tt.want)
		}
	}
}

func TestTakerFee_MaxAtHalf(t *testing.T) {
	// prob * (1 - prob) is maximized at 0.5.
	mid := TakerFee(100, 0.5)
	for _, p := range []float64{0.1, 0.3, 0.7, 0.9} {
		if TakerFee(100, p) >= mid {
			t.Errorf("fee at prob %v should be below fee at 0.5", p)
		}
	}
}

func TestSplit_PlatformRegime(t *testing.T) {
	s := Schedule{Regime: RegimePlatform}
	f := s.Split(10, 0)
	if f.Platform != 10 || f.Creator != 0 || f.Liquidity != 0 {
		t.Errorf("platform regime should send everything to platform, got %+v", f)
	}
}

func TestSplit_LegacyBelowThreshold(t *testing.T) {
	s := Schedule{Regime: RegimeLegacy}
	f := s.Split(10, 0)
	if f.Creator != 10 || f.Platform != 0 {
		t.Errorf("first fees should go entirely to creator, got %+v", f)
	}
}

func TestSplit_LegacyStraddlingThreshold(t *testing.T) {
	s := Schedule{Regime: RegimeLegacy}
	// 95 already collected, 10 incoming: 5 pure creator, 5 split 50/50.
	f := s.Split(10, 95)
	if math.Abs(f.Creator-7.5) > 1e-12 {
		t.Errorf("creator fee = %v, want 7.5", f.Creator)
	}
	if math.Abs(f.Platform-2.5) > 1e-12 {
		t.Errorf("platform fee = %v, want 2.5", f.Platform)
	}
}

func TestSplit_LegacyPastThreshold(t *testing.T) {
	s := Schedule{Regime: RegimeLegacy}
	f := s.Split(10, 500)
	if math.Abs(f.Creator-5) > 1e-12 || math.Abs(f.Platform-5) > 1e-12 {
		t.Errorf("expected 50/50 split past threshold, got %+v", f)
	}
}

func TestSplit_CustomThreshold(t *testing.T) {
	s := Schedule{Regime: RegimeLegacy, CreatorThreshold: 5}
	f := s.Split(10, 0)
	if math.Abs(f.Creator-7.5) > 1e-12 || math.Abs(f.Platform-2.5) > 1e-12 {
		t.Errorf("custom threshold split wrong: %+v", f)
	}
}

func TestSplit_ZeroTotal(t *testing.T) {
	for _, s := range []Schedule{{Regime: RegimePlatform}, {Regime: RegimeLegacy}} {
		if f := s.Split(0, 0); f != NoFees {
			t.Errorf("zero total should produce NoFees, got %+v", f)
		}
	}
}

func TestFeesAddAndTotal(t *testing.T) {
	a := Fees{Creator: 1, Platform: 2, Liquidity: 3}
	b := Fees{Creator: 0.5, Platform: 0.25, Liquidity: 0.125}
	sum := a.Add(b)
	want := Fees{Creator: 1.5, Platform: 2.25, Liquidity: 3.125}
	if sum != want {
		t.Errorf("Add = %+v, want %+v", sum, want)
	}
	if math.Abs(sum.Total()-6.875) > 1e-12 {
		t.Errorf("Total = %v, want 6.875", sum.Total())
	}
}

func TestSum(t *testing.T) {
	total := Sum([]Fees{{Creator: 1}, {Platform: 2}, {Liquidity: 3}, NoFees})
	if total != (Fees{Creator: 1, Platform: 2, Liquidity: 3}) {
		t.Errorf("Sum = %+v", total)
	}
}
