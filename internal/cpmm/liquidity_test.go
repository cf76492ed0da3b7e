package cpmm

import (
	"math"
	"testing"
)

func TestAddLiquidity_PreservesProbability(t *testing.T) {
	tests := []struct {
		name    string
		pool    Pool
		p       float64
		amount  float64
	}{
		{"balanced", Pool{YES: 100, NO: 100}, 0.5, 50},
		{"skewed pool", Pool{YES: 300, NO: 120}, 0.5, 10},
		{"skewed p", Pool{YES: 100, NO: 100}, 0.8, 25},
		{"tiny amount", Pool{YES: 500, NO: 900}, 0.33, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := Probability(tt.pool, tt.p)
			newPool, newP, delta := AddLiquidity(tt.pool, tt.p, tt.amount)
			after := Probability(newPool, newP)
			closeTo(t, after, before, 1e-9, "probability after injection")
			if delta <= 0 {
				t.Errorf("positive injection should grow liquidity, delta=%v", delta)
			}
		})
	}
}

func TestRemoveLiquidity_PreservesProbability(t *testing.T) {
	pool := Pool{YES: 500, NO: 300}
	before := Probability(pool, 0.5)
	newPool, newP, delta, err := RemoveLiquidity(pool, 0.5, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closeTo(t, Probability(newPool, newP), before, 1e-9, "probability after withdrawal")
	if delta >= 0 {
		t.Errorf("withdrawal should shrink liquidity, delta=%v", delta)
	}
}

func TestRemoveLiquidity_BelowMinimum(t *testing.T) {
	_, _, _, err := RemoveLiquidity(Pool{YES: 150, NO: 150}, 0.5, 100)
	if err != ErrBelowMinimumLiquidity {
		t.Errorf("expected ErrBelowMinimumLiquidity, got %v", err)
	}
}

func TestMaxRemovableLiquidity(t *testing.T) {
	if got := MaxRemovableLiquidity(Pool{YES: 350, NO: 180}); got != 80 {
		t.Errorf("MaxRemovableLiquidity = %v, want 80", got)
	}
	if got := MaxRemovableLiquidity(Pool{YES: 50, NO: 50}); got != 0 {
		t.Errorf("MaxRemovableLiquidity = %v, want 0", got)
	}
}

func TestAddLiquidityFixedP_PreservesProbability(t *testing.T) {
	for _, pool := range []Pool{{YES: 100, NO: 100}, {YES: 300, NO: 100}, {YES: 80, NO: 500}} {
		before := Probability(pool, 0.5)
		newPool, delta, thrownAway := AddLiquidityFixedP(pool, 25)
		closeTo(t, Probability(newPool, 0.5), before, 1e-9, "probability after fixed-p injection")
		if delta <= 0 {
			t.Errorf("expected positive liquidity delta, got %v", delta)
		}
		if thrownAway.YES < 0 || thrownAway.NO < 0 {
			t.Errorf("thrown-away shares must be non-negative: %+v", thrownAway)
		}
	}
}

func TestAddMultiLiquiditySumToOne_PreservesProbs(t *testing.T) {
	pools := map[string]Pool{
		"a": {YES: 100, NO: 100},
		"b": {YES: 233.34, NO: 100}, // prob 0.3
		"c": {YES: 400, NO: 100},    // prob 0.2
	}
	probsBefore := map[string]float64{}
	for id, pool := range pools {
		probsBefore[id] = Probability(pool, 0.5)
	}

	newPools := AddMultiLiquiditySumToOne(pools, 30)
	for id, pool := range newPools {
		closeTo(t, Probability(pool, 0.5), probsBefore[id], 1e-5, "prob preserved for "+id)
		if pool.YES <= pools[id].YES && pool.NO <= pools[id].NO {
			t.Errorf("answer %s pool should have grown", id)
		}
	}
}

func TestAddMultiLiquidityIndependent(t *testing.T) {
	pools := map[string]Pool{
		"a": {YES: 100, NO: 100},
		"b": {YES: 50, NO: 200},
	}
	newPools := AddMultiLiquidityIndependent(pools, 20)
	for id := range pools {
		closeTo(t, Probability(newPools[id], 0.5), Probability(pools[id], 0.5), 1e-9,
			"independent injection preserves prob")
	}
}

func TestLiquidity(t *testing.T) {
	if got := Liquidity(Pool{YES: 100, NO: 100}, 0.5); math.Abs(got-100) > 1e-12 {
		t.Errorf("Liquidity = %v, want 100", got)
	}
	if got := MultiLiquidity(Pool{YES: 400, NO: 100}); math.Abs(got-200) > 1e-12 {
		t.Errorf("MultiLiquidity = %v, want 200", got)
	}
}
