package cpmm

import (
	"math"
	"testing"

	"github.com/predictex/exchange-engine/internal/fees"
)

func closeTo(t *testing.T, got, want, tol float64, msg string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %v, want %v (tol %v)", msg, got, want, tol)
	}
}

// --- Probability ---

func TestProbability_HalfAtEqualPools(t *testing.T) {
	prob := Probability(Pool{YES: 100, NO: 100}, 0.5)
	closeTo(t, prob, 0.5, 1e-12, "probability at equal pools")
}

func TestProbability_StrictlyInUnitInterval(t *testing.T) {
	tests := []struct {
		name     string
		yes, no  float64
		p        float64
	}{
		{"balanced", 100, 100, 0.5},
		{"skewed p", 100, 100, 0.9},
		{"yes heavy", 1e6, 1, 0.5},
		{"no heavy", 1, 1e6, 0.5},
		{"extreme ratio low p", 1e6, 1, 0.01},
		{"extreme ratio high p", 1, 1e6, 0.99},
		{"tiny pools", 1e-6, 1e-6, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prob := Probability(Pool{YES: tt.yes, NO: tt.no}, tt.p)
			if prob <= 0 || prob >= 1 {
				t.Errorf("probability %v out of (0, 1)", prob)
			}
		})
	}
}

func TestProbability_MoreNoRaisesYesProb(t *testing.T) {
	// A larger NO reserve means YES shares are scarcer, so YES is pricier.
	low := Probability(Pool{YES: 100, NO: 50}, 0.5)
	high := Probability(Pool{YES: 100, NO: 200}, 0.5)
	if high <= low {
		t.Errorf("probability should rise with NO reserve: %v vs %v", low, high)
	}
}

// --- SharesForBet / Purchase ---

func TestSharesForBet_ReferenceValue(t *testing.T) {
	// Pool {100, 100}, p=0.5, bet 10 on YES: shares = 110 - 10000/110.
	shares := SharesForBet(Pool{YES: 100, NO: 100}, 0.5, 10, Yes)
	closeTo(t, shares, 19.0909090909, 1e-9, "reference shares")
}

func TestSharesForBet_SymmetricAtEqualPools(t *testing.T) {
	yes := SharesForBet(Pool{YES: 100, NO: 100}, 0.5, 10, Yes)
	no := SharesForBet(Pool{YES: 100, NO: 100}, 0.5, 10, No)
	closeTo(t, yes, no, 1e-12, "YES/NO symmetry at equal pools")
}

func TestSharesForBet_ZeroAmount(t *testing.T) {
	if s := SharesForBet(Pool{YES: 100, NO: 100}, 0.5, 0, Yes); s != 0 {
		t.Errorf("zero bet should buy zero shares, got %v", s)
	}
}

func TestSharesForBet_MoreThanAmount(t *testing.T) {
	// Buying YES below prob 1 always yields more shares than amount spent.
	shares := SharesForBet(Pool{YES: 100, NO: 100}, 0.5, 10, Yes)
	if shares <= 10 {
		t.Errorf("shares %v should exceed amount 10", shares)
	}
}

func TestPurchase_FreeFeesPreservesInvariant(t *testing.T) {
	state := NewState(Pool{YES: 100, NO: 100}, 0.5, fees.NoFees)
	k := Liquidity(state.Pool, state.P)

	res := Purchase(state, 10, Yes, fees.Schedule{}, true)
	newK := Liquidity(res.NewPool, res.NewP)
	closeTo(t, newK, k, k*1e-9, "constant product after zero-fee purchase")
	closeTo(t, res.Shares, 19.0909090909, 1e-9, "purchase shares")
}

func TestPurchase_FeesReduceShares(t *testing.T) {
	state := NewState(Pool{YES: 100, NO: 100}, 0.5, fees.NoFees)
	free := Purchase(state, 10, Yes, fees.Schedule{}, true)
	paid := Purchase(state, 10, Yes, fees.Schedule{Regime: fees.RegimePlatform}, false)

	if paid.Shares >= free.Shares {
		t.Errorf("fee-bearing purchase should yield fewer shares: %v vs %v", paid.Shares, free.Shares)
	}
	if paid.Fees.Total() <= 0 {
		t.Errorf("expected positive fees, got %+v", paid.Fees)
	}
}

func TestPurchase_RaisesProbability(t *testing.T) {
	state := NewState(Pool{YES: 100, NO: 100}, 0.5, fees.NoFees)
	res := Purchase(state, 10, Yes, fees.Schedule{}, true)
	after := Probability(res.NewPool, res.NewP)
	if after <= 0.5 {
		t.Errorf("buying YES should raise probability, got %v", after)
	}
}

func TestPurchase_LiquidityFeeGrowsInvariant(t *testing.T) {
	// Re-injecting a liquidity fee adds to the pool's constant product.
	state := NewState(Pool{YES: 100, NO: 100}, 0.5, fees.NoFees)
	res := Purchase(state, 10, Yes, fees.Schedule{}, true)

	// Simulate a liquidity re-injection on top of the post-trade pool.
	withFee, newP, delta := AddLiquidity(res.NewPool, res.NewP, 0.25)
	if delta <= 0 {
		t.Errorf("liquidity injection should grow liquidity, delta=%v", delta)
	}
	if Liquidity(withFee, newP) <= Liquidity(res.NewPool, res.NewP) {
		t.Error("invariant constant should grow with injected fee")
	}
}

// --- FeesForBet ---

func TestFeesForBet_ZeroAmount(t *testing.T) {
	state := NewState(Pool{YES: 100, NO: 100}, 0.5, fees.NoFees)
	remaining, f := FeesForBet(state, 0, Yes, fees.Schedule{Regime: fees.RegimePlatform})
	if remaining != 0 || f != fees.NoFees {
		t.Errorf("zero bet should be fee-free, got remaining=%v fees=%+v", remaining, f)
	}
}

func TestFeesForBet_NetBelowGross(t *testing.T) {
	state := NewState(Pool{YES: 100, NO: 100}, 0.5, fees.NoFees)
	remaining, f := FeesForBet(state, 10, Yes, fees.Schedule{Regime: fees.RegimePlatform})
	if remaining >= 10 || remaining <= 0 {
		t.Errorf("net amount %v should be in (0, 10)", remaining)
	}
	closeTo(t, remaining+f.Total(), 10, 1e-9, "net + fee = gross")
}

// --- AmountToProb ---

func TestAmountToProb_Unreachable(t *testing.T) {
	state := NewState(Pool{YES: 100, NO: 100}, 0.5, fees.NoFees)
	for _, prob := range []float64{0, 1, -0.5, 1.5, math.NaN()} {
		if got := AmountToProb(state, prob, Yes); !math.IsInf(got, 1) {
			t.Errorf("AmountToProb(%v) should be +Inf, got %v", prob, got)
		}
	}
}

func TestAmountToProb_RoundTrip(t *testing.T) {
	state := NewState(Pool{YES: 100, NO: 100}, 0.5, fees.NoFees)
	for _, target := range []float64{0.55, 0.7, 0.95} {
		amount := AmountToProb(state, target, Yes)
		res := Purchase(state, amount, Yes, fees.Schedule{}, true)
		closeTo(t, Probability(res.NewPool, res.NewP), target, 1e-9, "round trip to target prob")
	}
	for _, target := range []float64{0.45, 0.3, 0.05} {
		amount := AmountToProb(state, target, No)
		res := Purchase(state, amount, No, fees.Schedule{}, true)
		closeTo(t, Probability(res.NewPool, res.NewP), target, 1e-9, "round trip to target prob (NO)")
	}
}

func TestAmountToProbWithFees_ExceedsBare(t *testing.T) {
	state := NewState(Pool{YES: 100, NO: 100}, 0.5, fees.NoFees)
	bare := AmountToProb(state, 0.7, Yes)
	withFees := AmountToProbWithFees(state, 0.7, Yes)
	if withFees <= bare {
		t.Errorf("fee-inclusive amount %v should exceed bare %v", withFees, bare)
	}
}

// --- AmountForSharesFixedP ---

func TestAmountForSharesFixedP_RoundTrip(t *testing.T) {
	state := NewState(Pool{YES: 150, NO: 80}, 0.5, fees.NoFees)
	for _, shares := range []float64{1, 10, 57.5} {
		for _, outcome := range []Outcome{Yes, No} {
			amount, err := AmountForSharesFixedP(state, shares, outcome)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := SharesForBet(state.Pool, state.P, amount, outcome)
			closeTo(t, got, shares, 1e-9, "shares round trip")
		}
	}
}

func TestAmountForSharesFixedP_RejectsOtherP(t *testing.T) {
	state := NewState(Pool{YES: 100, NO: 100}, 0.3, fees.NoFees)
	if _, err := AmountForSharesFixedP(state, 10, Yes); err != ErrFixedPOnly {
		t.Errorf("expected ErrFixedPOnly, got %v", err)
	}
}

// --- Outcome ---

func TestOutcome(t *testing.T) {
	if !Yes.Valid() || !No.Valid() || Outcome("MAYBE").Valid() {
		t.Error("outcome validity misjudged")
	}
	if Yes.Opposite() != No || No.Opposite() != Yes {
		t.Error("opposite outcomes wrong")
	}
}

func TestClampProb(t *testing.T) {
	if ClampProb(0.001) != MinProb || ClampProb(0.999) != MaxProb || ClampProb(0.5) != 0.5 {
		t.Error("clamping wrong")
	}
}
