// Package cpmm implements the constant-product market maker used to price
// binary YES/NO markets and the individual answers of multi-answer markets.
//
// The pool invariant is
//
//	YES^p * NO^(1-p) = k
//
// where p in (0,1) is the pricing-weight constant. The implied probability
// of YES is p*NO / ((1-p)*YES + p*NO). Multi-answer pools always use p = 0.5,
// which admits simpler closed forms used heavily by the arbitrage solver.
//
// All solves in this package are closed-form, derived analytically from the
// invariant; iterative solves over the order book live in the match package.
package cpmm

import (
	"errors"
	"math"

	"github.com/predictex/exchange-engine/internal/fees"
	"github.com/predictex/exchange-engine/internal/numeric"
)

// Outcome labels one side of a binary pool.
type Outcome string

const (
	Yes Outcome = "YES"
	No  Outcome = "NO"
)

// Valid reports whether o is a known outcome label.
func (o Outcome) Valid() bool { return o == Yes || o == No }

// Opposite returns the other side.
func (o Outcome) Opposite() Outcome {
	if o == Yes {
		return No
	}
	return Yes
}

// Probability clamp bounds for new bets. Pool math itself can represent
// probabilities outside these; callers clamp before placing trades.
const (
	MinProb = 0.01
	MaxProb = 0.99
)

// ErrFixedPOnly is returned by the p=0.5 closed forms when applied to a pool
// with a different pricing weight.
var ErrFixedPOnly = errors.New("cpmm: closed form requires p = 0.5")

// Pool holds the market maker's YES and NO share reserves. Both quantities
// stay strictly positive for any reachable state.
type Pool struct {
	YES float64 `json:"YES"`
	NO  float64 `json:"NO"`
}

// State is the full pricing state of one binary pool. It is replaced
// wholesale on every trade, never partially updated.
type State struct {
	Pool          Pool
	P             float64
	CollectedFees fees.Fees
}

// NewState returns a State with the given pool and pricing weight.
func NewState(pool Pool, p float64, collected fees.Fees) State {
	return State{Pool: pool, P: p, CollectedFees: collected}
}

// Probability returns the YES probability implied by the pool, strictly
// between 0 and 1 for any positive pool.
func Probability(pool Pool, p float64) float64 {
	return p * pool.NO / ((1-p)*pool.YES + p*pool.NO)
}

// Probability returns the YES probability implied by the state's pool.
func (s State) Probability() float64 {
	return Probability(s.Pool, s.P)
}

// ClampProb clamps a probability into [MinProb, MaxProb].
func ClampProb(prob float64) float64 {
	return math.Max(MinProb, math.Min(MaxProb, prob))
}

// SharesForBet returns the shares received for betting amount on outcome,
// before fees, by solving the constant-product invariant in closed form.
func SharesForBet(pool Pool, p, amount float64, outcome Outcome) float64 {
	if amount == 0 {
		return 0
	}

	y, n := pool.YES, pool.NO
	k := math.Pow(y, p) * math.Pow(n, 1-p)

	if outcome == Yes {
		// (y+b-s)^p * (n+b)^(1-p) = k, solved for s.
		return y + amount - math.Pow(k*math.Pow(amount+n, p-1), 1/p)
	}
	// (n+b-s)^(1-p) * (y+b)^p = k, solved for s.
	return n + amount - math.Pow(k*math.Pow(amount+y, -p), 1/(1-p))
}

// FeesForBet computes the taker fee on a bet by iterating toward the
// average probability of the post-fee purchase: charging the fee lowers the
// net amount, which moves the average probability slightly less far. Returns
// the net bet amount and the fee split per the schedule, using the state's
// lifetime creator fees for the legacy threshold.
func FeesForBet(state State, amount float64, outcome Outcome, sched fees.Schedule) (remaining float64, f fees.Fees) {
	fee := 0.0
	for i := 0; i < 10; i++ {
		afterFee := amount - fee
		shares := SharesForBet(state.Pool, state.P, afterFee, outcome)
		averageProb := afterFee / shares
		fee = fees.TakerFee(shares, averageProb)
	}
	if amount == 0 {
		fee = 0
	}

	f = sched.Split(fee, state.CollectedFees.Creator)
	return amount - fee, f
}

// PurchaseResult is the outcome of applying one bet to a pool.
type PurchaseResult struct {
	Shares  float64
	NewPool Pool
	NewP    float64
	Fees    fees.Fees
}

// Purchase applies a bet of amount on outcome to the state: fees are
// deducted (unless freeFees, used for redemption and arbitrage legs), shares
// are computed on the net amount, and the liquidity-fee portion is
// re-injected into the pool as fresh liquidity, shifting p to preserve the
// post-trade probability.
func Purchase(state State, amount float64, outcome Outcome, sched fees.Schedule, freeFees bool) PurchaseResult {
	remaining, f := amount, fees.NoFees
	if !freeFees {
		remaining, f = FeesForBet(state, amount, outcome, sched)
	}

	shares := SharesForBet(state.Pool, state.P, remaining, outcome)
	y, n := state.Pool.YES, state.Pool.NO
	fee := f.Liquidity

	var postBet Pool
	if outcome == Yes {
		postBet = Pool{YES: y - shares + remaining + fee, NO: n + remaining + fee}
	} else {
		postBet = Pool{YES: y + remaining + fee, NO: n - shares + remaining + fee}
	}

	newPool, newP, _ := AddLiquidity(postBet, state.P, fee)

	return PurchaseResult{Shares: shares, NewPool: newPool, NewP: newP, Fees: f}
}

// AmountToProb returns the bet amount on outcome that moves the pool's
// implied probability to prob. Probabilities at or beyond 0 and 1, or NaN,
// are unreachable at any price and return +Inf.
func AmountToProb(state State, prob float64, outcome Outcome) float64 {
	if prob <= 0 || prob >= 1 || math.IsNaN(prob) {
		return math.Inf(1)
	}
	if outcome == No {
		prob = 1 - prob
	}

	p := state.P
	y, n := state.Pool.YES, state.Pool.NO
	k := math.Pow(y, p) * math.Pow(n, 1-p)

	if outcome == Yes {
		r := p * (prob - 1) / ((p - 1) * prob)
		return math.Pow(r, -p) * (k - n*math.Pow(r, p))
	}
	r := (1 - p) * (prob - 1) / (-p * prob)
	return math.Pow(r, p-1) * (k - y*math.Pow(r, 1-p))
}

// AmountToProbWithFees is AmountToProb plus the taker fee the buyer would
// pay on the way there.
func AmountToProbWithFees(state State, prob float64, outcome Outcome) float64 {
	amount := AmountToProb(state, prob, outcome)
	if math.IsInf(amount, 1) {
		return amount
	}
	shares := SharesForBet(state.Pool, state.P, amount, outcome)
	averageProb := amount / shares
	return amount + fees.TakerFee(shares, averageProb)
}

// AmountForSharesFixedP returns the bet amount that buys exactly shares of
// outcome from the pool alone, using the p = 0.5 closed form. Multi-answer
// pools always satisfy p = 0.5; other pools must use the order-book-aware
// solve in the match package.
func AmountForSharesFixedP(state State, shares float64, outcome Outcome) (float64, error) {
	if !numeric.Equal(state.P, 0.5) {
		return 0, ErrFixedPOnly
	}

	y, n := state.Pool.YES, state.Pool.NO
	if outcome == Yes {
		// (y+b-s)^0.5 * (n+b)^0.5 = sqrt(y*n), solved for b.
		return (shares - y - n + math.Sqrt(4*n*shares+(y+n-shares)*(y+n-shares))) / 2, nil
	}
	return (shares - y - n + math.Sqrt(4*y*shares+(y+n-shares)*(y+n-shares))) / 2, nil
}
