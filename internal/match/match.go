package match

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/fees"
	"github.com/predictex/exchange-engine/internal/numeric"
)

var (
	// ErrInvalidOutcome is returned when the outcome is not YES or NO.
	ErrInvalidOutcome = errors.New("match: outcome must be YES or NO")
	// ErrInvalidAmount is returned when the trade amount is negative or NaN.
	ErrInvalidAmount = errors.New("match: trade amount must be a non-negative number")
	// ErrInvalidLimitProb is returned when a supplied limit probability is NaN.
	ErrInvalidLimitProb = errors.New("match: limit probability must be a number")
	// ErrNegativeShares is returned when asked to sell a negative quantity.
	ErrNegativeShares = errors.New("match: cannot sell a negative number of shares")
)

// Matcher computes fills under a fee schedule. The zero value uses the
// platform fee regime and the wall clock; Now is overridable for tests.
type Matcher struct {
	Schedule fees.Schedule
	Now      func() time.Time
}

// NewMatcher returns a matcher with the given fee schedule.
func NewMatcher(sched fees.Schedule) *Matcher {
	return &Matcher{Schedule: sched}
}

func (m *Matcher) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// computedFill is one step of the matching loop: either a pool fill (maker
// nil, state and fees advanced) or a maker fill against a resting order.
type computedFill struct {
	taker Fill
	maker *MakerFill
	state cpmm.State
	fees  fees.Fees
}

// ComputeFills matches a trade of amount on outcome against the opposite
// side of the order book and the AMM pool, repeatedly taking whichever source
// offers the better price. The trade stops early when limitProb (may be nil)
// would be crossed. Resting orders whose maker balance runs out, or which
// have expired, are collected in OrdersToCancel. Inputs are never mutated.
func (m *Matcher) ComputeFills(state cpmm.State, outcome cpmm.Outcome, amount float64, limitProb *float64, orders []*LimitOrder, balances map[string]float64, freeFees bool) (*Result, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	if math.IsNaN(amount) || amount < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if limitProb != nil && math.IsNaN(*limitProb) {
		return nil, ErrInvalidLimitProb
	}
	return m.fills(state, outcome, amount, limitProb, orders, balances, freeFees), nil
}

func (m *Matcher) fills(state cpmm.State, outcome cpmm.Outcome, amount float64, limitProb *float64, orders []*LimitOrder, balances map[string]float64, freeFees bool) *Result {
	now := m.now()

	var ordersToCancel []*LimitOrder
	sorted := make([]*LimitOrder, 0, len(orders))
	for _, o := range orders {
		if o.Outcome == outcome {
			continue
		}
		if o.Expired(now) {
			ordersToCancel = append(ordersToCancel, o)
			continue
		}
		sorted = append(sorted, o)
	}
	// Best price for the taker first, then order age, then ID so that equal
	// inputs always produce byte-identical fill sequences.
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.LimitProb != b.LimitProb {
			if outcome == cpmm.Yes {
				return a.LimitProb < b.LimitProb
			}
			return a.LimitProb > b.LimitProb
		}
		if !a.CreatedTime.Equal(b.CreatedTime) {
			return a.CreatedTime.Before(b.CreatedTime)
		}
		return a.ID < b.ID
	})

	bal := make(map[string]float64, len(balances))
	for k, v := range balances {
		bal[k] = v
	}
	balanceOf := func(o *LimitOrder) float64 {
		if b, ok := bal[o.UserID]; ok {
			return b
		}
		// Untracked makers are treated as having unlimited funds.
		return math.Inf(1)
	}

	var takers []Fill
	var makers []MakerFill
	cur := state
	totalFees := fees.NoFees
	remaining := amount

	i := 0
	for {
		var matched *LimitOrder
		if i < len(sorted) {
			matched = sorted[i]
		}
		var makerBalance float64
		if matched != nil {
			makerBalance = balanceOf(matched)
		}
		fill := m.fill(cur, outcome, remaining, limitProb, matched, makerBalance, freeFees, now)
		if fill == nil {
			break
		}
		if fill.maker == nil {
			cur = fill.state
			totalFees = totalFees.Add(fill.fees)
			takers = append(takers, fill.taker)
		} else {
			i++
			uid := fill.maker.Order.UserID
			if b, ok := bal[uid]; ok {
				bal[uid] = b - fill.maker.Amount
				if numeric.Equal(bal[uid], 0) {
					ordersToCancel = append(ordersToCancel, fill.maker.Order)
				}
			}
			if numeric.Equal(fill.maker.Amount, 0) {
				continue
			}
			takers = append(takers, fill.taker)
			makers = append(makers, *fill.maker)
		}
		remaining -= fill.taker.Amount
		if numeric.Equal(remaining, 0) {
			break
		}
	}

	return &Result{
		Outcome:        outcome,
		Takers:         takers,
		Makers:         makers,
		OrdersToCancel: ordersToCancel,
		State:          cur,
		TotalFees:      totalFees,
	}
}

// fill computes the single next fill: against the pool when no resting order
// beats it, against the best resting order otherwise, or nil when the trade's
// own limit stops it.
func (m *Matcher) fill(state cpmm.State, outcome cpmm.Outcome, amount float64, limitProb *float64, matched *LimitOrder, makerBalance float64, freeFees bool, now time.Time) *computedFill {
	prob := state.Probability()

	if limitProb != nil {
		l := *limitProb
		if outcome == cpmm.Yes {
			matchedProb := 1.0
			if matched != nil {
				matchedProb = matched.LimitProb
			}
			if numeric.GreaterEqual(prob, l) && matchedProb > l {
				return nil
			}
		} else {
			matchedProb := 0.0
			if matched != nil {
				matchedProb = matched.LimitProb
			}
			if numeric.LesserEqual(prob, l) && matchedProb < l {
				return nil
			}
		}
	}

	poolCheaper := matched == nil
	if matched != nil {
		if outcome == cpmm.Yes {
			poolCheaper = !numeric.GreaterEqual(prob, matched.LimitProb)
		} else {
			poolCheaper = !numeric.LesserEqual(prob, matched.LimitProb)
		}
	}

	if poolCheaper {
		// Fill from the pool, but only up to the price of the next order or
		// the trade's own limit, whichever binds first.
		var limit *float64
		if matched == nil {
			limit = limitProb
		} else {
			l := matched.LimitProb
			if limitProb != nil {
				if outcome == cpmm.Yes {
					l = math.Min(l, *limitProb)
				} else {
					l = math.Max(l, *limitProb)
				}
			}
			limit = &l
		}
		buyAmount := amount
		if limit != nil {
			buyAmount = math.Min(amount, cpmm.AmountToProb(state, *limit, outcome))
		}
		res := cpmm.Purchase(state, buyAmount, outcome, m.Schedule, freeFees)
		newState := cpmm.State{
			Pool:          res.NewPool,
			P:             res.NewP,
			CollectedFees: state.CollectedFees.Add(res.Fees),
		}
		return &computedFill{
			taker: Fill{Amount: buyAmount, Shares: res.Shares, Timestamp: now, Kind: KindDirect},
			state: newState,
			fees:  res.Fees,
		}
	}

	amountToFill := math.Min(matched.Remaining(), makerBalance)
	var takerPrice, makerPrice float64
	if outcome == cpmm.Yes {
		takerPrice = matched.LimitProb
		makerPrice = 1 - matched.LimitProb
	} else {
		takerPrice = 1 - matched.LimitProb
		makerPrice = matched.LimitProb
	}
	shares := math.Min(amount/takerPrice, amountToFill/makerPrice)
	maker := MakerFill{
		Order:     matched,
		Amount:    shares * makerPrice,
		Shares:    shares,
		Timestamp: now,
	}
	return &computedFill{
		taker: Fill{
			MatchedOrderID: matched.ID,
			Amount:         shares * takerPrice,
			Shares:         shares,
			Timestamp:      now,
			Kind:           KindDirect,
		},
		maker: &maker,
		state: state,
		fees:  fees.NoFees,
	}
}
