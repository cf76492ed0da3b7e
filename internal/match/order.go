// Package match implements the fill matcher: given an incoming trade, a set
// of price-sorted resting limit orders, and the AMM pool, it computes the
// deterministic sequence of fills that exhausts the trade against whichever
// source is better priced at each step.
//
// The matcher is pure: it never mutates its inputs. Order consumption across
// the sequential legs of a multi-answer trade is tracked by the Book working
// ledger, which the arbitrage solver clones per call.
package match

import (
	"time"

	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/fees"
	"github.com/predictex/exchange-engine/internal/numeric"
)

// Status is the lifecycle state of a resting limit order. Filled, cancelled,
// and expired are terminal.
type Status string

const (
	StatusOpen            Status = "open"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusExpired         Status = "expired"
)

// FillKind tags why a taker fill exists. Only direct fills are economically
// paid by the user; arbitrage and redemption fills are internal bookkeeping
// produced by the sum-to-one solver.
type FillKind uint8

const (
	// KindDirect is a fill the user paid for.
	KindDirect FillKind = iota
	// KindArbitrage marks fills from solver iterations after the first,
	// whose amounts and fees are folded to zero when results are combined.
	KindArbitrage
	// KindRedemption marks the net conversion of opposite shares across a
	// sum-to-one answer set. Always fee-free.
	KindRedemption
)

func (k FillKind) String() string {
	switch k {
	case KindArbitrage:
		return "arbitrage"
	case KindRedemption:
		return "redemption"
	default:
		return "direct"
	}
}

// Fill records one taker fill. MatchedOrderID is empty when the fill was
// against the AMM pool.
type Fill struct {
	MatchedOrderID string
	Amount         float64
	Shares         float64
	Timestamp      time.Time
	Kind           FillKind
	IsSale         bool
	// Fees carried on redemption fills so arbitrage bookkeeping can return
	// them; direct fills accumulate fees on the Result instead.
	Fees fees.Fees
}

// MakerFill records the consumption of a resting order by a taker fill.
// Amount is the maker's money spent, Shares the shares the maker receives.
type MakerFill struct {
	Order     *LimitOrder
	Amount    float64
	Shares    float64
	Timestamp time.Time
}

// LimitOrder is a resting offer to trade at or better than LimitProb. It is
// open while Amount (filled so far) is below OrderAmount and the order is
// neither cancelled nor expired.
type LimitOrder struct {
	ID          string
	UserID      string
	AnswerID    string
	Outcome     cpmm.Outcome
	OrderAmount float64
	Amount      float64
	Shares      float64
	LimitProb   float64
	CreatedTime time.Time
	ExpiresAt   *time.Time
	Fills       []Fill
}

// Remaining returns the unfilled portion of the order's amount.
func (o *LimitOrder) Remaining() float64 {
	return o.OrderAmount - o.Amount
}

// Filled reports whether the order's amount is fully consumed.
func (o *LimitOrder) Filled() bool {
	return numeric.Equal(o.Amount, o.OrderAmount) || o.Amount > o.OrderAmount
}

// Expired reports whether the order's expiry has passed at now.
func (o *LimitOrder) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// Clone returns a deep copy of the order.
func (o *LimitOrder) Clone() *LimitOrder {
	c := *o
	if o.ExpiresAt != nil {
		exp := *o.ExpiresAt
		c.ExpiresAt = &exp
	}
	c.Fills = append([]Fill(nil), o.Fills...)
	return &c
}

// Result is the preliminary outcome of matching one trade against one
// answer's pool and order book: the atomic unit consumed by the persistence
// layer and the arbitrage solver.
type Result struct {
	Outcome        cpmm.Outcome
	Takers         []Fill
	Makers         []MakerFill
	OrdersToCancel []*LimitOrder
	State          cpmm.State
	TotalFees      fees.Fees
}

// TakerAmount sums the taker fill amounts.
func (r *Result) TakerAmount() float64 {
	var total float64
	for _, f := range r.Takers {
		total += f.Amount
	}
	return total
}

// TakerShares sums the taker fill shares.
func (r *Result) TakerShares() float64 {
	var total float64
	for _, f := range r.Takers {
		total += f.Shares
	}
	return total
}
