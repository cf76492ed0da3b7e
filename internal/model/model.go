// Package model defines the core domain types shared across the exchange
// engine. All monetary values use shopspring/decimal — never float64 for
// money. The pricing and matching packages work in float64 internally; the
// converters in this package translate at that boundary.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market mechanisms. Binary markets carry their pool directly; multi-answer
// markets hold one pool per Answer with p fixed at 0.5.
const (
	MechanismBinary = "cpmm-1"
	MechanismMulti  = "cpmm-multi-1"
)

// Market statuses.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
)

// Resolution outcomes.
const (
	ResolutionYes    = "YES"
	ResolutionNo     = "NO"
	ResolutionMkt    = "MKT"
	ResolutionCancel = "CANCEL"
)

// FeeBreakdown splits a fee amount by recipient.
type FeeBreakdown struct {
	Creator   decimal.Decimal `json:"creatorFee" db:"creator_fee"`
	Platform  decimal.Decimal `json:"platformFee" db:"platform_fee"`
	Liquidity decimal.Decimal `json:"liquidityFee" db:"liquidity_fee"`
}

// Total sums the three fee components.
func (f FeeBreakdown) Total() decimal.Decimal {
	return f.Creator.Add(f.Platform).Add(f.Liquidity)
}

// Add returns the component-wise sum of two breakdowns.
func (f FeeBreakdown) Add(other FeeBreakdown) FeeBreakdown {
	return FeeBreakdown{
		Creator:   f.Creator.Add(other.Creator),
		Platform:  f.Platform.Add(other.Platform),
		Liquidity: f.Liquidity.Add(other.Liquidity),
	}
}

// Market is one prediction market. Binary markets use PoolYes/PoolNo/P;
// multi-answer markets keep per-answer pools on their Answer rows and use
// SubsidyPool for liquidity waiting to be distributed.
type Market struct {
	ID             string          `json:"id" db:"id"`
	CreatorID      string          `json:"creator_id" db:"creator_id"`
	Question       string          `json:"question" db:"question"`
	Mechanism      string          `json:"mechanism" db:"mechanism"`
	Status         string          `json:"status" db:"status"`
	PoolYes        decimal.Decimal `json:"pool_yes" db:"pool_yes"`
	PoolNo         decimal.Decimal `json:"pool_no" db:"pool_no"`
	P              decimal.Decimal `json:"p" db:"p"`
	SubsidyPool    decimal.Decimal `json:"subsidy_pool" db:"subsidy_pool"`
	TotalLiquidity decimal.Decimal `json:"total_liquidity" db:"total_liquidity"`
	CollectedFees  FeeBreakdown    `json:"collected_fees" db:"-"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	Resolution     *Resolution     `json:"resolution,omitempty" db:"-"`
}

// Answer is one outcome of a multi-answer market with its own pool.
type Answer struct {
	ID             string          `json:"id" db:"id"`
	MarketID       string          `json:"market_id" db:"market_id"`
	Index          int             `json:"index" db:"index"`
	Text           string          `json:"text" db:"text"`
	PoolYes        decimal.Decimal `json:"pool_yes" db:"pool_yes"`
	PoolNo         decimal.Decimal `json:"pool_no" db:"pool_no"`
	Prob           decimal.Decimal `json:"prob" db:"prob"`
	TotalLiquidity decimal.Decimal `json:"total_liquidity" db:"total_liquidity"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Fill is one execution step of a bet. MatchedBetID is empty for fills
// against the pool; Kind distinguishes paid fills from the solver's
// arbitrage and redemption bookkeeping.
type Fill struct {
	MatchedBetID string          `json:"matched_bet_id,omitempty" db:"matched_bet_id"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	Shares       decimal.Decimal `json:"shares" db:"shares"`
	Kind         string          `json:"kind" db:"kind"`
	IsSale       bool            `json:"is_sale,omitempty" db:"is_sale"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// Bet is a user's trade, either fully executed at creation or resting as a
// limit order. OrderAmount is what was requested; Amount and Shares are what
// has filled so far.
type Bet struct {
	ID           string           `json:"id" db:"id"`
	UserID       string           `json:"user_id" db:"user_id"`
	MarketID     string           `json:"market_id" db:"market_id"`
	AnswerID     string           `json:"answer_id,omitempty" db:"answer_id"`
	Outcome      string           `json:"outcome" db:"outcome"`
	OrderAmount  decimal.Decimal  `json:"order_amount" db:"order_amount"`
	Amount       decimal.Decimal  `json:"amount" db:"amount"`
	Shares       decimal.Decimal  `json:"shares" db:"shares"`
	LimitProb    *decimal.Decimal `json:"limit_prob,omitempty" db:"limit_prob"`
	ProbBefore   decimal.Decimal  `json:"prob_before" db:"prob_before"`
	ProbAfter    decimal.Decimal  `json:"prob_after" db:"prob_after"`
	Fills        []Fill           `json:"fills,omitempty" db:"-"`
	Fees         FeeBreakdown     `json:"fees" db:"-"`
	IsFilled     bool             `json:"is_filled" db:"is_filled"`
	IsCancelled  bool             `json:"is_cancelled" db:"is_cancelled"`
	IsRedemption bool             `json:"is_redemption" db:"is_redemption"`
	IsAnte       bool             `json:"is_ante,omitempty" db:"is_ante"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}

// Remaining is the unfilled portion of the bet's requested amount.
func (b *Bet) Remaining() decimal.Decimal {
	return b.OrderAmount.Sub(b.Amount)
}

// Open reports whether the bet still rests on the order book.
func (b *Bet) Open() bool {
	return !b.IsFilled && !b.IsCancelled
}

// LiquidityProvision records one subsidy added to (positive) or withdrawn
// from (negative) a market's pool.
type LiquidityProvision struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Resolution settles a market. Prob is required for MKT resolutions;
// AnswerWeights maps answer IDs to payout weights in [0, 1] for multi-answer
// resolutions and must sum to one.
type Resolution struct {
	Outcome       string                     `json:"outcome" db:"outcome"`
	Prob          *decimal.Decimal           `json:"prob,omitempty" db:"prob"`
	AnswerWeights map[string]decimal.Decimal `json:"answer_weights,omitempty" db:"-"`
	ResolverID    string                     `json:"resolver_id" db:"resolver_id"`
	ResolvedAt    time.Time                  `json:"resolved_at" db:"resolved_at"`
}
