// Package store defines the persistence interface for the exchange engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/predictex/exchange-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Markets ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarket writes back a market's pools, fees, status, and
	// resolution after a trade or settlement.
	UpdateMarket(ctx context.Context, market *model.Market) error

	// --- Answers ---

	// CreateAnswers persists the answer set of a multi-answer market.
	CreateAnswers(ctx context.Context, answers []*model.Answer) error

	// GetAnswers returns a market's answers ordered by index.
	GetAnswers(ctx context.Context, marketID string) ([]model.Answer, error)

	// UpdateAnswer writes back one answer's pool and probability.
	UpdateAnswer(ctx context.Context, answer *model.Answer) error

	// --- Bets ---

	// InsertBet appends a bet record. Bets are never deleted; fills and
	// cancellation flip flags and append to Fills.
	InsertBet(ctx context.Context, bet *model.Bet) error

	// UpdateBet writes back a bet's fill progress and status flags.
	UpdateBet(ctx context.Context, bet *model.Bet) error

	// GetBet retrieves a bet by ID.
	GetBet(ctx context.Context, id string) (*model.Bet, error)

	// GetBetsByMarket returns all bets on a market in creation order.
	GetBetsByMarket(ctx context.Context, marketID string) ([]model.Bet, error)

	// GetBetsByUser returns all of a user's bets in creation order.
	GetBetsByUser(ctx context.Context, userID string) ([]model.Bet, error)

	// GetOpenLimitBets returns a market's resting limit orders.
	GetOpenLimitBets(ctx context.Context, marketID string) ([]model.Bet, error)

	// --- Liquidity ---

	// InsertLiquidityProvision records a subsidy or withdrawal.
	InsertLiquidityProvision(ctx context.Context, lp *model.LiquidityProvision) error

	// GetLiquidityProvisions returns a market's provisions in order.
	GetLiquidityProvisions(ctx context.Context, marketID string) ([]model.LiquidityProvision, error)

	// --- Balances ---

	// GetBalances returns the balances of the given users. Users without a
	// row are absent from the result.
	GetBalances(ctx context.Context, userIDs []string) (map[string]decimal.Decimal, error)

	// AdjustBalance adds delta (may be negative) to a user's balance,
	// creating the row if needed.
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error
}
