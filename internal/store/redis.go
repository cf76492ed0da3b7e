package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predictex/exchange-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for markets and answers. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. Bets, balances, and liquidity provisions always hit the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpdateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) CreateAnswers(ctx context.Context, answers []*model.Answer) error {
	if err := s.primary.CreateAnswers(ctx, answers); err != nil {
		return err
	}
	if len(answers) > 0 {
		s.rdb.Del(ctx, answersKey(answers[0].MarketID))
	}
	return nil
}

func (s *CachedStore) UpdateAnswer(ctx context.Context, a *model.Answer) error {
	if err := s.primary.UpdateAnswer(ctx, a); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, answersKey(a.MarketID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetAnswers(ctx context.Context, marketID string) ([]model.Answer, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, answersKey(marketID)).Bytes()
	if err == nil {
		var answers []model.Answer
		if json.Unmarshal(data, &answers) == nil {
			return answers, nil
		}
	}

	// Cache miss.
	answers, err := s.primary.GetAnswers(ctx, marketID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(answers); err == nil {
		s.rdb.Set(ctx, answersKey(marketID), data, s.ttl)
	}
	return answers, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) InsertBet(ctx context.Context, b *model.Bet) error {
	return s.primary.InsertBet(ctx, b)
}

func (s *CachedStore) UpdateBet(ctx context.Context, b *model.Bet) error {
	return s.primary.UpdateBet(ctx, b)
}

func (s *CachedStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	return s.primary.GetBet(ctx, id)
}

func (s *CachedStore) GetBetsByMarket(ctx context.Context, marketID string) ([]model.Bet, error) {
	return s.primary.GetBetsByMarket(ctx, marketID)
}

func (s *CachedStore) GetBetsByUser(ctx context.Context, userID string) ([]model.Bet, error) {
	return s.primary.GetBetsByUser(ctx, userID)
}

func (s *CachedStore) GetOpenLimitBets(ctx context.Context, marketID string) ([]model.Bet, error) {
	return s.primary.GetOpenLimitBets(ctx, marketID)
}

func (s *CachedStore) InsertLiquidityProvision(ctx context.Context, lp *model.LiquidityProvision) error {
	return s.primary.InsertLiquidityProvision(ctx, lp)
}

func (s *CachedStore) GetLiquidityProvisions(ctx context.Context, marketID string) ([]model.LiquidityProvision, error) {
	return s.primary.GetLiquidityProvisions(ctx, marketID)
}

func (s *CachedStore) GetBalances(ctx context.Context, userIDs []string) (map[string]decimal.Decimal, error) {
	return s.primary.GetBalances(ctx, userIDs)
}

func (s *CachedStore) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error {
	return s.primary.AdjustBalance(ctx, userID, delta)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string        { return fmt.Sprintf("market:%s", id) }
func answersKey(marketID string) string { return fmt.Sprintf("answers:%s", marketID) }
