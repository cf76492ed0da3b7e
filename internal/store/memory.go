package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/predictex/exchange-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	markets    map[string]*model.Market
	answers    map[string][]*model.Answer // marketID -> answers by index
	bets       []*model.Bet
	betsByID   map[string]*model.Bet
	provisions []*model.LiquidityProvision
	balances   map[string]decimal.Decimal
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:  make(map[string]*model.Market),
		answers:  make(map[string][]*model.Answer),
		betsByID: make(map[string]*model.Bet),
		balances: make(map[string]decimal.Decimal),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return fmt.Errorf("market %s already exists", m.ID)
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) UpdateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; !ok {
		return fmt.Errorf("market %s: %w", m.ID, ErrNotFound)
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateAnswers(_ context.Context, answers []*model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range answers {
		cp := *a
		s.answers[a.MarketID] = append(s.answers[a.MarketID], &cp)
	}
	return nil
}

func (s *MemoryStore) GetAnswers(_ context.Context, marketID string) ([]model.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.answers[marketID]
	answers := make([]model.Answer, len(rows))
	for i, a := range rows {
		answers[i] = *a
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].Index < answers[j].Index })
	return answers, nil
}

func (s *MemoryStore) UpdateAnswer(_ context.Context, answer *model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, a := range s.answers[answer.MarketID] {
		if a.ID == answer.ID {
			cp := *answer
			s.answers[answer.MarketID][i] = &cp
			return nil
		}
	}
	return fmt.Errorf("answer %s: %w", answer.ID, ErrNotFound)
}

func (s *MemoryStore) InsertBet(_ context.Context, bet *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.betsByID[bet.ID]; exists {
		return fmt.Errorf("bet %s already exists", bet.ID)
	}
	cp := *bet
	cp.Fills = append([]model.Fill(nil), bet.Fills...)
	s.bets = append(s.bets, &cp)
	s.betsByID[bet.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateBet(_ context.Context, bet *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.betsByID[bet.ID]
	if !ok {
		return fmt.Errorf("bet %s: %w", bet.ID, ErrNotFound)
	}
	cp := *bet
	cp.Fills = append([]model.Fill(nil), bet.Fills...)
	*existing = cp
	return nil
}

func (s *MemoryStore) GetBet(_ context.Context, id string) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.betsByID[id]
	if !ok {
		return nil, fmt.Errorf("bet %s: %w", id, ErrNotFound)
	}
	cp := *b
	cp.Fills = append([]model.Fill(nil), b.Fills...)
	return &cp, nil
}

func (s *MemoryStore) GetBetsByMarket(_ context.Context, marketID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.MarketID == marketID {
			result = append(result, *b)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetBetsByUser(_ context.Context, userID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.UserID == userID {
			result = append(result, *b)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetOpenLimitBets(_ context.Context, marketID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.MarketID == marketID && b.LimitProb != nil && b.Open() {
			result = append(result, *b)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertLiquidityProvision(_ context.Context, lp *model.LiquidityProvision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *lp
	s.provisions = append(s.provisions, &cp)
	return nil
}

func (s *MemoryStore) GetLiquidityProvisions(_ context.Context, marketID string) ([]model.LiquidityProvision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LiquidityProvision
	for _, lp := range s.provisions {
		if lp.MarketID == marketID {
			result = append(result, *lp)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetBalances(_ context.Context, userIDs []string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balances := make(map[string]decimal.Decimal, len(userIDs))
	for _, id := range userIDs {
		if b, ok := s.balances[id]; ok {
			balances[id] = b
		}
	}
	return balances, nil
}

func (s *MemoryStore) AdjustBalance(_ context.Context, userID string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[userID] = s.balances[userID].Add(delta)
	return nil
}
