package trade

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/model"
)

// LiquidityRequest is the JSON body for POST /api/v1/liquidity and
// POST /api/v1/liquidity/withdraw.
type LiquidityRequest struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// AddLiquidity handles POST /api/v1/liquidity
// Binary pools grow along their current probability; multi-answer subsidies
// are spread across every answer pool so the probabilities stay unchanged
// and keep summing to one.
func (s *Service) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req LiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	market, answers, ok := s.openMarket(ctx, w, req.MarketID)
	if !ok {
		return
	}

	amount := req.Amount.InexactFloat64()
	if market.Mechanism == model.MechanismMulti {
		pools := make(map[string]cpmm.Pool, len(answers))
		for _, a := range answers {
			pools[a.ID] = cpmm.Pool{
				YES: a.PoolYes.InexactFloat64(),
				NO:  a.PoolNo.InexactFloat64(),
			}
		}
		newPools := cpmm.AddMultiLiquiditySumToOne(pools, amount)
		for i := range answers {
			a := &answers[i]
			pool := newPools[a.ID]
			a.PoolYes = decimal.NewFromFloat(pool.YES)
			a.PoolNo = decimal.NewFromFloat(pool.NO)
			a.Prob = decimal.NewFromFloat(cpmm.Probability(pool, 0.5))
			a.TotalLiquidity = a.TotalLiquidity.Add(req.Amount)
			if err := s.store.UpdateAnswer(ctx, a); err != nil {
				writeError(w, "failed to update answers", http.StatusInternalServerError)
				return
			}
		}
	} else {
		state := market.EngineState()
		newPool, newP, _ := cpmm.AddLiquidity(state.Pool, state.P, amount)
		market.PoolYes = decimal.NewFromFloat(newPool.YES)
		market.PoolNo = decimal.NewFromFloat(newPool.NO)
		market.P = decimal.NewFromFloat(newP)
	}
	market.TotalLiquidity = market.TotalLiquidity.Add(req.Amount)
	if err := s.store.UpdateMarket(ctx, market); err != nil {
		writeError(w, "failed to update market", http.StatusInternalServerError)
		return
	}

	provision := &model.LiquidityProvision{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		MarketID:  market.ID,
		Amount:    req.Amount,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertLiquidityProvision(ctx, provision); err != nil {
		writeError(w, "failed to record provision", http.StatusInternalServerError)
		return
	}
	if err := s.store.AdjustBalance(ctx, req.UserID, req.Amount.Neg()); err != nil {
		writeError(w, "failed to adjust balance", http.StatusInternalServerError)
		return
	}

	slog.Info("liquidity added",
		"market", market.ID,
		"user", req.UserID,
		"amount", req.Amount.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "liquidity_added",
			MarketID: market.ID,
			Amount:   req.Amount.String(),
		})
	}

	writeJSON(w, http.StatusCreated, provision)
}

// WithdrawLiquidity handles POST /api/v1/liquidity/withdraw
// Only binary pools support withdrawal; both sides must stay above the
// minimum liquidity floor.
func (s *Service) WithdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	var req LiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	market, _, ok := s.openMarket(ctx, w, req.MarketID)
	if !ok {
		return
	}
	if market.Mechanism != model.MechanismBinary {
		writeError(w, "withdrawal is only supported on binary markets", http.StatusBadRequest)
		return
	}

	// The user can withdraw at most what they have contributed.
	provisions, err := s.store.GetLiquidityProvisions(ctx, market.ID)
	if err != nil {
		writeError(w, "failed to load provisions", http.StatusInternalServerError)
		return
	}
	contributed := decimal.Zero
	for _, lp := range provisions {
		if lp.UserID == req.UserID {
			contributed = contributed.Add(lp.Amount)
		}
	}
	if req.Amount.GreaterThan(contributed) {
		writeError(w, "withdrawal exceeds contributed liquidity", http.StatusBadRequest)
		return
	}

	state := market.EngineState()
	newPool, newP, _, err := cpmm.RemoveLiquidity(state.Pool, state.P, req.Amount.InexactFloat64())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	market.PoolYes = decimal.NewFromFloat(newPool.YES)
	market.PoolNo = decimal.NewFromFloat(newPool.NO)
	market.P = decimal.NewFromFloat(newP)
	market.TotalLiquidity = market.TotalLiquidity.Sub(req.Amount)
	if err := s.store.UpdateMarket(ctx, market); err != nil {
		writeError(w, "failed to update market", http.StatusInternalServerError)
		return
	}

	provision := &model.LiquidityProvision{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		MarketID:  market.ID,
		Amount:    req.Amount.Neg(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertLiquidityProvision(ctx, provision); err != nil {
		writeError(w, "failed to record withdrawal", http.StatusInternalServerError)
		return
	}
	if err := s.store.AdjustBalance(ctx, req.UserID, req.Amount); err != nil {
		writeError(w, "failed to adjust balance", http.StatusInternalServerError)
		return
	}

	slog.Info("liquidity withdrawn",
		"market", market.ID,
		"user", req.UserID,
		"amount", req.Amount.String(),
	)

	writeJSON(w, http.StatusOK, provision)
}
