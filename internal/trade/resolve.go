package trade

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predictex/exchange-engine/internal/metrics"
	"github.com/predictex/exchange-engine/internal/model"
	"github.com/predictex/exchange-engine/internal/payout"
)

// ResolveRequest is the JSON body for POST /api/v1/markets/{marketID}/resolve.
// Prob is required for MKT resolutions; AnswerWeights is required for
// weighted multi-answer resolutions and maps answer IDs to payout weights.
type ResolveRequest struct {
	ResolverID    string                     `json:"resolver_id"`
	Outcome       string                     `json:"outcome"`
	Prob          *decimal.Decimal           `json:"prob,omitempty"`
	AnswerWeights map[string]decimal.Decimal `json:"answer_weights,omitempty"`
}

// ResolveResponse reports the settlement of a market.
type ResolveResponse struct {
	Market           *model.Market       `json:"market"`
	TraderPayouts    []payout.UserPayout `json:"trader_payouts"`
	LiquidityPayouts []payout.UserPayout `json:"liquidity_payouts"`
	CreatorPayout    decimal.Decimal     `json:"creator_payout"`
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve
// Settles the market: pays out traders and liquidity providers, credits the
// creator's fee share, and cancels any resting limit orders.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ResolverID == "" {
		writeError(w, "resolver_id is required", http.StatusBadRequest)
		return
	}
	switch req.Outcome {
	case model.ResolutionYes, model.ResolutionNo, model.ResolutionMkt, model.ResolutionCancel:
	default:
		writeError(w, "outcome must be YES, NO, MKT, or CANCEL", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	market, answers, ok := s.openMarket(ctx, w, chi.URLParam(r, "marketID"))
	if !ok {
		return
	}
	if market.CreatorID != req.ResolverID {
		writeError(w, "only the market creator can resolve", http.StatusForbidden)
		return
	}

	now := time.Now().UTC()
	resolution := &model.Resolution{
		Outcome:       req.Outcome,
		Prob:          req.Prob,
		AnswerWeights: req.AnswerWeights,
		ResolverID:    req.ResolverID,
		ResolvedAt:    now,
	}

	bets, err := s.store.GetBetsByMarket(ctx, market.ID)
	if err != nil {
		writeError(w, "failed to load bets", http.StatusInternalServerError)
		return
	}
	provisions, err := s.store.GetLiquidityProvisions(ctx, market.ID)
	if err != nil {
		writeError(w, "failed to load provisions", http.StatusInternalServerError)
		return
	}

	betPtrs := make([]*model.Bet, len(bets))
	for i := range bets {
		betPtrs[i] = &bets[i]
	}
	answerPtrs := make([]*model.Answer, len(answers))
	for i := range answers {
		answerPtrs[i] = &answers[i]
	}
	provisionPtrs := make([]*model.LiquidityProvision, len(provisions))
	for i := range provisions {
		provisionPtrs[i] = &provisions[i]
	}

	traderPayouts, err := payout.TraderPayouts(market, betPtrs, resolution)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	liquidityPayouts, err := payout.LiquidityPayouts(market, answerPtrs, provisionPtrs, resolution)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	creatorPayout := payout.CreatorPayout(market)

	// Settlement is committed before balances are credited so a crash
	// mid-payout cannot re-open the market.
	market.Status = model.StatusResolved
	market.ResolvedAt = &now
	market.Resolution = resolution
	if err := s.store.UpdateMarket(ctx, market); err != nil {
		writeError(w, "failed to resolve market", http.StatusInternalServerError)
		return
	}

	// Cancel resting limit orders.
	for _, b := range betPtrs {
		if b.LimitProb != nil && b.Open() {
			b.IsCancelled = true
			if err := s.store.UpdateBet(ctx, b); err != nil {
				writeError(w, "failed to cancel open orders", http.StatusInternalServerError)
				return
			}
		}
	}

	for _, p := range traderPayouts {
		if err := s.store.AdjustBalance(ctx, p.UserID, p.Payout); err != nil {
			writeError(w, "failed to pay traders", http.StatusInternalServerError)
			return
		}
	}
	for _, p := range liquidityPayouts {
		if err := s.store.AdjustBalance(ctx, p.UserID, p.Payout); err != nil {
			writeError(w, "failed to pay liquidity providers", http.StatusInternalServerError)
			return
		}
	}
	if creatorPayout.IsPositive() {
		if err := s.store.AdjustBalance(ctx, market.CreatorID, creatorPayout); err != nil {
			writeError(w, "failed to pay creator", http.StatusInternalServerError)
			return
		}
	}

	metrics.ResolutionsTotal.WithLabelValues(req.Outcome).Inc()
	metrics.ActiveMarkets.Dec()
	metrics.FeesCollected.WithLabelValues("creator").Add(market.CollectedFees.Creator.InexactFloat64())
	metrics.FeesCollected.WithLabelValues("platform").Add(market.CollectedFees.Platform.InexactFloat64())
	metrics.FeesCollected.WithLabelValues("liquidity").Add(market.CollectedFees.Liquidity.InexactFloat64())

	slog.Info("market resolved",
		"market", market.ID,
		"outcome", req.Outcome,
		"traders_paid", len(traderPayouts),
		"providers_paid", len(liquidityPayouts),
		"creator_payout", creatorPayout.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_resolved",
			MarketID: market.ID,
			Outcome:  req.Outcome,
		})
	}

	writeJSON(w, http.StatusOK, ResolveResponse{
		Market:           market,
		TraderPayouts:    traderPayouts,
		LiquidityPayouts: liquidityPayouts,
		CreatorPayout:    creatorPayout,
	})
}
