package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predictex/exchange-engine/internal/arb"
	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/match"
	"github.com/predictex/exchange-engine/internal/metrics"
	"github.com/predictex/exchange-engine/internal/model"
	"github.com/predictex/exchange-engine/internal/numeric"
)

// fillEpsilon is the residual below which an order counts as fully filled.
var fillEpsilon = decimal.NewFromFloat(1e-6)

// PlaceBetRequest is the JSON body for POST /api/v1/bets. A nil limit_prob
// places a market order; otherwise the bet rests on the book at that
// probability until filled, cancelled, or expired.
type PlaceBetRequest struct {
	UserID    string           `json:"user_id"`
	MarketID  string           `json:"market_id"`
	AnswerID  string           `json:"answer_id,omitempty"`
	Outcome   string           `json:"outcome"`
	Amount    decimal.Decimal  `json:"amount"`
	LimitProb *decimal.Decimal `json:"limit_prob,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

// PlaceBet handles POST /api/v1/bets
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	outcome := cpmm.Outcome(req.Outcome)
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !outcome.Valid() {
		writeError(w, "outcome must be YES or NO", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	var limitProb *float64
	if req.LimitProb != nil {
		lp := req.LimitProb.InexactFloat64()
		if lp <= 0 || lp >= 1 {
			writeError(w, "limit_prob must be between 0 and 1 exclusive", http.StatusBadRequest)
			return
		}
		limitProb = &lp
	}

	ctx := r.Context()

	// Serialize trade execution.
	s.mu.Lock()
	defer s.mu.Unlock()

	market, answers, ok := s.openMarket(ctx, w, req.MarketID)
	if !ok {
		return
	}

	userBalances, err := s.store.GetBalances(ctx, []string{req.UserID})
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}
	if userBalances[req.UserID].LessThan(req.Amount) {
		writeError(w, "insufficient balance", http.StatusBadRequest)
		return
	}

	openBets, balances, byID, err := s.loadOrderBook(ctx, market.ID)
	if err != nil {
		writeError(w, "failed to load order book", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	amountF := req.Amount.InexactFloat64()
	bet := &model.Bet{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		MarketID:    market.ID,
		AnswerID:    req.AnswerID,
		Outcome:     req.Outcome,
		OrderAmount: req.Amount,
		LimitProb:   req.LimitProb,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   now,
	}

	if market.Mechanism == model.MechanismMulti {
		engine := engineAnswers(answers)
		book := match.NewBook(model.EngineOrders(openBets), balances)
		sv := s.solver(market)
		result, err := sv.Bet(engine, req.AnswerID, outcome, amountF, limitProb, book)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if numeric.Equal(result.NewBetResult.TakerAmount(), 0) && limitProb == nil {
			writeError(w, "no liquidity available", http.StatusConflict)
			return
		}
		metrics.SolverIterations.Observe(float64(sv.Iterations))

		target, _ := findModelAnswer(answers, req.AnswerID)
		bet.ProbBefore = target.Prob

		if err := s.persistMultiBet(ctx, market, answers, bet, result.NewBetResult, result.OtherBetResults, byID); err != nil {
			writeError(w, "failed to record bet", http.StatusInternalServerError)
			return
		}
		bet.ProbAfter = decimal.NewFromFloat(result.NewBetResult.Answer.Prob)
	} else {
		state := market.EngineState()
		bet.ProbBefore = decimal.NewFromFloat(state.Probability())

		res, err := s.matcher.ComputeFills(state, outcome, amountF, limitProb, model.EngineOrders(openBets), balances, false)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if numeric.Equal(res.TakerAmount(), 0) && limitProb == nil {
			writeError(w, "no liquidity available", http.StatusConflict)
			return
		}

		applyTakerResult(bet, res.Takers, res.TakerAmount(), res.TakerShares())
		bet.Fees = model.FeesFromEngine(res.TotalFees)
		bet.IsFilled = limitProb == nil || bet.Remaining().LessThanOrEqual(fillEpsilon)
		bet.ProbAfter = decimal.NewFromFloat(res.State.Probability())

		if err := s.store.InsertBet(ctx, bet); err != nil {
			writeError(w, "failed to record bet", http.StatusInternalServerError)
			return
		}
		if err := s.applyMatch(ctx, bet.ID, res.Makers, res.OrdersToCancel, byID); err != nil {
			writeError(w, "failed to record fills", http.StatusInternalServerError)
			return
		}

		market.ApplyEngineState(res.State)
		if err := s.store.UpdateMarket(ctx, market); err != nil {
			writeError(w, "failed to update market", http.StatusInternalServerError)
			return
		}
	}

	if bet.Amount.IsPositive() {
		if err := s.store.AdjustBalance(ctx, req.UserID, bet.Amount.Neg()); err != nil {
			writeError(w, "failed to adjust balance", http.StatusInternalServerError)
			return
		}
	}

	metrics.BetsTotal.WithLabelValues(req.Outcome).Inc()
	metrics.BetLatency.WithLabelValues(req.Outcome).Observe(time.Since(start).Seconds())
	metrics.MarketVolume.WithLabelValues(market.ID, req.Outcome).Add(bet.Amount.InexactFloat64())
	countFills(bet.Fills)

	slog.Info("bet placed",
		"bet_id", bet.ID,
		"user", req.UserID,
		"market", market.ID,
		"outcome", req.Outcome,
		"amount", bet.Amount.String(),
		"shares", bet.Shares.String(),
		"prob_after", bet.ProbAfter.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "bet_placed",
			MarketID: market.ID,
			AnswerID: req.AnswerID,
			Outcome:  req.Outcome,
			Prob:     bet.ProbAfter.String(),
			Amount:   bet.Amount.String(),
			Shares:   bet.Shares.String(),
		})
	}

	writeJSON(w, http.StatusCreated, bet)
}

// PlaceBetMultiRequest buys YES across several answers of one market at
// once, spending amount in total.
type PlaceBetMultiRequest struct {
	UserID    string          `json:"user_id"`
	MarketID  string          `json:"market_id"`
	AnswerIDs []string        `json:"answer_ids"`
	Amount    decimal.Decimal `json:"amount"`
}

// PlaceBetMulti handles POST /api/v1/bets/multi
func (s *Service) PlaceBetMulti(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetMultiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || len(req.AnswerIDs) == 0 {
		writeError(w, "user_id and answer_ids are required", http.StatusBadRequest)
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
	if market.Mechanism != model.MechanismMulti {
		writeError(w, "multi-answer bets need a cpmm-multi-1 market", http.StatusBadRequest)
		return
	}

	openBets, balances, byID, err := s.loadOrderBook(ctx, market.ID)
	if err != nil {
		writeError(w, "failed to load order book", http.StatusInternalServerError)
		return
	}

	book := match.NewBook(model.EngineOrders(openBets), balances)
	sv := s.solver(market)
	result, err := sv.BetMulti(engineAnswers(answers), req.AnswerIDs, req.Amount.InexactFloat64(), nil, book)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	metrics.SolverIterations.Observe(float64(sv.Iterations))

	now := time.Now().UTC()
	var bets []*model.Bet
	totalAmount := decimal.Zero
	for _, res := range result.NewBetResults {
		bet := &model.Bet{
			ID:          uuid.New().String(),
			UserID:      req.UserID,
			MarketID:    market.ID,
			AnswerID:    res.Answer.ID,
			Outcome:     string(res.Outcome),
			OrderAmount: decimal.NewFromFloat(res.TakerAmount()),
			IsFilled:    true,
			CreatedAt:   now,
		}
		applyTakerResult(bet, res.Takers, res.TakerAmount(), res.TakerShares())
		bet.Fees = model.FeesFromEngine(res.TotalFees)
		bet.ProbAfter = decimal.NewFromFloat(res.Answer.Prob)
		if err := s.store.InsertBet(ctx, bet); err != nil {
			writeError(w, "failed to record bet", http.StatusInternalServerError)
			return
		}
		if err := s.applyMatch(ctx, bet.ID, res.Makers, res.OrdersToCancel, byID); err != nil {
			writeError(w, "failed to record fills", http.StatusInternalServerError)
			return
		}
		market.CollectedFees = market.CollectedFees.Add(model.FeesFromEngine(res.TotalFees))
		totalAmount = totalAmount.Add(bet.Amount)
		bets = append(bets, bet)
	}
	if err := s.persistOtherResults(ctx, market, req.UserID, result.OtherBetResults, byID, now); err != nil {
		writeError(w, "failed to record rebalance", http.StatusInternalServerError)
		return
	}
	if err := s.persistAnswers(ctx, answers, result.UpdatedAnswers); err != nil {
		writeError(w, "failed to update answers", http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdateMarket(ctx, market); err != nil {
		writeError(w, "failed to update market", http.StatusInternalServerError)
		return
	}
	if totalAmount.IsPositive() {
		if err := s.store.AdjustBalance(ctx, req.UserID, totalAmount.Neg()); err != nil {
			writeError(w, "failed to adjust balance", http.StatusInternalServerError)
			return
		}
	}

	slog.Info("multi bet placed",
		"user", req.UserID,
		"market", market.ID,
		"answers", len(req.AnswerIDs),
		"amount", totalAmount.String(),
	)

	writeJSON(w, http.StatusCreated, bets)
}

// SellSharesRequest is the JSON body for POST /api/v1/sell.
type SellSharesRequest struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	AnswerID string          `json:"answer_id,omitempty"`
	Outcome  string          `json:"outcome"`
	Shares   decimal.Decimal `json:"shares"` // zero = sell entire position
}

// SellSharesResponse reports the proceeds of a sale.
type SellSharesResponse struct {
	Bet       *model.Bet      `json:"bet"`
	SaleValue decimal.Decimal `json:"sale_value"`
}

// SellShares handles POST /api/v1/sell
// Selling is buying the opposite outcome and redeeming the share pairs.
func (s *Service) SellShares(w http.ResponseWriter, r *http.Request) {
	var req SellSharesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	outcome := cpmm.Outcome(req.Outcome)
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !outcome.Valid() {
		writeError(w, "outcome must be YES or NO", http.StatusBadRequest)
		return
	}
	if req.Shares.IsNegative() {
		writeError(w, "shares must not be negative", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	market, answers, ok := s.openMarket(ctx, w, req.MarketID)
	if !ok {
		return
	}

	held, err := s.userShares(ctx, market.ID, req.UserID, req.AnswerID, req.Outcome)
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}
	shares := req.Shares
	if shares.IsZero() {
		shares = held
	}
	if !shares.IsPositive() || shares.GreaterThan(held.Add(fillEpsilon)) {
		writeError(w, "insufficient shares", http.StatusBadRequest)
		return
	}

	openBets, balances, byID, err := s.loadOrderBook(ctx, market.ID)
	if err != nil {
		writeError(w, "failed to load order book", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	sharesF := shares.InexactFloat64()
	bet := &model.Bet{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		MarketID:  market.ID,
		AnswerID:  req.AnswerID,
		Outcome:   req.Outcome,
		IsFilled:  true,
		CreatedAt: now,
	}
	var saleValue decimal.Decimal

	if market.Mechanism == model.MechanismMulti {
		book := match.NewBook(model.EngineOrders(openBets), balances)
		sv := s.solver(market)
		result, err := sv.Sale(engineAnswers(answers), req.AnswerID, sharesF, outcome, nil, book)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		metrics.SolverIterations.Observe(float64(sv.Iterations))

		target, _ := findModelAnswer(answers, req.AnswerID)
		bet.ProbBefore = target.Prob
		saleValue = decimal.NewFromFloat(result.SaleValue)

		res := result.NewBetResult
		applyTakerResult(bet, res.Takers, res.TakerAmount(), res.TakerShares())
		bet.Fees = model.FeesFromEngine(res.TotalFees)
		bet.ProbAfter = decimal.NewFromFloat(res.Answer.Prob)
		if err := s.store.InsertBet(ctx, bet); err != nil {
			writeError(w, "failed to record sale", http.StatusInternalServerError)
			return
		}
		if err := s.applyMatch(ctx, bet.ID, res.Makers, res.OrdersToCancel, byID); err != nil {
			writeError(w, "failed to record fills", http.StatusInternalServerError)
			return
		}
		if err := s.persistOtherResults(ctx, market, req.UserID, result.OtherBetResults, byID, now); err != nil {
			writeError(w, "failed to record rebalance", http.StatusInternalServerError)
			return
		}
		updated := make([]arb.Answer, 0, 1+len(result.OtherBetResults))
		updated = append(updated, res.Answer)
		for _, o := range result.OtherBetResults {
			updated = append(updated, o.Answer)
		}
		if err := s.persistAnswers(ctx, answers, updated); err != nil {
			writeError(w, "failed to update answers", http.StatusInternalServerError)
			return
		}
		market.CollectedFees = market.CollectedFees.Add(model.FeesFromEngine(res.TotalFees))
		if err := s.store.UpdateMarket(ctx, market); err != nil {
			writeError(w, "failed to update market", http.StatusInternalServerError)
			return
		}
	} else {
		state := market.EngineState()
		bet.ProbBefore = decimal.NewFromFloat(state.Probability())

		res, err := s.matcher.Sale(state, sharesF, outcome, model.EngineOrders(openBets), balances)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		saleValue = decimal.NewFromFloat(res.SaleValue)

		var amount, sharesSum float64
		for _, f := range res.Takers {
			amount += f.Amount
			sharesSum += f.Shares
		}
		applyTakerResult(bet, res.Takers, amount, sharesSum)
		bet.Fees = model.FeesFromEngine(res.Fees)
		bet.ProbAfter = decimal.NewFromFloat(res.State.Probability())

		if err := s.store.InsertBet(ctx, bet); err != nil {
			writeError(w, "failed to record sale", http.StatusInternalServerError)
			return
		}
		if err := s.applyMatch(ctx, bet.ID, res.Makers, res.OrdersToCancel, byID); err != nil {
			writeError(w, "failed to record fills", http.StatusInternalServerError)
			return
		}
		market.ApplyEngineState(res.State)
		if err := s.store.UpdateMarket(ctx, market); err != nil {
			writeError(w, "failed to update market", http.StatusInternalServerError)
			return
		}
	}

	if err := s.store.AdjustBalance(ctx, req.UserID, saleValue); err != nil {
		writeError(w, "failed to adjust balance", http.StatusInternalServerError)
		return
	}

	slog.Info("shares sold",
		"bet_id", bet.ID,
		"user", req.UserID,
		"market", market.ID,
		"outcome", req.Outcome,
		"shares", shares.String(),
		"sale_value", saleValue.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "shares_sold",
			MarketID: market.ID,
			AnswerID: req.AnswerID,
			Outcome:  req.Outcome,
			Prob:     bet.ProbAfter.String(),
			Shares:   shares.Neg().String(),
		})
	}

	writeJSON(w, http.StatusOK, SellSharesResponse{Bet: bet, SaleValue: saleValue})
}

// SellEquallyRequest sells the caller's YES shares across several answers of
// a multi-answer market, working down from the smallest common position.
type SellEquallyRequest struct {
	UserID    string   `json:"user_id"`
	MarketID  string   `json:"market_id"`
	AnswerIDs []string `json:"answer_ids"` // empty = every answer with a position
}

// SellEqually handles POST /api/v1/sell-equally
func (s *Service) SellEqually(w http.ResponseWriter, r *http.Request) {
	var req SellEquallyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	market, answers, ok := s.openMarket(ctx, w, req.MarketID)
	if !ok {
		return
	}
	if market.Mechanism != model.MechanismMulti {
		writeError(w, "sell-equally needs a cpmm-multi-1 market", http.StatusBadRequest)
		return
	}

	wanted := make(map[string]bool, len(req.AnswerIDs))
	for _, id := range req.AnswerIDs {
		wanted[id] = true
	}
	sharesByAnswer := make(map[string]float64)
	for _, a := range answers {
		if len(wanted) > 0 && !wanted[a.ID] {
			continue
		}
		held, err := s.userShares(ctx, market.ID, req.UserID, a.ID, string(cpmm.Yes))
		if err != nil {
			writeError(w, "failed to load position", http.StatusInternalServerError)
			return
		}
		if held.IsPositive() {
			sharesByAnswer[a.ID] = held.InexactFloat64()
		}
	}
	if len(sharesByAnswer) == 0 {
		writeError(w, "no shares to sell", http.StatusBadRequest)
		return
	}

	openBets, balances, byID, err := s.loadOrderBook(ctx, market.ID)
	if err != nil {
		writeError(w, "failed to load order book", http.StatusInternalServerError)
		return
	}

	book := match.NewBook(model.EngineOrders(openBets), balances)
	sv := s.solver(market)
	result, err := sv.SellEqually(engineAnswers(answers), sharesByAnswer, book)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	metrics.SolverIterations.Observe(float64(sv.Iterations))

	now := time.Now().UTC()
	var bets []*model.Bet
	proceeds := decimal.Zero
	for _, res := range result.NewBetResults {
		bet := &model.Bet{
			ID:        uuid.New().String(),
			UserID:    req.UserID,
			MarketID:  market.ID,
			AnswerID:  res.Answer.ID,
			Outcome:   string(cpmm.Yes),
			IsFilled:  true,
			CreatedAt: now,
		}
		applyTakerResult(bet, res.Takers, res.TakerAmount(), res.TakerShares())
		bet.Fees = model.FeesFromEngine(res.TotalFees)
		bet.ProbAfter = decimal.NewFromFloat(res.Answer.Prob)
		if err := s.store.InsertBet(ctx, bet); err != nil {
			writeError(w, "failed to record sale", http.StatusInternalServerError)
			return
		}
		if err := s.applyMatch(ctx, bet.ID, res.Makers, res.OrdersToCancel, byID); err != nil {
			writeError(w, "failed to record fills", http.StatusInternalServerError)
			return
		}
		market.CollectedFees = market.CollectedFees.Add(model.FeesFromEngine(res.TotalFees))
		// Sale fills carry negative amounts; the proceeds are their negation.
		proceeds = proceeds.Sub(bet.Amount)
		bets = append(bets, bet)
	}
	if err := s.persistOtherResults(ctx, market, req.UserID, result.OtherBetResults, byID, now); err != nil {
		writeError(w, "failed to record rebalance", http.StatusInternalServerError)
		return
	}
	if err := s.persistAnswers(ctx, answers, result.UpdatedAnswers); err != nil {
		writeError(w, "failed to update answers", http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdateMarket(ctx, market); err != nil {
		writeError(w, "failed to update market", http.StatusInternalServerError)
		return
	}
	if !proceeds.IsZero() {
		if err := s.store.AdjustBalance(ctx, req.UserID, proceeds); err != nil {
			writeError(w, "failed to adjust balance", http.StatusInternalServerError)
			return
		}
	}

	slog.Info("positions sold equally",
		"user", req.UserID,
		"market", market.ID,
		"answers", len(sharesByAnswer),
		"proceeds", proceeds.String(),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"bets":     bets,
		"proceeds": proceeds,
	})
}

// CancelBetRequest identifies the caller for authorization.
type CancelBetRequest struct {
	UserID string `json:"user_id"`
}

// CancelBet handles POST /api/v1/bets/{betID}/cancel
func (s *Service) CancelBet(w http.ResponseWriter, r *http.Request) {
	betID := chi.URLParam(r, "betID")

	var req CancelBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	bet, err := s.store.GetBet(ctx, betID)
	if err != nil {
		writeError(w, "bet not found", http.StatusNotFound)
		return
	}
	if bet.UserID != req.UserID {
		writeError(w, "bet belongs to another user", http.StatusForbidden)
		return
	}
	if bet.LimitProb == nil || !bet.Open() {
		writeError(w, "bet is not an open limit order", http.StatusConflict)
		return
	}

	bet.IsCancelled = true
	if err := s.store.UpdateBet(ctx, bet); err != nil {
		writeError(w, "failed to cancel bet", http.StatusInternalServerError)
		return
	}

	slog.Info("bet cancelled", "bet_id", betID, "user", req.UserID)
	writeJSON(w, http.StatusOK, bet)
}

// --- Persistence helpers ---

// openMarket loads a market and its answers and rejects trading on missing
// or resolved markets, writing the error response itself.
func (s *Service) openMarket(ctx context.Context, w http.ResponseWriter, marketID string) (*model.Market, []model.Answer, bool) {
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return nil, nil, false
	}
	if market.Status != model.StatusOpen {
		writeError(w, "market is not open for trading", http.StatusConflict)
		return nil, nil, false
	}

	var answers []model.Answer
	if market.Mechanism == model.MechanismMulti {
		answers, err = s.store.GetAnswers(ctx, marketID)
		if err != nil {
			writeError(w, "failed to load answers", http.StatusInternalServerError)
			return nil, nil, false
		}
	}
	return market, answers, true
}

// applyTakerResult writes a result's taker fills onto the bet record.
func applyTakerResult(bet *model.Bet, takers []match.Fill, amount, shares float64) {
	bet.Amount = decimal.NewFromFloat(amount)
	bet.Shares = decimal.NewFromFloat(shares)
	bet.Fills = model.FillsFromEngine(takers)
	if bet.OrderAmount.IsZero() {
		bet.OrderAmount = bet.Amount
	}
}

// applyMatch persists the maker side of one matching result: advances each
// matched limit bet, debits its owner, and cancels drained or expired
// orders.
func (s *Service) applyMatch(ctx context.Context, takerBetID string, makers []match.MakerFill, cancels []*match.LimitOrder, byID map[string]*model.Bet) error {
	for _, mf := range makers {
		bet, ok := byID[mf.Order.ID]
		if !ok {
			continue
		}
		amount := decimal.NewFromFloat(mf.Amount)
		bet.Amount = bet.Amount.Add(amount)
		bet.Shares = bet.Shares.Add(decimal.NewFromFloat(mf.Shares))
		bet.Fills = append(bet.Fills, model.Fill{
			MatchedBetID: takerBetID,
			Amount:       amount,
			Shares:       decimal.NewFromFloat(mf.Shares),
			Kind:         match.KindDirect.String(),
			Timestamp:    mf.Timestamp,
		})
		if bet.Remaining().LessThanOrEqual(fillEpsilon) {
			bet.IsFilled = true
		}
		if err := s.store.UpdateBet(ctx, bet); err != nil {
			return err
		}
		if err := s.store.AdjustBalance(ctx, bet.UserID, amount.Neg()); err != nil {
			return err
		}
	}
	for _, o := range cancels {
		bet, ok := byID[o.ID]
		if !ok || bet.IsCancelled {
			continue
		}
		bet.IsCancelled = true
		if err := s.store.UpdateBet(ctx, bet); err != nil {
			return err
		}
	}
	return nil
}

// persistMultiBet records the taker bet on the traded answer plus the
// solver's rebalancing legs on every other answer.
func (s *Service) persistMultiBet(ctx context.Context, market *model.Market, answers []model.Answer, bet *model.Bet, res arb.BetResult, others []arb.BetResult, byID map[string]*model.Bet) error {
	applyTakerResult(bet, res.Takers, res.TakerAmount(), res.TakerShares())
	bet.Fees = model.FeesFromEngine(res.TotalFees)
	bet.IsFilled = bet.LimitProb == nil || bet.Remaining().LessThanOrEqual(fillEpsilon)

	if err := s.store.InsertBet(ctx, bet); err != nil {
		return err
	}
	if err := s.applyMatch(ctx, bet.ID, res.Makers, res.OrdersToCancel, byID); err != nil {
		return err
	}
	if err := s.persistOtherResults(ctx, market, bet.UserID, others, byID, bet.CreatedAt); err != nil {
		return err
	}

	updated := make([]arb.Answer, 0, 1+len(others))
	updated = append(updated, res.Answer)
	for _, o := range others {
		updated = append(updated, o.Answer)
	}
	if err := s.persistAnswers(ctx, answers, updated); err != nil {
		return err
	}

	market.CollectedFees = market.CollectedFees.Add(model.FeesFromEngine(res.TotalFees))
	return s.store.UpdateMarket(ctx, market)
}

// persistOtherResults stores the solver's rebalancing legs as redemption
// bets. Their amounts and shares net to roughly zero after conversion, so
// no balance adjustment happens here; they exist as the audit record of the
// arbitrage.
func (s *Service) persistOtherResults(ctx context.Context, market *model.Market, userID string, others []arb.BetResult, byID map[string]*model.Bet, now time.Time) error {
	for _, o := range others {
		if len(o.Takers) == 0 && len(o.Makers) == 0 {
			continue
		}
		var amount, shares float64
		for _, f := range o.Takers {
			amount += f.Amount
			shares += f.Shares
		}
		redemption := &model.Bet{
			ID:           uuid.New().String(),
			UserID:       userID,
			MarketID:     market.ID,
			AnswerID:     o.Answer.ID,
			Outcome:      string(o.Outcome),
			Amount:       decimal.NewFromFloat(amount),
			Shares:       decimal.NewFromFloat(shares),
			Fills:        model.FillsFromEngine(o.Takers),
			ProbAfter:    decimal.NewFromFloat(o.Answer.Prob),
			IsFilled:     true,
			IsRedemption: true,
			CreatedAt:    now,
		}
		if err := s.store.InsertBet(ctx, redemption); err != nil {
			return err
		}
		if err := s.applyMatch(ctx, redemption.ID, o.Makers, o.OrdersToCancel, byID); err != nil {
			return err
		}
	}
	return nil
}

// persistAnswers writes the solver's updated pool snapshots back to their
// answer rows.
func (s *Service) persistAnswers(ctx context.Context, answers []model.Answer, updated []arb.Answer) error {
	for _, ua := range updated {
		a, ok := findModelAnswer(answers, ua.ID)
		if !ok {
			continue
		}
		a.ApplyEngineAnswer(ua)
		if err := s.store.UpdateAnswer(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func findModelAnswer(answers []model.Answer, id string) (*model.Answer, bool) {
	for i := range answers {
		if answers[i].ID == id {
			return &answers[i], true
		}
	}
	return nil, false
}

// userShares nets a user's position in one outcome of one answer from the
// bet history. Sales carry negative shares, so a plain sum is the position.
func (s *Service) userShares(ctx context.Context, marketID, userID, answerID, outcome string) (decimal.Decimal, error) {
	bets, err := s.store.GetBetsByMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for i := range bets {
		b := &bets[i]
		if b.UserID != userID || b.AnswerID != answerID || b.Outcome != outcome {
			continue
		}
		total = total.Add(b.Shares)
	}
	return total, nil
}

func countFills(fills []model.Fill) {
	for _, f := range fills {
		source := "pool"
		if f.MatchedBetID != "" {
			source = "order"
		}
		metrics.FillsTotal.WithLabelValues(f.Kind, source).Inc()
	}
}
