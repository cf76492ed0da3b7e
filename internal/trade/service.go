// Package trade provides the HTTP handlers and business logic for creating
// markets, placing and selling bets, managing liquidity, and resolving
// markets.
//
// All monetary values use shopspring/decimal — never float64 for money. The
// pricing core works in float64; conversion happens at this boundary through
// the model package.
package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predictex/exchange-engine/internal/arb"
	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/fees"
	"github.com/predictex/exchange-engine/internal/match"
	"github.com/predictex/exchange-engine/internal/metrics"
	"github.com/predictex/exchange-engine/internal/model"
	"github.com/predictex/exchange-engine/internal/store"
)

// Service handles market operations. Uses a mutex for serialized trade
// execution (single-instance). For horizontal scaling, replace with
// distributed locking or database-level optimistic concurrency.
type Service struct {
	store   store.Store
	matcher *match.Matcher
	mu      sync.Mutex
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service using the given fee schedule.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, sched fees.Schedule, hub *WSHub) *Service {
	return &Service{
		store:   st,
		matcher: match.NewMatcher(sched),
		wsHub:   hub,
	}
}

// solver builds an arbitrage solver seeded with a market's lifetime fees.
func (s *Service) solver(market *model.Market) *arb.Solver {
	sv := arb.NewSolver(s.matcher)
	sv.CollectedFees = market.CollectedFees.Engine()
	sv.Trace = func(msg string, args ...any) {
		slog.Debug(msg, args...)
	}
	return sv
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation. Binary markets
// take an initial probability; multi-answer markets take the answer texts
// and start with equal probabilities summing to one.
type CreateMarketRequest struct {
	CreatorID   string          `json:"creator_id"`
	Question    string          `json:"question"`
	Mechanism   string          `json:"mechanism"` // "cpmm-1" or "cpmm-multi-1"
	InitialProb decimal.Decimal `json:"initial_prob"`
	Ante        decimal.Decimal `json:"ante"`
	Answers     []string        `json:"answers"`
}

// CreateMarketResponse bundles the market with its answers (multi only).
type CreateMarketResponse struct {
	Market  *model.Market  `json:"market"`
	Answers []model.Answer `json:"answers,omitempty"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.CreatorID == "" {
		writeError(w, "creator_id is required", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		writeError(w, "question is required", http.StatusBadRequest)
		return
	}
	ante := req.Ante.InexactFloat64()
	if ante < cpmm.MinimumLiquidity {
		writeError(w, "ante must be at least 100", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	market := &model.Market{
		ID:             uuid.New().String(),
		CreatorID:      req.CreatorID,
		Question:       req.Question,
		Mechanism:      req.Mechanism,
		Status:         model.StatusOpen,
		TotalLiquidity: req.Ante,
		CreatedAt:      now,
	}

	var answers []model.Answer
	switch req.Mechanism {
	case model.MechanismBinary:
		p := req.InitialProb.InexactFloat64()
		if p < cpmm.MinProb || p > cpmm.MaxProb {
			writeError(w, "initial_prob must be between 0.01 and 0.99", http.StatusBadRequest)
			return
		}
		market.PoolYes = req.Ante
		market.PoolNo = req.Ante
		market.P = req.InitialProb

	case model.MechanismMulti:
		if len(req.Answers) < 2 {
			writeError(w, "multi-answer markets need at least two answers", http.StatusBadRequest)
			return
		}
		// Equal initial probabilities q = 1/n. Pool sides are scaled so the
		// pool-implied probability at p = 0.5 is q while liquidity stays at
		// the ante.
		q := 1.0 / float64(len(req.Answers))
		poolYes := ante * math.Sqrt((1-q)/q)
		poolNo := ante * math.Sqrt(q/(1-q))
		market.P = decimal.NewFromFloat(0.5)
		for i, text := range req.Answers {
			answers = append(answers, model.Answer{
				ID:             uuid.New().String(),
				MarketID:       market.ID,
				Index:          i,
				Text:           text,
				PoolYes:        decimal.NewFromFloat(poolYes),
				PoolNo:         decimal.NewFromFloat(poolNo),
				Prob:           decimal.NewFromFloat(q),
				TotalLiquidity: req.Ante,
				CreatedAt:      now,
			})
		}

	default:
		writeError(w, "mechanism must be cpmm-1 or cpmm-multi-1", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.store.CreateMarket(ctx, market); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if len(answers) > 0 {
		ptrs := make([]*model.Answer, len(answers))
		for i := range answers {
			ptrs[i] = &answers[i]
		}
		if err := s.store.CreateAnswers(ctx, ptrs); err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	// The ante is the creator's liquidity subsidy.
	provision := &model.LiquidityProvision{
		ID:        uuid.New().String(),
		UserID:    req.CreatorID,
		MarketID:  market.ID,
		Amount:    req.Ante,
		CreatedAt: now,
	}
	if err := s.store.InsertLiquidityProvision(ctx, provision); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.AdjustBalance(ctx, req.CreatorID, req.Ante.Neg()); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.ActiveMarkets.Inc()

	slog.Info("market created",
		"id", market.ID,
		"creator", req.CreatorID,
		"mechanism", req.Mechanism,
		"ante", req.Ante.String(),
		"answers", len(answers),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_created",
			MarketID: market.ID,
		})
	}

	writeJSON(w, http.StatusCreated, CreateMarketResponse{Market: market, Answers: answers})
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, answers, ok := s.loadMarket(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, CreateMarketResponse{Market: market, Answers: answers})
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	// Optional filter by status query parameter.
	if status := r.URL.Query().Get("status"); status != "" {
		var filtered []model.Market
		for _, m := range markets {
			if m.Status == status {
				filtered = append(filtered, m)
			}
		}
		if filtered == nil {
			filtered = []model.Market{}
		}
		markets = filtered
	}

	writeJSON(w, http.StatusOK, markets)
}

// GetProb handles GET /api/v1/markets/{marketID}/prob
// Returns the market probability (binary) or per-answer probabilities.
func (s *Service) GetProb(w http.ResponseWriter, r *http.Request) {
	market, answers, ok := s.loadMarket(w, r)
	if !ok {
		return
	}

	if market.Mechanism == model.MechanismMulti {
		probs := make(map[string]decimal.Decimal, len(answers))
		for _, a := range answers {
			probs[a.ID] = a.Prob
		}
		writeJSON(w, http.StatusOK, probs)
		return
	}

	prob := market.EngineState().Probability()
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"prob": decimal.NewFromFloat(prob),
	})
}

// QuoteResponse is the read-side preview of a bet.
type QuoteResponse struct {
	Shares    decimal.Decimal `json:"shares"`
	ProbAfter decimal.Decimal `json:"prob_after"`
	Fees      decimal.Decimal `json:"fees"`
}

// Quote handles GET /api/v1/markets/{marketID}/quote?outcome=YES&amount=50
// Prices a bet against the current pool and resting orders without
// executing it. For multi-answer markets pass answer_id as well.
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	market, answers, ok := s.loadMarket(w, r)
	if !ok {
		return
	}

	outcome := cpmm.Outcome(r.URL.Query().Get("outcome"))
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil || !outcome.Valid() {
		writeError(w, "outcome and amount query parameters are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	openBets, balances, _, err := s.loadOrderBook(ctx, market.ID)
	if err != nil {
		writeError(w, "failed to load order book", http.StatusInternalServerError)
		return
	}

	amountF := amount.InexactFloat64()
	if market.Mechanism == model.MechanismMulti {
		answerID := r.URL.Query().Get("answer_id")
		engineAnswers := engineAnswers(answers)
		book := match.NewBook(model.EngineOrders(openBets), balances)
		result, err := s.solver(market).Bet(engineAnswers, answerID, outcome, amountF, nil, book)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, QuoteResponse{
			Shares:    decimal.NewFromFloat(result.NewBetResult.TakerShares()),
			ProbAfter: decimal.NewFromFloat(result.NewBetResult.Answer.Prob),
			Fees:      decimal.NewFromFloat(result.NewBetResult.TotalFees.Total()),
		})
		return
	}

	res, err := s.matcher.ComputeFills(market.EngineState(), outcome, amountF, nil, model.EngineOrders(openBets), balances, false)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{
		Shares:    decimal.NewFromFloat(res.TakerShares()),
		ProbAfter: decimal.NewFromFloat(res.State.Probability()),
		Fees:      decimal.NewFromFloat(res.TotalFees.Total()),
	})
}

// GetMarketBets handles GET /api/v1/markets/{marketID}/bets
func (s *Service) GetMarketBets(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	bets, err := s.store.GetBetsByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get market bets", http.StatusInternalServerError)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// GetUserBets handles GET /api/v1/users/{userID}/bets
func (s *Service) GetUserBets(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	bets, err := s.store.GetBetsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to get user bets", http.StatusInternalServerError)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// GetBalance handles GET /api/v1/users/{userID}/balance
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	balances, err := s.store.GetBalances(r.Context(), []string{userID})
	if err != nil {
		writeError(w, "failed to get balance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"balance": balances[userID],
	})
}

// --- Shared helpers ---

// loadMarket fetches the market named in the route plus its answers; it
// writes the error response itself when the market is missing.
func (s *Service) loadMarket(w http.ResponseWriter, r *http.Request) (*model.Market, []model.Answer, bool) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return nil, nil, false
	}

	var answers []model.Answer
	if market.Mechanism == model.MechanismMulti {
		answers, err = s.store.GetAnswers(r.Context(), marketID)
		if err != nil {
			writeError(w, "failed to load answers", http.StatusInternalServerError)
			return nil, nil, false
		}
	}
	return market, answers, true
}

// loadOrderBook loads the market's open limit bets, the balances of their
// owners as the float64 map the matcher tracks, and an index by bet ID.
func (s *Service) loadOrderBook(ctx context.Context, marketID string) ([]*model.Bet, map[string]float64, map[string]*model.Bet, error) {
	open, err := s.store.GetOpenLimitBets(ctx, marketID)
	if err != nil {
		return nil, nil, nil, err
	}

	bets := make([]*model.Bet, len(open))
	byID := make(map[string]*model.Bet, len(open))
	userIDs := make([]string, 0, len(open))
	seen := make(map[string]bool)
	for i := range open {
		b := open[i]
		bets[i] = &b
		byID[b.ID] = &b
		if !seen[b.UserID] {
			seen[b.UserID] = true
			userIDs = append(userIDs, b.UserID)
		}
	}

	balances := make(map[string]float64, len(userIDs))
	if len(userIDs) > 0 {
		decBalances, err := s.store.GetBalances(ctx, userIDs)
		if err != nil {
			return nil, nil, nil, err
		}
		for id, bal := range decBalances {
			balances[id] = bal.InexactFloat64()
		}
	}
	return bets, balances, byID, nil
}

func engineAnswers(answers []model.Answer) []arb.Answer {
	out := make([]arb.Answer, len(answers))
	for i := range answers {
		out[i] = answers[i].EngineAnswer()
	}
	return out
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
