// Package arb implements the sum-to-one arbitrage solver for multi-answer
// markets. A trade on one answer is rebalanced across every other answer by
// converting share bundles, so that after the trade the answer probabilities
// again sum to one.
//
// The key identity: s YES shares in one answer equal s NO shares in each of
// the other answers plus (n-2)*s in cash, where n is the number of answers.
// The solver bisects over the conversion size until the probability sum
// reaches one, then commits the resulting fills.
package arb

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/fees"
	"github.com/predictex/exchange-engine/internal/match"
	"github.com/predictex/exchange-engine/internal/numeric"
)

const (
	// ExtraManaEpsilon ends the multi-answer rebet loop once the leftover
	// arbitrage proceeds are too small to matter.
	ExtraManaEpsilon = 0.01
	// ProbSumTolerance is how far the post-trade probability sum may drift
	// from one.
	ProbSumTolerance = 1e-3
	// maxShareGrowthSteps bounds the exponential search for an upper bound
	// on the sum-to-one conversion size.
	maxShareGrowthSteps = 32
)

var (
	// ErrUnknownAnswer is returned when the trade references an answer ID
	// that is not part of the market.
	ErrUnknownAnswer = errors.New("arb: unknown answer id")
	// ErrNoConversion is returned when no conversion size balances the
	// probability sum, which indicates a degenerate set of pools.
	ErrNoConversion = errors.New("arb: no conversion size balances the probability sum")
)

// Answer is one outcome of a multi-answer market as the solver sees it: its
// pool and the probability implied by that pool at p = 0.5.
type Answer struct {
	ID    string
	Index int
	Pool  cpmm.Pool
	Prob  float64
}

// NewAnswer builds an answer snapshot, deriving Prob from the pool.
func NewAnswer(id string, index int, pool cpmm.Pool) Answer {
	return Answer{ID: id, Index: index, Pool: pool, Prob: cpmm.Probability(pool, 0.5)}
}

func (a Answer) updated(state cpmm.State) Answer {
	a.Pool = state.Pool
	a.Prob = state.Probability()
	return a
}

// BetResult is the matching result for one answer together with that
// answer's updated snapshot.
type BetResult struct {
	match.Result
	Answer Answer
}

// MultiBetResult is a trade on one answer of a sum-to-one market: the fills
// on the traded answer plus the rebalancing fills on every other answer.
type MultiBetResult struct {
	NewBetResult    BetResult
	OtherBetResults []BetResult
}

// ProbSum sums the updated probabilities across a trade's results.
func (r *MultiBetResult) ProbSum() float64 {
	sum := r.NewBetResult.Answer.Prob
	for _, o := range r.OtherBetResults {
		sum += o.Answer.Prob
	}
	return sum
}

// TraceFunc receives solver diagnostics as a message and key/value pairs,
// matching the slog argument convention.
type TraceFunc func(msg string, args ...any)

// Solver computes sum-to-one trades. CollectedFees seeds each leg's state so
// fee splitting sees the market's lifetime creator fees. Trace, when set,
// receives per-trade diagnostics.
type Solver struct {
	Matcher       *match.Matcher
	CollectedFees fees.Fees
	Trace         TraceFunc

	// Iterations counts candidate evaluations across the bisection and
	// rebet loops, cumulative over the solver's lifetime.
	Iterations int
}

// NewSolver returns a solver backed by the given matcher.
func NewSolver(m *match.Matcher) *Solver {
	return &Solver{Matcher: m}
}

func (s *Solver) trace(msg string, args ...any) {
	if s.Trace != nil {
		s.Trace(msg, args...)
	}
}

func (s *Solver) now() time.Time {
	if s.Matcher.Now != nil {
		return s.Matcher.Now()
	}
	return time.Now()
}

// state builds the leg state for an answer. Multi-answer pools always use
// p = 0.5.
func (s *Solver) state(a Answer) cpmm.State {
	return cpmm.State{Pool: a.Pool, P: 0.5, CollectedFees: s.CollectedFees}
}

// fills runs matching with inputs that the public entry points have already
// validated; an error here is a solver bug.
func (s *Solver) fills(state cpmm.State, outcome cpmm.Outcome, amount float64, limitProb *float64, book *match.Book, answerID string) *match.Result {
	res, err := s.Matcher.ComputeFills(state, outcome, amount, limitProb, book.Orders(answerID), book.Balances(), false)
	if err != nil {
		panic(fmt.Sprintf("arb: matching failed on validated inputs: %v", err))
	}
	return res
}

func (s *Solver) amountForShares(a Answer, shares float64, outcome cpmm.Outcome, book *match.Book) float64 {
	return s.Matcher.AmountForShares(s.state(a), shares, outcome, book.Orders(a.ID), book.Balances(), false)
}

func validateTrade(outcome cpmm.Outcome, amount float64, limitProb *float64) error {
	if !outcome.Valid() {
		return fmt.Errorf("%w: %q", match.ErrInvalidOutcome, outcome)
	}
	if math.IsNaN(amount) || amount < 0 {
		return fmt.Errorf("%w: %v", match.ErrInvalidAmount, amount)
	}
	if limitProb != nil && math.IsNaN(*limitProb) {
		return match.ErrInvalidLimitProb
	}
	return nil
}

func findAnswer(answers []Answer, id string) (Answer, error) {
	for _, a := range answers {
		if a.ID == id {
			return a, nil
		}
	}
	return Answer{}, fmt.Errorf("%w: %q", ErrUnknownAnswer, id)
}

func otherAnswers(answers []Answer, id string) []Answer {
	others := make([]Answer, 0, len(answers)-1)
	for _, a := range answers {
		if a.ID != id {
			others = append(others, a)
		}
	}
	return others
}

// Bet places amount on outcome for one answer of a sum-to-one market. The
// caller's book is cloned; committed fills are reflected in the returned
// results, not in the book.
func (s *Solver) Bet(answers []Answer, answerID string, outcome cpmm.Outcome, amount float64, limitProb *float64, book *match.Book) (*MultiBetResult, error) {
	if err := validateTrade(outcome, amount, limitProb); err != nil {
		return nil, err
	}
	target, err := findAnswer(answers, answerID)
	if err != nil {
		return nil, err
	}

	var result *MultiBetResult
	if outcome == cpmm.Yes {
		result, err = s.betYes(answers, target, amount, limitProb, book)
	} else {
		result, err = s.betNo(answers, target, amount, limitProb, book)
	}
	if err != nil {
		return nil, err
	}

	if numeric.Equal(result.NewBetResult.TakerAmount(), 0) {
		// Nothing matched: no fills, pools untouched.
		return &MultiBetResult{
			NewBetResult: BetResult{
				Result: match.Result{Outcome: outcome, State: s.state(target)},
				Answer: target,
			},
		}, nil
	}
	return result, nil
}

// sumFills returns the amount and share totals of a result's taker fills.
func sumFills(takers []match.Fill) (amount, shares float64) {
	for _, f := range takers {
		amount += f.Amount
		shares += f.Shares
	}
	return amount, shares
}

// appendConversionFills nets each result's taker fills out with a negative
// redemption fill carrying that result's fees, recording that the purchased
// shares were converted rather than kept.
func (s *Solver) appendConversionFills(results []BetResult) {
	now := s.now()
	for i := range results {
		r := &results[i]
		amount, shares := sumFills(r.Takers)
		r.Takers = append(r.Takers, match.Fill{
			Amount:    -amount,
			Shares:    -shares,
			Timestamp: now,
			Kind:      match.KindRedemption,
			Fees:      r.TotalFees,
		})
	}
}
