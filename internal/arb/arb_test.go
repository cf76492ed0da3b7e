package arb

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/fees"
	"github.com/predictex/exchange-engine/internal/match"
)

func testSolver() *Solver {
	m := &match.Matcher{
		Schedule: fees.Schedule{Regime: fees.RegimePlatform},
		Now:      func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	return NewSolver(m)
}

// testAnswer builds an answer whose pool has constant product 100 and the
// given probability.
func testAnswer(index int, prob float64) Answer {
	k := 100.0
	poolYes := math.Sqrt(k * (1 - prob) / prob)
	poolNo := k / poolYes
	return NewAnswer("answer"+string(rune('0'+index)), index, cpmm.Pool{YES: poolYes, NO: poolNo})
}

func threeAnswers() []Answer {
	return []Answer{testAnswer(1, 0.5), testAnswer(2, 0.3), testAnswer(3, 0.2)}
}

func equalAnswers(n int) []Answer {
	answers := make([]Answer, n)
	for i := range answers {
		answers[i] = testAnswer(i, 1/float64(n))
	}
	return answers
}

// yesEquivalentShares converts each answer's pool holdings into YES share
// terms: NO shares in one answer equal YES shares in all the others.
func yesEquivalentShares(answers []Answer) []float64 {
	out := make([]float64, len(answers))
	for i, a := range answers {
		out[i] = a.Pool.YES
		for j, b := range answers {
			if j != i {
				out[i] += b.Pool.NO
			}
		}
	}
	return out
}

func emptyBook() *match.Book {
	return match.NewBook(nil, nil)
}

func totalFeesOf(result *MultiBetResult) float64 {
	total := result.NewBetResult.TotalFees.Total()
	for _, r := range result.OtherBetResults {
		total += r.TotalFees.Total()
	}
	return total
}

func TestBetSumsToOne(t *testing.T) {
	s := testSolver()
	answers := threeAnswers()
	balances := map[string]float64{"user1": 100, "user2": 100, "user3": 100}

	result, err := s.Bet(answers, answers[0].ID, cpmm.Yes, 10, nil, match.NewBook(nil, balances))
	require.NoError(t, err)
	require.InDelta(t, 1, result.ProbSum(), ProbSumTolerance)
	require.Greater(t, result.NewBetResult.Answer.Prob, answers[0].Prob)
	for i, other := range result.OtherBetResults {
		require.Less(t, other.Answer.Prob, answers[i+1].Prob)
	}
}

func TestBetConservesShares(t *testing.T) {
	s := testSolver()
	answers := threeAnswers()
	betAmount := 10.0

	result, err := s.Bet(answers, answers[0].ID, cpmm.Yes, betAmount, nil, emptyBook())
	require.NoError(t, err)

	amountInShares := betAmount - totalFeesOf(result)
	initial := yesEquivalentShares(answers)
	for i := range initial {
		initial[i] += amountInShares
	}

	updated := []Answer{result.NewBetResult.Answer}
	for _, r := range result.OtherBetResults {
		updated = append(updated, r.Answer)
	}
	final := yesEquivalentShares(updated)
	purchased := 0.0
	for _, f := range result.NewBetResult.Takers {
		purchased += f.Shares
	}
	final[0] += purchased

	for i := range answers {
		require.InDeltaf(t, initial[i], final[i], 0.01, "answer %d", i)
	}
}

func TestBetNoSumsToOne(t *testing.T) {
	s := testSolver()
	answers := threeAnswers()

	result, err := s.Bet(answers, answers[1].ID, cpmm.No, 15, nil, emptyBook())
	require.NoError(t, err)
	require.InDelta(t, 1, result.ProbSum(), ProbSumTolerance)
	require.Less(t, result.NewBetResult.Answer.Prob, answers[1].Prob)
}

func TestBetZeroAmountMatchesNothing(t *testing.T) {
	s := testSolver()
	answers := threeAnswers()

	result, err := s.Bet(answers, answers[0].ID, cpmm.Yes, 0, nil, emptyBook())
	require.NoError(t, err)
	require.Empty(t, result.NewBetResult.Takers)
	require.Empty(t, result.NewBetResult.Makers)
	require.Empty(t, result.OtherBetResults)
	require.Equal(t, answers[0].Pool, result.NewBetResult.State.Pool)
}

func TestBetLimitBelowProbMatchesNothing(t *testing.T) {
	s := testSolver()
	answers := threeAnswers()
	limit := 0.1

	result, err := s.Bet(answers, answers[0].ID, cpmm.Yes, 10, &limit, emptyBook())
	require.NoError(t, err)
	require.Empty(t, result.NewBetResult.Takers)
}

func TestBetUnknownAnswer(t *testing.T) {
	s := testSolver()
	_, err := s.Bet(threeAnswers(), "nope", cpmm.Yes, 10, nil, emptyBook())
	require.ErrorIs(t, err, ErrUnknownAnswer)
}

func TestBetValidation(t *testing.T) {
	s := testSolver()
	answers := threeAnswers()

	_, err := s.Bet(answers, answers[0].ID, "MAYBE", 10, nil, emptyBook())
	require.ErrorIs(t, err, match.ErrInvalidOutcome)

	_, err = s.Bet(answers, answers[0].ID, cpmm.Yes, -5, nil, emptyBook())
	require.ErrorIs(t, err, match.ErrInvalidAmount)

	_, err = s.Bet(answers, answers[0].ID, cpmm.Yes, math.NaN(), nil, emptyBook())
	require.ErrorIs(t, err, match.ErrInvalidAmount)
}

func TestBetConsumesRestingOrders(t *testing.T) {
	s := testSolver()
	answers := threeAnswers()
	order := &match.LimitOrder{
		ID:          "o1",
		UserID:      "maker",
		AnswerID:    answers[0].ID,
		Outcome:     cpmm.No,
		OrderAmount: 5,
		LimitProb:   0.45,
		CreatedTime: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	book := match.NewBook([]*match.LimitOrder{order}, map[string]float64{"maker": 100})

	result, err := s.Bet(answers, answers[0].ID, cpmm.Yes, 10, nil, book)
	require.NoError(t, err)
	require.NotEmpty(t, result.NewBetResult.Makers)
	require.Equal(t, "o1", result.NewBetResult.Makers[0].Order.ID)
	require.InDelta(t, 1, result.ProbSum(), ProbSumTolerance)

	// The caller's book is probed on clones only.
	require.Zero(t, book.Orders(answers[0].ID)[0].Amount)
	require.Equal(t, 100.0, book.Balances()["maker"])
}

func TestSaleConservesSharesYes(t *testing.T) {
	s := testSolver()
	answers := threeAnswers()
	sharesToSell := 10.0

	initial := yesEquivalentShares(answers)
	initial[0] += sharesToSell

	result, err := s.Sale(answers, answers[0].ID, sharesToSell, cpmm.Yes, nil, emptyBook())
	require.NoError(t, err)

	updated := []Answer{result.NewBetResult.Answer}
	for _, r := range result.OtherBetResults {
		updated = append(updated, r.Answer)
	}
	final := yesEquivalentShares(updated)

	var amount float64
	for _, f := range result.NewBetResult.Takers {
		amount += f.Amount
	}
	sellFees := result.NewBetResult.TotalFees.Total()
	for _, r := range result.OtherBetResults {
		sellFees += r.TotalFees.Total()
	}
	for i := range final {
		final[i] += sellFees - amount
	}

	for i := range answers {
		require.InDeltaf(t, initial[i], final[i], 0.01, "answer %d", i)
	}
	require.Positive(t, result.SaleValue)
	require.Less(t, result.SaleValue, sharesToSell)
}

func TestSaleConservesSharesNo(t *testing.T) {
	s := testSolver()
	answers := threeAnswers()
	sharesToSell := 10.0

	initial := yesEquivalentShares(answers)
	for i := 1; i < len(answers); i++ {
		initial[i] += sharesToSell
	}

	result, err := s.Sale(answers, answers[0].ID, sharesToSell, cpmm.No, nil, emptyBook())
	require.NoError(t, err)

	updated := []Answer{result.NewBetResult.Answer}
	for _, r := range result.OtherBetResults {
		updated = append(updated, r.Answer)
	}
	final := yesEquivalentShares(updated)

	var amount float64
	for _, f := range result.NewBetResult.Takers {
		amount += f.Amount
	}
	sellFees := result.NewBetResult.TotalFees.Total()
	for _, r := range result.OtherBetResults {
		sellFees += r.TotalFees.Total()
	}
	for i := range final {
		final[i] += sellFees - amount
	}

	for i := range answers {
		require.InDeltaf(t, initial[i], final[i], 0.01, "answer %d", i)
	}
}

func TestSaleChargesTakerFee(t *testing.T) {
	for _, outcome := range []cpmm.Outcome{cpmm.Yes, cpmm.No} {
		t.Run(string(outcome), func(t *testing.T) {
			s := testSolver()
			answers := threeAnswers()
			sharesToSell := 10.0

			result, err := s.Sale(answers, answers[0].ID, sharesToSell, outcome, nil, emptyBook())
			require.NoError(t, err)

			sellFee := result.NewBetResult.TotalFees.Total()
			for _, r := range result.OtherBetResults {
				sellFee += r.TotalFees.Total()
			}
			expected := fees.TakerFee(sharesToSell, result.BuyAmount/sharesToSell)
			require.InDelta(t, expected, sellFee, 0.01)
		})
	}
}

func TestSaleNegativeShares(t *testing.T) {
	s := testSolver()
	answers := threeAnswers()
	_, err := s.Sale(answers, answers[0].ID, -1, cpmm.Yes, nil, emptyBook())
	require.ErrorIs(t, err, match.ErrNegativeShares)
}

func TestBetMultiSumsToOne(t *testing.T) {
	s := testSolver()
	answers := equalAnswers(10)
	ids := []string{answers[0].ID, answers[1].ID, answers[2].ID}

	result, err := s.BetMulti(answers, ids, 30, nil, emptyBook())
	require.NoError(t, err)
	require.InDelta(t, 1, probSum(result.UpdatedAnswers), ProbSumTolerance)
	require.Len(t, result.NewBetResults, 3)
	require.Len(t, result.OtherBetResults, 7)
}

func TestBetMultiThenSellEquallyRestoresPools(t *testing.T) {
	s := testSolver()
	answers := equalAnswers(10)
	ids := []string{answers[0].ID, answers[1].ID, answers[2].ID}
	betAmount := 30.0

	buy, err := s.BetMulti(answers, ids, betAmount, nil, emptyBook())
	require.NoError(t, err)

	amountInShares := betAmount
	for _, r := range buy.NewBetResults {
		amountInShares -= r.TotalFees.Total()
	}
	for _, r := range buy.OtherBetResults {
		amountInShares -= r.TotalFees.Total()
	}
	initial := yesEquivalentShares(answers)
	afterBuy := yesEquivalentShares(buy.UpdatedAnswers)
	for _, r := range buy.NewBetResults {
		var purchased float64
		for _, f := range r.Takers {
			purchased += f.Shares
		}
		for i, a := range answers {
			if a.ID == r.Answer.ID {
				afterBuy[i] += purchased
			}
		}
	}
	for i := range answers {
		require.InDeltaf(t, initial[i]+amountInShares, afterBuy[i], 0.01, "answer %d after buy", i)
	}

	// Selling everything back puts the pools within fees of where they began.
	sharesByAnswer := make(map[string]float64)
	for _, r := range buy.NewBetResults {
		var shares float64
		for _, f := range r.Takers {
			shares += f.Shares
		}
		sharesByAnswer[r.Answer.ID] = shares
	}
	sale, err := s.SellEqually(buy.UpdatedAnswers, sharesByAnswer, emptyBook())
	require.NoError(t, err)
	afterSale := yesEquivalentShares(sale.UpdatedAnswers)
	for i := range answers {
		require.InDeltaf(t, initial[i], afterSale[i], 0.01, "answer %d after sale", i)
	}
}

func TestSellEquallyNothingToSell(t *testing.T) {
	s := testSolver()
	answers := threeAnswers()
	result, err := s.SellEqually(answers, nil, emptyBook())
	require.NoError(t, err)
	require.Empty(t, result.NewBetResults)
	require.Equal(t, answers, result.UpdatedAnswers)
}

func TestBuyNoUntilSumToOne(t *testing.T) {
	s := testSolver()
	// Probabilities sum to 1.2; the rebalance buys NO everywhere to bring
	// the sum back down.
	answers := []Answer{testAnswer(1, 0.5), testAnswer(2, 0.4), testAnswer(3, 0.3)}

	result, err := s.BuyNoUntilSumToOne(answers, emptyBook())
	require.NoError(t, err)
	require.Len(t, result.Results, 3)
	require.InDelta(t, 1, resultProbSum(result.Results), ProbSumTolerance)
	require.Positive(t, result.ExtraMana)
	for _, r := range result.Results {
		last := r.Takers[len(r.Takers)-1]
		require.Equal(t, match.KindRedemption, last.Kind)
		require.Negative(t, last.Shares)
	}
}

func TestSolverCountsIterations(t *testing.T) {
	s := testSolver()
	result, err := s.Bet(threeAnswers(), "answer1", cpmm.Yes, 20, nil, emptyBook())
	require.NoError(t, err)
	require.NotEmpty(t, result.NewBetResult.Takers)
	require.Greater(t, s.Iterations, 0)

	before := s.Iterations
	_, err = s.BetMulti(equalAnswers(4), []string{"answer0", "answer1"}, 15, nil, emptyBook())
	require.NoError(t, err)
	require.Greater(t, s.Iterations, before)
}
