package arb

import (
	"fmt"

	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/fees"
	"github.com/predictex/exchange-engine/internal/match"
	"github.com/predictex/exchange-engine/internal/numeric"
)

// betYes buys YES in the target answer. The rebalance buys NO shares in
// every other answer and converts the bundle into YES shares of the target,
// so part of the bet amount is spent on the conversion and the rest goes to
// the target's pool and order book.
func (s *Solver) betYes(answers []Answer, target Answer, betAmount float64, limitProb *float64, book *match.Book) (*MultiBetResult, error) {
	others := otherAnswers(answers, target.ID)

	var noSharePriceSum float64
	for _, a := range others {
		noSharePriceSum += 1 - a.Prob
	}
	// Spending the whole amount on NO shares at current prices, net of the
	// cash the conversion returns, caps the conversion size.
	maxNoShares := betAmount / (noSharePriceSum - float64(len(answers)) + 2)

	noShares := numeric.BinarySearch(0, maxNoShares, func(noShares float64) float64 {
		probe, ok := s.buyNoInOthersThenYes(answers, target, book.Clone(), betAmount, limitProb, noShares)
		if !ok {
			return 1
		}
		return 1 - probe.ProbSum()
	})

	result, ok := s.buyNoInOthersThenYes(answers, target, book.Clone(), betAmount, limitProb, noShares)
	if !ok {
		return nil, fmt.Errorf("%w: YES bet of %v on answer %q", ErrNoConversion, betAmount, target.ID)
	}
	s.trace("multi-answer YES bet solved",
		"answerId", target.ID,
		"betAmount", betAmount,
		"noShares", noShares,
		"probSum", result.ProbSum(),
	)
	return result, nil
}

// buyNoInOthersThenYes executes one candidate split: buy noShares of NO in
// every other answer, convert the bundle to YES shares of the target, and
// spend the remaining amount on the target directly. Returns false when the
// conversion alone costs more than the bet.
func (s *Solver) buyNoInOthersThenYes(answers []Answer, target Answer, book *match.Book, betAmount float64, limitProb *float64, noShares float64) (*MultiBetResult, bool) {
	s.Iterations++
	others := otherAnswers(answers, target.ID)

	noAmounts := make([]float64, len(others))
	var totalNoAmount float64
	for i, a := range others {
		noAmounts[i] = s.amountForShares(a, noShares, cpmm.No, book)
		totalNoAmount += noAmounts[i]
	}

	otherResults := make([]BetResult, len(others))
	for i, a := range others {
		res := s.fills(s.state(a), cpmm.No, noAmounts[i], nil, book, a.ID)
		book.Apply(a.ID, res)
		otherResults[i] = BetResult{Result: *res, Answer: a.updated(res.State)}
	}

	// The NO bundle redeems for (n-2) per share once the target's YES share
	// is added, so only the net cost comes out of the bet.
	redeemedAmount := noShares * float64(len(answers)-2)
	netNoAmount := totalNoAmount - redeemedAmount
	yesBetAmount := betAmount - netNoAmount
	if yesBetAmount < 0 {
		return nil, false
	}

	s.appendConversionFills(otherResults)

	yesRes := s.fills(s.state(target), cpmm.Yes, yesBetAmount, limitProb, book, target.ID)
	book.Apply(target.ID, yesRes)
	newResult := BetResult{Result: *yesRes, Answer: target.updated(yesRes.State)}
	newResult.Takers = append(newResult.Takers, match.Fill{
		Amount:    netNoAmount,
		Shares:    noShares,
		Timestamp: s.now(),
		Kind:      match.KindRedemption,
		Fees:      fees.NoFees,
	})

	return &MultiBetResult{NewBetResult: newResult, OtherBetResults: otherResults}, true
}

// betNo mirrors betYes: YES shares bought in every other answer convert into
// NO shares of the target.
func (s *Solver) betNo(answers []Answer, target Answer, betAmount float64, limitProb *float64, book *match.Book) (*MultiBetResult, error) {
	others := otherAnswers(answers, target.ID)

	var yesSharePriceSum float64
	for _, a := range others {
		yesSharePriceSum += a.Prob
	}
	maxYesShares := betAmount / yesSharePriceSum

	yesShares := numeric.BinarySearch(0, maxYesShares, func(yesShares float64) float64 {
		probe, ok := s.buyYesInOthersThenNo(answers, target, book.Clone(), betAmount, limitProb, yesShares)
		if !ok {
			return 1
		}
		return probe.ProbSum() - 1
	})

	result, ok := s.buyYesInOthersThenNo(answers, target, book.Clone(), betAmount, limitProb, yesShares)
	if !ok {
		return nil, fmt.Errorf("%w: NO bet of %v on answer %q", ErrNoConversion, betAmount, target.ID)
	}
	s.trace("multi-answer NO bet solved",
		"answerId", target.ID,
		"betAmount", betAmount,
		"yesShares", yesShares,
		"probSum", result.ProbSum(),
	)
	return result, nil
}

func (s *Solver) buyYesInOthersThenNo(answers []Answer, target Answer, book *match.Book, betAmount float64, limitProb *float64, yesShares float64) (*MultiBetResult, bool) {
	s.Iterations++
	others := otherAnswers(answers, target.ID)

	yesAmounts := make([]float64, len(others))
	var totalYesAmount float64
	for i, a := range others {
		yesAmounts[i] = s.amountForShares(a, yesShares, cpmm.Yes, book)
		totalYesAmount += yesAmounts[i]
	}

	otherResults := make([]BetResult, len(others))
	for i, a := range others {
		res := s.fills(s.state(a), cpmm.Yes, yesAmounts[i], nil, book, a.ID)
		book.Apply(a.ID, res)
		otherResults[i] = BetResult{Result: *res, Answer: a.updated(res.State)}
	}

	noBetAmount := betAmount - totalYesAmount
	if noBetAmount < 0 {
		return nil, false
	}

	s.appendConversionFills(otherResults)

	noRes := s.fills(s.state(target), cpmm.No, noBetAmount, limitProb, book, target.ID)
	book.Apply(target.ID, noRes)
	newResult := BetResult{Result: *noRes, Answer: target.updated(noRes.State)}
	newResult.Takers = append(newResult.Takers, match.Fill{
		Amount:    totalYesAmount,
		Shares:    yesShares,
		Timestamp: s.now(),
		Kind:      match.KindRedemption,
		Fees:      fees.NoFees,
	})

	return &MultiBetResult{NewBetResult: newResult, OtherBetResults: otherResults}, true
}
