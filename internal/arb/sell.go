package arb

import (
	"math"

	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/fees"
	"github.com/predictex/exchange-engine/internal/match"
	"github.com/predictex/exchange-engine/internal/numeric"
)

// MultiSaleResult is a share sale on one answer of a sum-to-one market,
// restated from the opposite-outcome purchase that implements it. SaleValue
// is what the seller receives; BuyAmount is what the implementing purchase
// cost before restatement.
type MultiSaleResult struct {
	SaleValue       float64
	BuyAmount       float64
	NewBetResult    BetResult
	OtherBetResults []BetResult
}

// Sale sells shares of outcome in one answer. The shares needed to cancel
// the position come partly from buying the opposite outcome in the answer
// itself and partly from converting bundles across the other answers; the
// split is whatever leaves the probability sum at one.
func (s *Solver) Sale(answers []Answer, answerID string, shares float64, outcome cpmm.Outcome, limitProb *float64, book *match.Book) (*MultiSaleResult, error) {
	if !outcome.Valid() {
		return nil, match.ErrInvalidOutcome
	}
	if math.IsNaN(shares) || shares < 0 {
		return nil, match.ErrNegativeShares
	}
	target, err := findAnswer(answers, answerID)
	if err != nil {
		return nil, err
	}

	var result *MultiBetResult
	if outcome == cpmm.Yes {
		result = s.sellYes(answers, target, shares, limitProb, book)
	} else {
		result = s.sellNo(answers, target, shares, limitProb, book)
	}

	buyAmount, _ := sumFills(result.NewBetResult.Takers)
	saleTakers := make([]match.Fill, len(result.NewBetResult.Takers))
	var saleValue float64
	for i, f := range result.NewBetResult.Takers {
		saleTakers[i] = match.Fill{
			MatchedOrderID: f.MatchedOrderID,
			Amount:         -(f.Shares - f.Amount),
			Shares:         -f.Shares,
			Timestamp:      f.Timestamp,
			Kind:           f.Kind,
			IsSale:         true,
			Fees:           f.Fees,
		}
		saleValue += f.Shares - f.Amount
	}
	result.NewBetResult.Takers = saleTakers
	result.NewBetResult.Outcome = outcome

	return &MultiSaleResult{
		SaleValue:       saleValue,
		BuyAmount:       buyAmount,
		NewBetResult:    result.NewBetResult,
		OtherBetResults: result.OtherBetResults,
	}, nil
}

// sellYes cancels yesShares of YES in the target. noShares of NO are bought
// in the target directly; the remaining yesShares - noShares come from YES
// purchases in every other answer converted into target NO shares.
func (s *Solver) sellYes(answers []Answer, target Answer, yesShares float64, limitProb *float64, book *match.Book) *MultiBetResult {
	others := otherAnswers(answers, target.ID)

	run := func(book *match.Book, noShares float64) (*BetResult, []BetResult, float64, float64) {
		s.Iterations++
		sharesInOthers := yesShares - noShares
		noAmount := s.amountForShares(target, noShares, cpmm.No, book)
		yesAmounts := make([]float64, len(others))
		var totalYesAmount float64
		for i, a := range others {
			yesAmounts[i] = s.amountForShares(a, sharesInOthers, cpmm.Yes, book)
			totalYesAmount += yesAmounts[i]
		}

		noRes := s.fills(s.state(target), cpmm.No, noAmount, limitProb, book, target.ID)
		book.Apply(target.ID, noRes)
		targetResult := BetResult{Result: *noRes, Answer: target.updated(noRes.State)}

		otherResults := make([]BetResult, len(others))
		for i, a := range others {
			res := s.fills(s.state(a), cpmm.Yes, yesAmounts[i], nil, book, a.ID)
			book.Apply(a.ID, res)
			otherResults[i] = BetResult{Result: *res, Answer: a.updated(res.State)}
		}
		return &targetResult, otherResults, totalYesAmount, sharesInOthers
	}

	noShares := numeric.BinarySearch(0, yesShares, func(noShares float64) float64 {
		targetResult, otherResults, _, _ := run(book.Clone(), noShares)
		return 1 - (targetResult.Answer.Prob + resultProbSum(otherResults))
	})

	targetResult, otherResults, totalYesAmount, sharesInOthers := run(book.Clone(), noShares)
	s.appendConversionFills(otherResults)
	targetResult.Takers = append(targetResult.Takers, match.Fill{
		Amount:    totalYesAmount,
		Shares:    sharesInOthers,
		Timestamp: s.now(),
		Kind:      match.KindRedemption,
		Fees:      fees.NoFees,
	})
	targetResult.Outcome = cpmm.No

	s.trace("multi-answer YES sale solved",
		"answerId", target.ID,
		"yesShares", yesShares,
		"directNoShares", noShares,
		"probSum", targetResult.Answer.Prob+resultProbSum(otherResults),
	)
	return &MultiBetResult{NewBetResult: *targetResult, OtherBetResults: otherResults}
}

// sellNo mirrors sellYes with the outcomes swapped: yesShares of YES are
// bought in the target directly, and NO purchases in the other answers
// convert into the rest.
func (s *Solver) sellNo(answers []Answer, target Answer, noShares float64, limitProb *float64, book *match.Book) *MultiBetResult {
	others := otherAnswers(answers, target.ID)

	run := func(book *match.Book, yesShares float64) (*BetResult, []BetResult, float64, float64) {
		s.Iterations++
		sharesInOthers := noShares - yesShares
		yesAmount := s.amountForShares(target, yesShares, cpmm.Yes, book)
		noAmounts := make([]float64, len(others))
		var totalNoAmount float64
		for i, a := range others {
			noAmounts[i] = s.amountForShares(a, sharesInOthers, cpmm.No, book)
			totalNoAmount += noAmounts[i]
		}

		yesRes := s.fills(s.state(target), cpmm.Yes, yesAmount, limitProb, book, target.ID)
		book.Apply(target.ID, yesRes)
		targetResult := BetResult{Result: *yesRes, Answer: target.updated(yesRes.State)}

		otherResults := make([]BetResult, len(others))
		for i, a := range others {
			res := s.fills(s.state(a), cpmm.No, noAmounts[i], nil, book, a.ID)
			book.Apply(a.ID, res)
			otherResults[i] = BetResult{Result: *res, Answer: a.updated(res.State)}
		}
		netNoAmount := totalNoAmount - sharesInOthers*float64(len(answers)-2)
		return &targetResult, otherResults, netNoAmount, sharesInOthers
	}

	yesShares := numeric.BinarySearch(0, noShares, func(yesShares float64) float64 {
		targetResult, otherResults, _, _ := run(book.Clone(), yesShares)
		return targetResult.Answer.Prob + resultProbSum(otherResults) - 1
	})

	targetResult, otherResults, netNoAmount, sharesInOthers := run(book.Clone(), yesShares)
	s.appendConversionFills(otherResults)
	targetResult.Takers = append(targetResult.Takers, match.Fill{
		Amount:    netNoAmount,
		Shares:    sharesInOthers,
		Timestamp: s.now(),
		Kind:      match.KindRedemption,
		Fees:      fees.NoFees,
	})
	targetResult.Outcome = cpmm.Yes

	s.trace("multi-answer NO sale solved",
		"answerId", target.ID,
		"noShares", noShares,
		"directYesShares", yesShares,
		"probSum", targetResult.Answer.Prob+resultProbSum(otherResults),
	)
	return &MultiBetResult{NewBetResult: *targetResult, OtherBetResults: otherResults}
}

// SellEquallyResult is an equal sale across several answers: the sale fills
// per sold answer, the offsetting YES purchases in the remaining answers,
// and the updated snapshot of the whole set.
type SellEquallyResult struct {
	NewBetResults   []BetResult
	OtherBetResults []BetResult
	UpdatedAnswers  []Answer
	TotalFee        float64
}

// SellEqually sells YES shares across several answers at once, working down
// from the smallest common quantity. Answers holding shares beyond a round
// are sold again in later rounds until every position is flat.
func (s *Solver) SellEqually(answers []Answer, sharesByAnswerID map[string]float64, book *match.Book) (*SellEquallyResult, error) {
	toSell := make(map[string]bool)
	remaining := make(map[string]float64)
	minShares := math.Inf(1)
	for id, shares := range sharesByAnswerID {
		if shares <= 0 {
			continue
		}
		if _, err := findAnswer(answers, id); err != nil {
			return nil, err
		}
		toSell[id] = true
		remaining[id] = shares
		minShares = math.Min(minShares, shares)
	}
	if len(toSell) == 0 {
		return &SellEquallyResult{UpdatedAnswers: answers}, nil
	}

	working := book.Clone()
	updated := append([]Answer(nil), answers...)
	var saleResults, oppositeBuyResults []BetResult

	sharesToSell := minShares
	for sharesToSell > 0 {
		sellNow := make(map[string]bool)
		for id := range toSell {
			if remaining[id] >= sharesToSell {
				sellNow[id] = true
			}
		}

		var saleBets []BetResult
		if len(sellNow) != len(answers) {
			buyYes := filterAnswers(updated, sellNow, false)
			yesAmounts := make([]float64, len(buyYes))
			var totalYesAmount float64
			for i, a := range buyYes {
				yesAmounts[i] = s.amountForShares(a, sharesToSell, cpmm.Yes, working)
				totalYesAmount += yesAmounts[i]
			}

			yesBets, noBuy, newUpdated, err := s.betResultsAndUpdatedAnswers(buyYes, yesAmounts, updated, nil, working)
			if err != nil {
				return nil, err
			}
			updated = newUpdated
			s.appendConversionFills(yesBets)
			oppositeBuyResults = append(oppositeBuyResults, yesBets...)

			// Each sold answer's NO rebalance fill is replaced by a sale
			// fill for its even split of the proceeds.
			proceeds := sharesToSell - totalYesAmount + noBuy.ExtraMana
			for _, r := range noBuy.Results {
				if !sellNow[r.Answer.ID] {
					continue
				}
				a, err := findAnswer(updated, r.Answer.ID)
				if err != nil {
					return nil, err
				}
				saleBets = append(saleBets, BetResult{
					Result: match.Result{
						Outcome: cpmm.Yes,
						Takers: []match.Fill{{
							Amount:    -proceeds / float64(len(sellNow)),
							Shares:    -sharesToSell,
							Timestamp: s.now(),
							Kind:      match.KindRedemption,
							IsSale:    true,
							Fees:      r.TotalFees,
						}},
						State:     cpmm.State{Pool: a.Pool, P: 0.5},
						TotalFees: r.TotalFees,
					},
					Answer: a,
				})
			}
		} else {
			// Shares held in every answer form whole bundles; they redeem
			// for cash without touching any pool.
			saleBets = s.sellAllRedemption(filterAnswers(updated, sellNow, true), sharesToSell)
		}
		saleResults = append(saleResults, saleBets...)

		for id := range sellNow {
			remaining[id] -= sharesToSell
		}
		sharesToSell = 0
		for _, shares := range remaining {
			if shares > 0 && (sharesToSell == 0 || shares < sharesToSell) {
				sharesToSell = shares
			}
		}
	}

	newBetResults := combineOnSameAnswers(saleResults, cpmm.Yes, filterAnswers(updated, toSell, true), false, nil)
	otherBetResults := combineOnSameAnswers(oppositeBuyResults, cpmm.Yes, filterAnswers(updated, toSell, false), false, nil)

	var totalFee float64
	for _, r := range newBetResults {
		totalFee += r.TotalFees.Total()
	}
	for _, r := range otherBetResults {
		totalFee += r.TotalFees.Total()
	}
	return &SellEquallyResult{
		NewBetResults:   newBetResults,
		OtherBetResults: otherBetResults,
		UpdatedAnswers:  updated,
		TotalFee:        totalFee,
	}, nil
}

func (s *Solver) sellAllRedemption(answers []Answer, sharesToSell float64) []BetResult {
	now := s.now()
	results := make([]BetResult, len(answers))
	for i, a := range answers {
		results[i] = BetResult{
			Result: match.Result{
				Outcome: cpmm.Yes,
				Takers: []match.Fill{{
					Amount:    -sharesToSell / float64(len(answers)),
					Shares:    -sharesToSell,
					Timestamp: now,
					Kind:      match.KindRedemption,
					IsSale:    true,
					Fees:      fees.NoFees,
				}},
				State:     cpmm.State{Pool: a.Pool, P: 0.5},
				TotalFees: fees.NoFees,
			},
			Answer: a,
		}
	}
	return results
}
