package arb

import (
	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/fees"
	"github.com/predictex/exchange-engine/internal/match"
	"github.com/predictex/exchange-engine/internal/numeric"
)

// MultiBetsResult is a YES trade spread over several answers at once.
// UpdatedAnswers holds the post-trade snapshot of every answer.
type MultiBetsResult struct {
	NewBetResults   []BetResult
	OtherBetResults []BetResult
	UpdatedAnswers  []Answer
}

// NoBuyResults are the sum-to-one rebalance fills across a whole answer set.
// ExtraMana is the cash surplus of the rebalance: returned fees plus bundle
// redemptions minus what the NO purchases cost.
type NoBuyResults struct {
	Results   []BetResult
	ExtraMana float64
}

// BetMulti buys equal YES share quantities across the target answers,
// spending betAmount in total. The surplus that each rebalance frees up is
// re-bet until it falls below ExtraManaEpsilon.
func (s *Solver) BetMulti(answers []Answer, answerIDs []string, betAmount float64, limitProb *float64, book *match.Book) (*MultiBetsResult, error) {
	if err := validateTrade(cpmm.Yes, betAmount, limitProb); err != nil {
		return nil, err
	}
	targets := make(map[string]bool, len(answerIDs))
	for _, id := range answerIDs {
		if _, err := findAnswer(answers, id); err != nil {
			return nil, err
		}
		targets[id] = true
	}

	working := book.Clone()
	updated := append([]Answer(nil), answers...)
	var yesResults, noResults []BetResult

	amountToBet := betAmount
	for amountToBet > ExtraManaEpsilon {
		toBuy := filterAnswers(updated, targets, true)

		var yesSharePriceSum float64
		for _, a := range toBuy {
			yesSharePriceSum += a.Prob
		}
		maxYesShares := amountToBet / yesSharePriceSum

		var yesAmounts []float64
		numeric.BinarySearch(0, maxYesShares, func(yesShares float64) float64 {
			s.Iterations++
			yesAmounts = make([]float64, len(toBuy))
			var total float64
			for i, a := range toBuy {
				yesAmounts[i] = s.amountForShares(a, yesShares, cpmm.Yes, working)
				total += yesAmounts[i]
			}
			return total - amountToBet
		})

		yesBets, noBuy, newUpdated, err := s.betResultsAndUpdatedAnswers(toBuy, yesAmounts, updated, limitProb, working)
		if err != nil {
			return nil, err
		}
		updated = newUpdated
		amountToBet = noBuy.ExtraMana
		noResults = append(noResults, noBuy.Results...)
		yesResults = append(yesResults, yesBets...)
	}

	// Rebalance fills that landed on the bought answers carry fees but are
	// folded away; keep the fees on the combined results.
	noOnBought := combineOnSameAnswers(noResults, cpmm.No, filterAnswers(updated, targets, true), false, nil)
	extraFees := make(map[string]fees.Fees, len(noOnBought))
	for _, r := range noOnBought {
		extraFees[r.Answer.ID] = r.TotalFees
	}

	result := &MultiBetsResult{
		NewBetResults:   combineOnSameAnswers(yesResults, cpmm.Yes, filterAnswers(updated, targets, true), true, extraFees),
		OtherBetResults: combineOnSameAnswers(noResults, cpmm.No, filterAnswers(updated, targets, false), false, nil),
		UpdatedAnswers:  updated,
	}
	s.trace("multi-answer spread bet solved",
		"answerIds", answerIDs,
		"betAmount", betAmount,
		"probSum", probSum(updated),
	)
	return result, nil
}

func filterAnswers(answers []Answer, ids map[string]bool, keep bool) []Answer {
	out := make([]Answer, 0, len(answers))
	for _, a := range answers {
		if ids[a.ID] == keep {
			out = append(out, a)
		}
	}
	return out
}

func probSum(answers []Answer) float64 {
	var sum float64
	for _, a := range answers {
		sum += a.Prob
	}
	return sum
}

// betResultsAndUpdatedAnswers buys the given YES amounts in toBuy, then
// rebalances the whole answer set back to a probability sum of one. Both
// passes run against the working book so later legs see earlier fills.
func (s *Solver) betResultsAndUpdatedAnswers(toBuy []Answer, yesAmounts []float64, updated []Answer, limitProb *float64, working *match.Book) ([]BetResult, *NoBuyResults, []Answer, error) {
	yesBets := make([]BetResult, len(toBuy))
	for i, a := range toBuy {
		res := s.fills(s.state(a), cpmm.Yes, yesAmounts[i], limitProb, working, a.ID)
		working.Apply(a.ID, res)
		yesBets[i] = BetResult{Result: *res, Answer: a.updated(res.State)}
	}

	merged := make([]Answer, len(updated))
	for i, a := range updated {
		merged[i] = a
		for _, yb := range yesBets {
			if yb.Answer.ID == a.ID {
				merged[i] = yb.Answer
				break
			}
		}
	}

	noBuy, err := s.BuyNoUntilSumToOne(merged, working)
	if err != nil {
		return nil, nil, nil, err
	}
	newUpdated := make([]Answer, len(noBuy.Results))
	for i, r := range noBuy.Results {
		newUpdated[i] = r.Answer
	}
	return yesBets, noBuy, newUpdated, nil
}

// BuyNoUntilSumToOne buys the NO share quantity in every answer that brings
// the probability sum back to one, applying the fills to the working book.
func (s *Solver) BuyNoUntilSumToOne(answers []Answer, working *match.Book) (*NoBuyResults, error) {
	maxNoShares := 10.0
	for step := 0; ; step++ {
		if step == maxShareGrowthSteps {
			return nil, ErrNoConversion
		}
		probe := s.buyNoInAnswers(answers, working.Clone(), maxNoShares)
		if resultProbSum(probe.Results) < 1 {
			break
		}
		maxNoShares *= 10
	}

	noShares := numeric.BinarySearch(0, maxNoShares, func(noShares float64) float64 {
		probe := s.buyNoInAnswers(answers, working.Clone(), noShares)
		return 1 - resultProbSum(probe.Results)
	})

	result := s.buyNoInAnswers(answers, working, noShares)
	return result, nil
}

func resultProbSum(results []BetResult) float64 {
	var sum float64
	for _, r := range results {
		sum += r.Answer.Prob
	}
	return sum
}

func (s *Solver) buyNoInAnswers(answers []Answer, book *match.Book, noShares float64) *NoBuyResults {
	s.Iterations++
	noAmounts := make([]float64, len(answers))
	var totalNoAmount float64
	for i, a := range answers {
		noAmounts[i] = s.amountForShares(a, noShares, cpmm.No, book)
		totalNoAmount += noAmounts[i]
	}

	results := make([]BetResult, len(answers))
	var feeTotal float64
	for i, a := range answers {
		res := s.fills(s.state(a), cpmm.No, noAmounts[i], nil, book, a.ID)
		book.Apply(a.ID, res)
		results[i] = BetResult{Result: *res, Answer: a.updated(res.State)}
		feeTotal += res.TotalFees.Total()
	}

	// A full NO bundle redeems for (n-1) per share, and the rebalance's fees
	// are returned, so both count toward the surplus.
	redeemedAmount := noShares * float64(len(answers)-1)
	extraMana := feeTotal + redeemedAmount - totalNoAmount

	s.appendConversionFills(results)

	return &NoBuyResults{Results: results, ExtraMana: extraMana}
}

// combineOnSameAnswers merges the per-iteration results that accumulated on
// each answer into one result per answer. With foldShares set, only the first
// fill survives, carrying the share total of all fills; the later iterations
// are rebalance artifacts the bettor does not pay for.
func combineOnSameAnswers(results []BetResult, outcome cpmm.Outcome, answers []Answer, foldShares bool, extraFees map[string]fees.Fees) []BetResult {
	combined := make([]BetResult, 0, len(answers))
	for _, answer := range answers {
		var forAnswer []BetResult
		for _, r := range results {
			if r.Answer.ID == answer.ID {
				forAnswer = append(forAnswer, r)
			}
		}
		state := cpmm.State{Pool: answer.Pool, P: 0.5}
		total := fees.NoFees
		if extra, ok := extraFees[answer.ID]; ok {
			total = extra
		}
		var takers []match.Fill
		var makers []match.MakerFill
		var cancels []*match.LimitOrder
		for _, r := range forAnswer {
			total = total.Add(r.TotalFees)
			takers = append(takers, r.Takers...)
			makers = append(makers, r.Makers...)
			cancels = append(cancels, r.OrdersToCancel...)
		}
		if foldShares && len(takers) > 0 {
			first := forAnswer[0].Takers[0]
			var shares float64
			for _, f := range takers {
				shares += f.Shares
			}
			first.Shares = shares
			takers = []match.Fill{first}
		}
		combined = append(combined, BetResult{
			Result: match.Result{
				Outcome:        outcome,
				Takers:         takers,
				Makers:         makers,
				OrdersToCancel: cancels,
				State:          state,
				TotalFees:      total,
			},
			Answer: answer,
		})
	}
	return combined
}
