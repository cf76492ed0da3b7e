package match

import (
	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/fees"
	"github.com/predictex/exchange-engine/internal/numeric"
)

// AmountForShares inverts matching: the trade amount that, matched against
// the book and pool, yields exactly shares of outcome. With p = 0.5 the tail
// past the last full maker fill has a closed form; otherwise the amount is
// found by bisection over full matching runs.
func (m *Matcher) AmountForShares(state cpmm.State, shares float64, outcome cpmm.Outcome, orders []*LimitOrder, balances map[string]float64, freeFees bool) float64 {
	if numeric.Equal(state.P, 0.5) {
		return m.amountForSharesFixedP(state, shares, outcome, orders, balances, freeFees)
	}
	prob := state.Probability()
	minAmount := shares * prob
	if outcome == cpmm.No {
		minAmount = shares * (1 - prob)
	}
	return numeric.BinarySearch(minAmount, shares, func(amount float64) float64 {
		res := m.fills(state, outcome, amount, nil, orders, balances, freeFees)
		return res.TakerShares() - shares
	})
}

func (m *Matcher) amountForSharesFixedP(state cpmm.State, shares float64, outcome cpmm.Outcome, orders []*LimitOrder, balances map[string]float64, freeFees bool) float64 {
	// Overshoot: an amount equal to the target shares always buys at least
	// that many shares, since every share costs at most 1.
	overshoot := m.fills(state, outcome, shares, nil, orders, balances, freeFees)

	var currAmount, currShares float64
	for _, f := range overshoot.Takers {
		if numeric.Equal(currShares+f.Shares, shares) {
			return currAmount + f.Amount
		}
		if currShares+f.Shares > shares {
			if f.MatchedOrderID != "" {
				// Maker fills are linear in shares, so the last one can be
				// taken pro rata.
				remaining := shares - currShares
				return currAmount + f.Amount*(remaining/f.Shares)
			}
			break
		}
		currAmount += f.Amount
		currShares += f.Shares
	}

	// The tail comes from the pool, priced off the state left behind by the
	// fills consumed in full.
	mid := m.fills(state, outcome, currAmount, nil, orders, balances, freeFees)
	remaining := shares - currShares
	fillAmount, err := cpmm.AmountForSharesFixedP(mid.State, remaining, outcome)
	if err != nil {
		// The p = 0.5 guard at the entry point makes this unreachable.
		panic(err)
	}
	if freeFees {
		return currAmount + fillAmount
	}
	return currAmount + fillAmount + fees.TakerFee(remaining, fillAmount/remaining)
}
