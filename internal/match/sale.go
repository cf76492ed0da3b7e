package match

import (
	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/fees"
)

// SaleResult is a sale expressed as its equivalent opposite-outcome purchase.
// Taker fills carry negated shares and amounts so that downstream accounting
// treats the trade as a reduction of the seller's position.
type SaleResult struct {
	SaleValue      float64
	BuyAmount      float64
	State          cpmm.State
	Fees           fees.Fees
	Takers         []Fill
	Makers         []MakerFill
	OrdersToCancel []*LimitOrder
}

// Sale sells shares of outcome by buying the opposite outcome for exactly
// the amount that produces the same number of shares, then restating the
// fills as a sale. SaleValue is what the seller receives after fees.
func (m *Matcher) Sale(state cpmm.State, shares float64, outcome cpmm.Outcome, orders []*LimitOrder, balances map[string]float64) (*SaleResult, error) {
	if !outcome.Valid() {
		return nil, ErrInvalidOutcome
	}
	if shares < 0 {
		return nil, ErrNegativeShares
	}
	opposite := outcome.Opposite()
	buyAmount := m.AmountForShares(state, shares, opposite, orders, balances, false)
	res, err := m.ComputeFills(state, opposite, buyAmount, nil, orders, balances, false)
	if err != nil {
		return nil, err
	}

	saleTakers := make([]Fill, len(res.Takers))
	var saleValue float64
	for i, f := range res.Takers {
		// Selling s shares for amount a is restated as receiving s - a.
		saleTakers[i] = Fill{
			MatchedOrderID: f.MatchedOrderID,
			Amount:         -(f.Shares - f.Amount),
			Shares:         -f.Shares,
			Timestamp:      f.Timestamp,
			Kind:           f.Kind,
			IsSale:         true,
		}
		saleValue += f.Shares - f.Amount
	}

	return &SaleResult{
		SaleValue:      saleValue,
		BuyAmount:      buyAmount,
		State:          res.State,
		Fees:           res.TotalFees,
		Takers:         saleTakers,
		Makers:         res.Makers,
		OrdersToCancel: res.OrdersToCancel,
	}, nil
}

// ProbabilityAfterSale returns the pool probability after selling shares of
// outcome against the given book.
func (m *Matcher) ProbabilityAfterSale(state cpmm.State, shares float64, outcome cpmm.Outcome, orders []*LimitOrder, balances map[string]float64) (float64, error) {
	res, err := m.Sale(state, shares, outcome, orders, balances)
	if err != nil {
		return 0, err
	}
	return res.State.Probability(), nil
}
