package model

import (
	"github.com/shopspring/decimal"

	"github.com/predictex/exchange-engine/internal/arb"
	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/fees"
	"github.com/predictex/exchange-engine/internal/match"
)

// EngineState converts a binary market's decimal pool into the float64 state
// the pricing engine works on.
func (m *Market) EngineState() cpmm.State {
	return cpmm.State{
		Pool: cpmm.Pool{
			YES: m.PoolYes.InexactFloat64(),
			NO:  m.PoolNo.InexactFloat64(),
		},
		P:             m.P.InexactFloat64(),
		CollectedFees: m.CollectedFees.Engine(),
	}
}

// ApplyEngineState writes an engine state back into the market's decimal
// fields.
func (m *Market) ApplyEngineState(state cpmm.State) {
	m.PoolYes = decimal.NewFromFloat(state.Pool.YES)
	m.PoolNo = decimal.NewFromFloat(state.Pool.NO)
	m.P = decimal.NewFromFloat(state.P)
	m.CollectedFees = FeesFromEngine(state.CollectedFees)
}

// EngineAnswer converts an answer row into the solver's snapshot form.
func (a *Answer) EngineAnswer() arb.Answer {
	return arb.NewAnswer(a.ID, a.Index, cpmm.Pool{
		YES: a.PoolYes.InexactFloat64(),
		NO:  a.PoolNo.InexactFloat64(),
	})
}

// ApplyEngineAnswer writes a solver answer snapshot back into the row.
func (a *Answer) ApplyEngineAnswer(ea arb.Answer) {
	a.PoolYes = decimal.NewFromFloat(ea.Pool.YES)
	a.PoolNo = decimal.NewFromFloat(ea.Pool.NO)
	a.Prob = decimal.NewFromFloat(ea.Prob)
}

// Engine converts a decimal fee breakdown to the engine's float64 form.
func (f FeeBreakdown) Engine() fees.Fees {
	return fees.Fees{
		Creator:   f.Creator.InexactFloat64(),
		Platform:  f.Platform.InexactFloat64(),
		Liquidity: f.Liquidity.InexactFloat64(),
	}
}

// FeesFromEngine converts engine fees to the decimal breakdown.
func FeesFromEngine(f fees.Fees) FeeBreakdown {
	return FeeBreakdown{
		Creator:   decimal.NewFromFloat(f.Creator),
		Platform:  decimal.NewFromFloat(f.Platform),
		Liquidity: decimal.NewFromFloat(f.Liquidity),
	}
}

// FillsFromEngine converts matcher fills into persistable form.
func FillsFromEngine(fills []match.Fill) []Fill {
	out := make([]Fill, len(fills))
	for i, f := range fills {
		out[i] = Fill{
			MatchedBetID: f.MatchedOrderID,
			Amount:       decimal.NewFromFloat(f.Amount),
			Shares:       decimal.NewFromFloat(f.Shares),
			Kind:         f.Kind.String(),
			IsSale:       f.IsSale,
			Timestamp:    f.Timestamp,
		}
	}
	return out
}

// EngineOrder converts an open limit bet into the matcher's order form.
func (b *Bet) EngineOrder() *match.LimitOrder {
	o := &match.LimitOrder{
		ID:          b.ID,
		UserID:      b.UserID,
		AnswerID:    b.AnswerID,
		Outcome:     cpmm.Outcome(b.Outcome),
		OrderAmount: b.OrderAmount.InexactFloat64(),
		Amount:      b.Amount.InexactFloat64(),
		Shares:      b.Shares.InexactFloat64(),
		CreatedTime: b.CreatedAt,
		ExpiresAt:   b.ExpiresAt,
	}
	if b.LimitProb != nil {
		o.LimitProb = b.LimitProb.InexactFloat64()
	}
	return o
}

// EngineOrders converts a slice of open limit bets.
func EngineOrders(bets []*Bet) []*match.LimitOrder {
	orders := make([]*match.LimitOrder, len(bets))
	for i, b := range bets {
		orders[i] = b.EngineOrder()
	}
	return orders
}
