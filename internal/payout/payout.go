// Package payout computes settlement payouts when a market resolves. All
// arithmetic is in decimal so that CANCEL refunds and share redemptions
// conserve value exactly.
package payout

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/predictex/exchange-engine/internal/model"
)

var (
	// ErrMissingProb is returned for a MKT resolution without a probability.
	ErrMissingProb = errors.New("payout: MKT resolution requires a probability")
	// ErrMissingWeights is returned when a multi-answer market resolves
	// without answer weights.
	ErrMissingWeights = errors.New("payout: multi-answer resolution requires answer weights")
	// ErrUnknownOutcome is returned for an unrecognized resolution outcome.
	ErrUnknownOutcome = errors.New("payout: unknown resolution outcome")
)

var one = decimal.NewFromInt(1)

// UserPayout is one user's settlement amount.
type UserPayout struct {
	UserID string          `json:"user_id"`
	Payout decimal.Decimal `json:"payout"`
}

// position tracks net shares per outcome, or refundable amount for CANCEL.
type position struct {
	yes    decimal.Decimal
	no     decimal.Decimal
	amount decimal.Decimal
}

// TraderPayouts computes each bettor's payout under the market's resolution.
// Share positions are netted from the full bet history, so sales and
// redemptions reduce holdings before anything pays out.
func TraderPayouts(market *model.Market, bets []*model.Bet, res *model.Resolution) ([]UserPayout, error) {
	// user -> answer -> net position
	positions := make(map[string]map[string]*position)
	pos := func(userID, answerID string) *position {
		byAnswer, ok := positions[userID]
		if !ok {
			byAnswer = make(map[string]*position)
			positions[userID] = byAnswer
		}
		p, ok := byAnswer[answerID]
		if !ok {
			p = &position{}
			byAnswer[answerID] = p
		}
		return p
	}
	for _, b := range bets {
		p := pos(b.UserID, b.AnswerID)
		switch b.Outcome {
		case "YES":
			p.yes = p.yes.Add(b.Shares)
		case "NO":
			p.no = p.no.Add(b.Shares)
		}
		// Ante bets are refunded through the liquidity path on CANCEL, not
		// here.
		if !b.IsAnte {
			p.amount = p.amount.Add(b.Amount)
		}
	}

	totals := make(map[string]decimal.Decimal)
	for userID, byAnswer := range positions {
		for answerID, p := range byAnswer {
			payout, err := positionPayout(market, res, answerID, p)
			if err != nil {
				return nil, err
			}
			totals[userID] = totals[userID].Add(payout)
		}
	}
	return sortedPayouts(totals), nil
}

func positionPayout(market *model.Market, res *model.Resolution, answerID string, p *position) (decimal.Decimal, error) {
	if market.Mechanism == model.MechanismMulti && res.Outcome != model.ResolutionCancel {
		if len(res.AnswerWeights) == 0 {
			return decimal.Zero, ErrMissingWeights
		}
		w := res.AnswerWeights[answerID]
		return p.yes.Mul(w).Add(p.no.Mul(one.Sub(w))), nil
	}
	switch res.Outcome {
	case model.ResolutionYes:
		return p.yes, nil
	case model.ResolutionNo:
		return p.no, nil
	case model.ResolutionMkt:
		if res.Prob == nil {
			return decimal.Zero, ErrMissingProb
		}
		return p.yes.Mul(*res.Prob).Add(p.no.Mul(one.Sub(*res.Prob))), nil
	case model.ResolutionCancel:
		return p.amount, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownOutcome, res.Outcome)
	}
}

// PoolWeights derives each liquidity provider's share of the pool from their
// lifetime contributions. Negative lifetime totals count as zero; if every
// total is zero the earliest provider carries the whole pool.
func PoolWeights(provisions []*model.LiquidityProvision) map[string]decimal.Decimal {
	lifetime := make(map[string]decimal.Decimal)
	order := make([]string, 0)
	for _, lp := range provisions {
		if _, seen := lifetime[lp.UserID]; !seen {
			order = append(order, lp.UserID)
		}
		lifetime[lp.UserID] = lifetime[lp.UserID].Add(lp.Amount)
	}

	total := decimal.Zero
	for user, amount := range lifetime {
		if amount.IsNegative() {
			lifetime[user] = decimal.Zero
			continue
		}
		total = total.Add(amount)
	}

	weights := make(map[string]decimal.Decimal, len(lifetime))
	if total.IsZero() {
		if len(order) > 0 {
			weights[order[0]] = one
		}
		return weights
	}
	for user, amount := range lifetime {
		weights[user] = amount.Div(total)
	}
	return weights
}

// LiquidityPayouts splits the pool's residual value among providers by their
// pool weights. A CANCEL refunds each provider's net positive contribution
// instead.
func LiquidityPayouts(market *model.Market, answers []*model.Answer, provisions []*model.LiquidityProvision, res *model.Resolution) ([]UserPayout, error) {
	if res.Outcome == model.ResolutionCancel {
		totals := make(map[string]decimal.Decimal)
		for _, lp := range provisions {
			totals[lp.UserID] = totals[lp.UserID].Add(lp.Amount)
		}
		for user, amount := range totals {
			if amount.IsNegative() {
				totals[user] = decimal.Zero
			}
		}
		return sortedPayouts(totals), nil
	}

	value, err := poolValue(market, answers, res)
	if err != nil {
		return nil, err
	}
	weights := PoolWeights(provisions)
	totals := make(map[string]decimal.Decimal, len(weights))
	for user, w := range weights {
		totals[user] = value.Mul(w)
	}
	return sortedPayouts(totals), nil
}

// poolValue is what the AMM pool's holdings are worth under the resolution,
// plus any undistributed subsidy.
func poolValue(market *model.Market, answers []*model.Answer, res *model.Resolution) (decimal.Decimal, error) {
	if market.Mechanism == model.MechanismMulti {
		if len(res.AnswerWeights) == 0 {
			return decimal.Zero, ErrMissingWeights
		}
		value := market.SubsidyPool
		for _, a := range answers {
			w := res.AnswerWeights[a.ID]
			value = value.Add(a.PoolYes.Mul(w)).Add(a.PoolNo.Mul(one.Sub(w)))
		}
		return value, nil
	}
	switch res.Outcome {
	case model.ResolutionYes:
		return market.PoolYes.Add(market.SubsidyPool), nil
	case model.ResolutionNo:
		return market.PoolNo.Add(market.SubsidyPool), nil
	case model.ResolutionMkt:
		if res.Prob == nil {
			return decimal.Zero, ErrMissingProb
		}
		p := *res.Prob
		return market.PoolYes.Mul(p).Add(market.PoolNo.Mul(one.Sub(p))).Add(market.SubsidyPool), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownOutcome, res.Outcome)
	}
}

// CreatorPayout is the creator's accumulated fee share, paid at resolution.
func CreatorPayout(market *model.Market) decimal.Decimal {
	return market.CollectedFees.Creator
}

func sortedPayouts(totals map[string]decimal.Decimal) []UserPayout {
	out := make([]UserPayout, 0, len(totals))
	for user, payout := range totals {
		out = append(out, UserPayout{UserID: user, Payout: payout})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
