// Package fees implements the taker-fee formula and its split between
// creator, platform, and liquidity pool.
//
// Fees are charged on the taker side of every fee-bearing fill. The split is
// governed by a Schedule passed in by the caller: the legacy regime routes
// the first slice of lifetime fees on a market to its creator before
// splitting the remainder with the platform, while the current regime sends
// everything to the platform. Redemption and arbitrage legs are fee-free and
// bypass this package entirely.
package fees

// TakerFeeConstant scales the taker fee. Empirically chosen; see Schedule
// for regime selection.
const TakerFeeConstant = 0.07

// LegacyCreatorThreshold is the amount of lifetime creator fees on a market
// that go 100% to the creator before the 50/50 split kicks in, under the
// legacy regime.
const LegacyCreatorThreshold = 100.0

// Fees is the creator/platform/liquidity split of fees charged on a fill or
// accumulated on a pool. All fields are non-negative; Fees values are
// combined additively.
type Fees struct {
	Creator   float64 `json:"creatorFee"`
	Platform  float64 `json:"platformFee"`
	Liquidity float64 `json:"liquidityFee"`
}

// NoFees is the zero fee value.
var NoFees = Fees{}

// Add returns the field-wise sum of f and o.
func (f Fees) Add(o Fees) Fees {
	return Fees{
		Creator:   f.Creator + o.Creator,
		Platform:  f.Platform + o.Platform,
		Liquidity: f.Liquidity + o.Liquidity,
	}
}

// Total returns the sum of all three components.
func (f Fees) Total() float64 {
	return f.Creator + f.Platform + f.Liquidity
}

// Sum adds a list of Fees values.
func Sum(fs []Fees) Fees {
	var total Fees
	for _, f := range fs {
		total = total.Add(f)
	}
	return total
}

// TakerFee returns the fee charged for receiving shares at the given average
// probability: TakerFeeConstant * prob * (1 - prob) * shares. Zero shares
// means zero fee.
func TakerFee(shares, prob float64) float64 {
	return TakerFeeConstant * prob * (1 - prob) * shares
}

// Regime selects how a total fee is split.
type Regime int

const (
	// RegimePlatform sends 100% of fees to the platform.
	RegimePlatform Regime = iota
	// RegimeLegacy routes the first LegacyCreatorThreshold of lifetime
	// creator fees on a market to the creator, then splits the remainder
	// 50/50 between creator and platform. Liquidity fee is always zero.
	RegimeLegacy
)

// Schedule is the fee configuration for one deployment. It is passed into
// the matcher rather than read from a global so both regimes stay
// independently testable.
type Schedule struct {
	Regime Regime

	// CreatorThreshold overrides LegacyCreatorThreshold when positive.
	// Ignored outside the legacy regime.
	CreatorThreshold float64
}

// Split divides a total fee according to the schedule. priorCreatorFees is
// the lifetime creator fee already collected on this market, used by the
// legacy regime's threshold.
func (s Schedule) Split(total, priorCreatorFees float64) Fees {
	if total <= 0 {
		return NoFees
	}
	if s.Regime != RegimeLegacy {
		return Fees{Platform: total}
	}

	threshold := s.CreatorThreshold
	if threshold <= 0 {
		threshold = LegacyCreatorThreshold
	}

	headroom := threshold - priorCreatorFees
	if headroom < 0 {
		headroom = 0
	}
	creatorOnly := total
	if creatorOnly > headroom {
		creatorOnly = headroom
	}
	rest := total - creatorOnly

	return Fees{
		Creator:  creatorOnly + rest/2,
		Platform: rest / 2,
	}
}
