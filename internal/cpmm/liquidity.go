package cpmm

import (
	"errors"
	"math"
)

// MinimumLiquidity is the floor on both pool sides after a liquidity
// withdrawal.
const MinimumLiquidity = 100.0

// sumToOneEpsilon terminates the sum-to-one subsidy redistribution loop.
const sumToOneEpsilon = 1e-8

// ErrBelowMinimumLiquidity is returned when removing liquidity would leave a
// pool side under MinimumLiquidity.
var ErrBelowMinimumLiquidity = errors.New("cpmm: withdrawal would leave pool below minimum liquidity")

// Liquidity returns YES^p * NO^(1-p), the pool's liquidity measure.
func Liquidity(pool Pool, p float64) float64 {
	return math.Pow(pool.YES, p) * math.Pow(pool.NO, 1-p)
}

// MultiLiquidity is Liquidity at the multi-answer pricing weight p = 0.5.
func MultiLiquidity(pool Pool) float64 {
	return Liquidity(pool, 0.5)
}

// AddLiquidity injects amount into both pool sides and solves for the new
// pricing weight that keeps the implied probability exactly unchanged.
// Returns the new pool, the new p, and the liquidity delta. A negative
// amount withdraws.
func AddLiquidity(pool Pool, p, amount float64) (newPool Pool, newP, delta float64) {
	prob := Probability(pool, p)

	// p(n+b) / ((1-p)(y+b) + p(n+b)) = prob, solved for p.
	y, n := pool.YES, pool.NO
	newP = prob * (amount + y) / (amount - n*(prob-1) + prob*y)

	newPool = Pool{YES: y + amount, NO: n + amount}
	delta = Liquidity(newPool, newP) - Liquidity(pool, newP)
	return newPool, newP, delta
}

// RemoveLiquidity withdraws amount from both pool sides, keeping the implied
// probability unchanged. Fails if either side would drop below
// MinimumLiquidity.
func RemoveLiquidity(pool Pool, p, amount float64) (newPool Pool, newP, delta float64, err error) {
	newPool, newP, delta = AddLiquidity(pool, p, -amount)
	if newPool.YES < MinimumLiquidity || newPool.NO < MinimumLiquidity {
		return newPool, newP, delta, ErrBelowMinimumLiquidity
	}
	return newPool, newP, delta, nil
}

// MaxRemovableLiquidity returns the largest amount RemoveLiquidity accepts.
func MaxRemovableLiquidity(pool Pool) float64 {
	return math.Max(math.Min(pool.YES, pool.NO)-MinimumLiquidity, 0)
}

// AddLiquidityFixedP injects amount into a p = 0.5 pool, throwing away just
// enough shares on the heavier side to keep the implied probability fixed.
// Returns the new pool, the liquidity delta, and the shares thrown away per
// side (these become redeemable YES shares for the other answers of a
// sum-to-one set).
func AddLiquidityFixedP(pool Pool, amount float64) (newPool Pool, delta float64, thrownAway Pool) {
	prob := Probability(pool, 0.5)
	newPool = pool

	if prob < 0.5 {
		newPool.YES += amount
		newPool.NO += prob / (1 - prob) * amount
		thrownAway.NO = amount - prob/(1-prob)*amount
	} else {
		newPool.NO += amount
		newPool.YES += (1 - prob) / prob * amount
		thrownAway.YES = amount - (1-prob)/prob*amount
	}

	delta = MultiLiquidity(newPool) - MultiLiquidity(pool)
	return newPool, delta, thrownAway
}

// AddMultiLiquidityIndependent splits amount evenly across independent
// multi-answer pools.
func AddMultiLiquidityIndependent(pools map[string]Pool, amount float64) map[string]Pool {
	perAnswer := amount / float64(len(pools))
	newPools := make(map[string]Pool, len(pools))
	for id, pool := range pools {
		newPool, _, _ := AddLiquidityFixedP(pool, perAnswer)
		newPools[id] = newPool
	}
	return newPools
}

// AddMultiLiquiditySumToOne subsidizes a sum-to-one answer set. Shares
// thrown away by one answer's injection are NO shares of that answer, which
// redeem into YES shares of every other answer; the minimum redeemable value
// across answers is re-injected until the remainder is negligible.
func AddMultiLiquiditySumToOne(pools map[string]Pool, amount float64) map[string]Pool {
	answerIDs := make([]string, 0, len(pools))
	for id := range pools {
		answerIDs = append(answerIDs, id)
	}

	newPools := make(map[string]Pool, len(pools))
	for id, pool := range pools {
		newPools[id] = pool
	}

	remaining := amount
	for remaining > sumToOneEpsilon {
		yesThrownAway := make(map[string]float64, len(answerIDs))

		for _, id := range answerIDs {
			newPool, _, thrownAway := AddLiquidityFixedP(newPools[id], remaining/float64(len(answerIDs)))
			newPools[id] = newPool

			yesThrownAway[id] += thrownAway.YES
			for _, otherID := range answerIDs {
				if otherID != id {
					// NO shares here convert to YES shares in each other answer.
					yesThrownAway[otherID] += thrownAway.NO
				}
			}
		}

		min := math.Inf(1)
		for _, v := range yesThrownAway {
			if v < min {
				min = v
			}
		}
		remaining = min
	}
	return newPools
}
