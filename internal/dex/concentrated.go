package dex

import (
	"math/big"

	"swaprouter/internal/model"
)

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// concentrated prices a concentrated-liquidity pool within its active range.
// Crossing into neighbouring ticks is not modelled, so large trades are
// quoted as if the active liquidity extended indefinitely.
type concentrated struct {
	sqrtPriceX96 *big.Int
	liquidity    *big.Int
	feePips      uint32
}

func newConcentrated(pool model.Pool) (*concentrated, error) {
	if len(pool.Tokens) != 2 {
		return nil, unavailable(pool.ID, "concentrated pool needs two tokens")
	}
	if !positive(pool.SqrtPriceX96, pool.Liquidity) {
		return nil, unavailable(pool.ID, "zero liquidity")
	}
	return &concentrated{
		sqrtPriceX96: pool.SqrtPriceX96,
		liquidity:    pool.Liquidity,
		feePips:      pool.FeePips,
	}, nil
}

func (c *concentrated) amountOut(in, out int, amountIn *big.Int) (*big.Int, error) {
	effective := applyFee(amountIn, c.feePips)
	sqrtP, liq := c.sqrtPriceX96, c.liquidity

	if in == 0 {
		// token0 in: sqrtNew = L*sqrtP*Q96 / (L*Q96 + in*sqrtP)
		numerator := new(big.Int).Mul(liq, sqrtP)
		numerator.Mul(numerator, q96)
		denominator := new(big.Int).Mul(liq, q96)
		denominator.Add(denominator, new(big.Int).Mul(effective, sqrtP))
		sqrtNew := numerator.Quo(numerator, denominator)

		delta := new(big.Int).Sub(sqrtP, sqrtNew)
		amount := delta.Mul(delta, liq)
		return amount.Quo(amount, q96), nil
	}

	// token1 in: sqrtNew = sqrtP + in*Q96/L
	step := new(big.Int).Mul(effective, q96)
	step.Quo(step, liq)
	sqrtNew := new(big.Int).Add(sqrtP, step)

	amount := new(big.Int).Mul(liq, q96)
	amount.Mul(amount, step)
	denominator := new(big.Int).Mul(sqrtNew, sqrtP)
	return amount.Quo(amount, denominator), nil
}
