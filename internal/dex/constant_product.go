package dex

import (
	"math/big"

	"swaprouter/internal/model"
)

// constantProduct prices x*y=k pairs.
type constantProduct struct {
	reserves []*big.Int
	feePips  uint32
}

func newConstantProduct(pool model.Pool) (*constantProduct, error) {
	if len(pool.Tokens) != 2 || len(pool.Reserves) != 2 {
		return nil, unavailable(pool.ID, "constant product pool needs two reserves")
	}
	if !positive(pool.Reserves...) {
		return nil, unavailable(pool.ID, "zero liquidity")
	}
	return &constantProduct{reserves: pool.Reserves, feePips: pool.FeePips}, nil
}

func (c *constantProduct) amountOut(in, out int, amountIn *big.Int) (*big.Int, error) {
	reserveIn, reserveOut := c.reserves[in], c.reserves[out]

	withFee := new(big.Int).Mul(amountIn, big.NewInt(int64(FeeDenominator-c.feePips)))
	numerator := new(big.Int).Mul(withFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, feeDenominator)
	denominator.Add(denominator, withFee)
	return numerator.Quo(numerator, denominator), nil
}
