package dex

import (
	"math/big"

	"github.com/shopspring/decimal"

	"swaprouter/internal/model"
)

// weighted prices Balancer-style weighted pools:
// out = Bo * (1 - (Bi / (Bi + Ai*(1-fee)))^(wi/wo))
type weighted struct {
	id       string
	reserves []*big.Int
	weights  []decimal.Decimal
	feePips  uint32
}

func newWeighted(pool model.Pool) (*weighted, error) {
	n := len(pool.Tokens)
	if n < 2 || len(pool.Reserves) != n || len(pool.Weights) != n {
		return nil, unavailable(pool.ID, "weighted pool reserves or weights do not match tokens")
	}
	if !positive(pool.Reserves...) {
		return nil, unavailable(pool.ID, "zero liquidity")
	}
	for _, w := range pool.Weights {
		if !w.IsPositive() {
			return nil, unavailable(pool.ID, "non-positive weight")
		}
	}
	return &weighted{id: pool.ID, reserves: pool.Reserves, weights: pool.Weights, feePips: pool.FeePips}, nil
}

func (w *weighted) amountOut(in, out int, amountIn *big.Int) (*big.Int, error) {
	balanceIn := decimal.NewFromBigInt(w.reserves[in], 0)
	balanceOut := decimal.NewFromBigInt(w.reserves[out], 0)
	effective := decimal.NewFromBigInt(applyFee(amountIn, w.feePips), 0)

	base := balanceIn.DivRound(balanceIn.Add(effective), pricePrecision)
	exponent := w.weights[in].DivRound(w.weights[out], pricePrecision)
	power, err := base.PowWithPrecision(exponent, pricePrecision)
	if err != nil {
		return nil, unavailable(w.id, "weighted math: "+err.Error())
	}

	ratio := decimal.NewFromInt(1).Sub(power)
	if !ratio.IsPositive() {
		return new(big.Int), nil
	}
	return balanceOut.Mul(ratio).Floor().BigInt(), nil
}
