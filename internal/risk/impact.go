package risk

import (
	"github.com/shopspring/decimal"

	"swaprouter/internal/model"
)

const impactPrecision = 36

// PriceImpact returns (reference - effective) / reference for a route where
// reference is the product of hop marginal prices and effective is
// amountOut / amountIn. A route with no reference price has impact 1.
func PriceImpact(route model.Route) decimal.Decimal {
	if len(route.Hops) == 0 || route.AmountIn == nil || route.AmountIn.Sign() <= 0 || route.AmountOut == nil {
		return decimal.NewFromInt(1)
	}

	reference := decimal.NewFromInt(1)
	for _, hop := range route.Hops {
		reference = reference.Mul(hop.MarginalPrice).Round(impactPrecision)
	}
	if !reference.IsPositive() {
		return decimal.NewFromInt(1)
	}

	effective := decimal.NewFromBigInt(route.AmountOut, 0).DivRound(decimal.NewFromBigInt(route.AmountIn, 0), impactPrecision)
	return reference.Sub(effective).DivRound(reference, impactPrecision)
}

// PartialImpact computes the impact of the hops taken so far.
func PartialImpact(hops []model.Hop) decimal.Decimal {
	if len(hops) == 0 {
		return decimal.Zero
	}
	return PriceImpact(model.Route{
		Hops:      hops,
		AmountIn:  hops[0].AmountIn,
		AmountOut: hops[len(hops)-1].AmountOut,
	})
}
