package route

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swaprouter/internal/model"
)

// GasEstimator prices a route's gas in the output token's smallest units.
type GasEstimator interface {
	GasCost(route model.Route) *big.Int
}

// FixedGas charges Base + PerHop*hops gas at GasPrice wei, converted with
// Rates (output smallest units per wei). Tokens without a rate cost nothing.
type FixedGas struct {
	Base     uint64
	PerHop   uint64
	GasPrice *big.Int
	Rates    map[common.Address]decimal.Decimal
}

// GasUnits returns the gas estimate for a hop count.
func (g FixedGas) GasUnits(hops int) uint64 {
	return g.Base + g.PerHop*uint64(hops)
}

// WithGasPrice returns a copy priced at gasPrice.
func (g FixedGas) WithGasPrice(gasPrice *big.Int) FixedGas {
	if gasPrice != nil {
		g.GasPrice = new(big.Int).Set(gasPrice)
	}
	return g
}

func (g FixedGas) GasCost(route model.Route) *big.Int {
	if g.GasPrice == nil || g.GasPrice.Sign() == 0 {
		return new(big.Int)
	}
	rate, ok := g.Rates[route.TokenOut()]
	if !ok || !rate.IsPositive() {
		return new(big.Int)
	}
	wei := new(big.Int).SetUint64(g.GasUnits(route.HopCount()))
	wei.Mul(wei, g.GasPrice)
	return decimal.NewFromBigInt(wei, 0).Mul(rate).Ceil().BigInt()
}
