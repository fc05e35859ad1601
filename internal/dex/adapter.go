package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swaprouter/internal/model"
)

const (
	// FeeDenominator is the pips scale of model.Pool.FeePips.
	FeeDenominator = 1_000_000
	// DefaultProbeDivisor sizes the marginal-price probe at 1/10000 of a whole token.
	DefaultProbeDivisor = 10_000

	pricePrecision = 36
)

var feeDenominator = big.NewInt(FeeDenominator)

// Adapter quotes swaps against one pool snapshot. Output is monotonically
// non-decreasing in the input amount for a fixed snapshot.
type Adapter interface {
	Pool() model.Pool
	Quote(tokenIn, tokenOut common.Address, amountIn *big.Int) (model.Quote, error)
}

// pricer is the variant-specific pricing function over token indexes.
type pricer interface {
	amountOut(in, out int, amountIn *big.Int) (*big.Int, error)
}

// NewAdapter dispatches on the pool's protocol tag.
func NewAdapter(pool model.Pool, probeDivisor int64) (Adapter, error) {
	if probeDivisor < 1 {
		probeDivisor = DefaultProbeDivisor
	}
	if pool.FeePips >= FeeDenominator {
		return nil, unavailable(pool.ID, fmt.Sprintf("fee %d pips is not below 100%%", pool.FeePips))
	}

	var (
		p   pricer
		err error
	)
	switch pool.Protocol {
	case model.ProtocolConstantProduct:
		p, err = newConstantProduct(pool)
	case model.ProtocolConcentrated:
		p, err = newConcentrated(pool)
	case model.ProtocolStableSwap:
		p, err = newStableSwap(pool)
	case model.ProtocolWeighted:
		p, err = newWeighted(pool)
	default:
		return nil, fmt.Errorf("pool %s: unsupported protocol %q", pool.ID, pool.Protocol)
	}
	if err != nil {
		return nil, err
	}
	return &poolAdapter{pool: pool, probeDivisor: probeDivisor, pricer: p}, nil
}

type poolAdapter struct {
	pool         model.Pool
	probeDivisor int64
	pricer       pricer
}

func (a *poolAdapter) Pool() model.Pool {
	return a.pool
}

// Quote returns the output for amountIn and the marginal price measured with
// a reference-size probe.
func (a *poolAdapter) Quote(tokenIn, tokenOut common.Address, amountIn *big.Int) (model.Quote, error) {
	in, out := a.pool.IndexOf(tokenIn), a.pool.IndexOf(tokenOut)
	if in < 0 || out < 0 || in == out {
		return model.Quote{}, fmt.Errorf("pool %s does not trade %s -> %s", a.pool.ID, tokenIn.Hex(), tokenOut.Hex())
	}
	if amountIn == nil || amountIn.Sign() < 0 {
		return model.Quote{}, fmt.Errorf("pool %s: invalid input amount", a.pool.ID)
	}

	amountOut := new(big.Int)
	if amountIn.Sign() > 0 {
		var err error
		amountOut, err = a.pricer.amountOut(in, out, amountIn)
		if err != nil {
			return model.Quote{}, err
		}
	}

	marginal, err := a.marginalPrice(in, out)
	if err != nil {
		return model.Quote{}, err
	}

	return model.Quote{
		PoolID:        a.pool.ID,
		TokenIn:       tokenIn,
		TokenOut:      tokenOut,
		AmountIn:      new(big.Int).Set(amountIn),
		AmountOut:     amountOut,
		MarginalPrice: marginal,
	}, nil
}

// marginalPrice quotes 10^decimals/probeDivisor units and grows the probe
// tenfold while the output rounds to zero, up to one whole token.
func (a *poolAdapter) marginalPrice(in, out int) (decimal.Decimal, error) {
	whole := pow10(a.pool.Tokens[in].Decimals)
	probe := new(big.Int).Quo(whole, big.NewInt(a.probeDivisor))
	if probe.Sign() == 0 {
		probe.SetInt64(1)
	}
	ten := big.NewInt(10)
	for {
		got, err := a.pricer.amountOut(in, out, probe)
		if err != nil {
			return decimal.Zero, err
		}
		if got.Sign() > 0 {
			return decimal.NewFromBigInt(got, 0).DivRound(decimal.NewFromBigInt(probe, 0), pricePrecision), nil
		}
		if probe.Cmp(whole) >= 0 {
			return decimal.Zero, unavailable(a.pool.ID, "no output at probe size")
		}
		probe.Mul(probe, ten)
	}
}

func unavailable(poolID, reason string) error {
	return fmt.Errorf("pool %s: %s: %w", poolID, reason, model.ErrQuoteUnavailable)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// applyFee returns amount*(1e6-fee)/1e6.
func applyFee(amount *big.Int, feePips uint32) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(FeeDenominator-feePips)))
	return out.Quo(out, feeDenominator)
}

func positive(values ...*big.Int) bool {
	for _, v := range values {
		if v == nil || v.Sign() <= 0 {
			return false
		}
	}
	return true
}
