package dex

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"swaprouter/internal/model"
)

var (
	tokenA = model.Token{Address: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), Decimals: 18}
	tokenB = model.Token{Address: common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), Decimals: 6}
	tokenD = model.Token{Address: common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd"), Decimals: 18}
)

func units(whole int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), pow10(decimals))
}

func pairPool(feePips uint32) model.Pool {
	return model.Pool{
		ID:       "ab-v2",
		Protocol: model.ProtocolConstantProduct,
		Tokens:   []model.Token{tokenA, tokenB},
		FeePips:  feePips,
		Reserves: []*big.Int{units(1000, 18), units(1_000_000, 6)},
	}
}

func concentratedPool() model.Pool {
	return model.Pool{
		ID:           "ab-v3",
		Protocol:     model.ProtocolConcentrated,
		Tokens:       []model.Token{tokenA, tokenD},
		FeePips:      500,
		SqrtPriceX96: new(big.Int).Set(q96),
		Liquidity:    units(1_000_000, 18),
	}
}

func stablePool() model.Pool {
	return model.Pool{
		ID:            "bd-stable",
		Protocol:      model.ProtocolStableSwap,
		Tokens:        []model.Token{tokenB, tokenD},
		FeePips:       400,
		Reserves:      []*big.Int{units(1_000_000, 6), units(1_000_000, 18)},
		Amplification: big.NewInt(100),
	}
}

func weightedPool() model.Pool {
	return model.Pool{
		ID:       "ad-weighted",
		Protocol: model.ProtocolWeighted,
		Tokens:   []model.Token{tokenA, tokenD},
		FeePips:  3000,
		Reserves: []*big.Int{units(1000, 18), units(1000, 18)},
		Weights:  []decimal.Decimal{decimal.RequireFromString("0.5"), decimal.RequireFromString("0.5")},
	}
}

type fataler interface {
	Helper()
	Fatalf(format string, args ...interface{})
}

func mustAdapter(t fataler, pool model.Pool) Adapter {
	t.Helper()
	adapter, err := NewAdapter(pool, DefaultProbeDivisor)
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	return adapter
}

func TestConstantProductQuote(t *testing.T) {
	pool := model.Pool{
		ID:       "small",
		Protocol: model.ProtocolConstantProduct,
		Tokens:   []model.Token{tokenA, tokenD},
		FeePips:  3000,
		Reserves: []*big.Int{big.NewInt(1000), big.NewInt(1000)},
	}
	quote, err := mustAdapter(t, pool).Quote(tokenA.Address, tokenD.Address, big.NewInt(10))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.AmountOut.Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("amount out mismatch: %s", quote.AmountOut)
	}
}

func TestConstantProductMarginalPrice(t *testing.T) {
	quote, err := mustAdapter(t, pairPool(0)).Quote(tokenA.Address, tokenB.Address, units(1, 18))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	// 1000 B per A, expressed as B units per A unit.
	want := decimal.New(1, -9)
	diff := quote.MarginalPrice.Sub(want).Abs()
	if diff.GreaterThan(decimal.New(1, -13)) {
		t.Fatalf("marginal price mismatch: %s", quote.MarginalPrice)
	}
	effective := decimal.NewFromBigInt(quote.AmountOut, 0).Div(decimal.NewFromBigInt(quote.AmountIn, 0))
	if !effective.LessThan(quote.MarginalPrice) {
		t.Fatalf("effective price %s should be below marginal %s", effective, quote.MarginalPrice)
	}
}

func TestConcentratedQuoteBothDirections(t *testing.T) {
	adapter := mustAdapter(t, concentratedPool())
	in := units(1000, 18)

	forward, err := adapter.Quote(tokenA.Address, tokenD.Address, in)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	reverse, err := adapter.Quote(tokenD.Address, tokenA.Address, in)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	floor := new(big.Int).Mul(in, big.NewInt(99))
	floor.Quo(floor, big.NewInt(100))
	for _, quote := range []model.Quote{forward, reverse} {
		if quote.AmountOut.Cmp(in) >= 0 || quote.AmountOut.Cmp(floor) <= 0 {
			t.Fatalf("amount out out of range: %s", quote.AmountOut)
		}
	}
}

func TestStableSwapNearParity(t *testing.T) {
	adapter := mustAdapter(t, stablePool())
	quote, err := adapter.Quote(tokenB.Address, tokenD.Address, units(1000, 6))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	upper := units(1000, 18)
	lower := units(999, 18)
	if quote.AmountOut.Cmp(upper) >= 0 || quote.AmountOut.Cmp(lower) <= 0 {
		t.Fatalf("stable output not near parity: %s", quote.AmountOut)
	}

	// The same size through a constant product pool of equal depth loses more.
	cp := mustAdapter(t, model.Pool{
		ID:       "bd-v2",
		Protocol: model.ProtocolConstantProduct,
		Tokens:   []model.Token{tokenB, tokenD},
		FeePips:  400,
		Reserves: []*big.Int{units(1_000_000, 6), units(1_000_000, 18)},
	})
	cpQuote, err := cp.Quote(tokenB.Address, tokenD.Address, units(1000, 6))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.AmountOut.Cmp(cpQuote.AmountOut) <= 0 {
		t.Fatalf("stable output %s should beat constant product %s", quote.AmountOut, cpQuote.AmountOut)
	}
}

func TestWeightedEqualWeightsMatchesConstantProduct(t *testing.T) {
	in := units(10, 18)
	weightedQuote, err := mustAdapter(t, weightedPool()).Quote(tokenA.Address, tokenD.Address, in)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	pool := weightedPool()
	pool.Protocol = model.ProtocolConstantProduct
	pool.Weights = nil
	cpQuote, err := mustAdapter(t, pool).Quote(tokenA.Address, tokenD.Address, in)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	diff := new(big.Int).Sub(weightedQuote.AmountOut, cpQuote.AmountOut)
	if diff.CmpAbs(big.NewInt(2)) > 0 {
		t.Fatalf("weighted %s differs from constant product %s", weightedQuote.AmountOut, cpQuote.AmountOut)
	}
}

func TestZeroLiquidityIsUnavailable(t *testing.T) {
	pool := pairPool(3000)
	pool.Reserves = []*big.Int{big.NewInt(0), units(1, 6)}
	if _, err := NewAdapter(pool, DefaultProbeDivisor); !errors.Is(err, model.ErrQuoteUnavailable) {
		t.Fatalf("expected quote unavailable, got %v", err)
	}

	v3 := concentratedPool()
	v3.Liquidity = new(big.Int)
	if _, err := NewAdapter(v3, DefaultProbeDivisor); !errors.Is(err, model.ErrQuoteUnavailable) {
		t.Fatalf("expected quote unavailable, got %v", err)
	}
}

func TestQuoteRejectsForeignToken(t *testing.T) {
	adapter := mustAdapter(t, pairPool(3000))
	if _, err := adapter.Quote(tokenA.Address, tokenD.Address, units(1, 18)); err == nil {
		t.Fatalf("expected error for token outside the pool")
	}
}

func TestUnknownProtocol(t *testing.T) {
	pool := pairPool(3000)
	pool.Protocol = "orderbook"
	if _, err := NewAdapter(pool, DefaultProbeDivisor); err == nil {
		t.Fatalf("expected error for unknown protocol")
	}
}

func TestQuoteMonotonic(t *testing.T) {
	pools := []model.Pool{pairPool(3000), concentratedPool(), stablePool(), weightedPool()}
	rapid.Check(t, func(t *rapid.T) {
		pool := rapid.SampledFrom(pools).Draw(t, "pool")
		adapter := mustAdapter(t, pool)
		in, out := pool.Tokens[0], pool.Tokens[1]
		if rapid.Bool().Draw(t, "reverse") {
			in, out = out, in
		}

		limit := int64(math.MaxInt64)
		if bound := units(100, in.Decimals); bound.IsInt64() {
			limit = bound.Int64()
		}
		a := rapid.Int64Range(0, limit).Draw(t, "a")
		b := rapid.Int64Range(a, limit).Draw(t, "b")

		qa, err := adapter.Quote(in.Address, out.Address, big.NewInt(a))
		if err != nil {
			t.Fatalf("quote a: %v", err)
		}
		qb, err := adapter.Quote(in.Address, out.Address, big.NewInt(b))
		if err != nil {
			t.Fatalf("quote b: %v", err)
		}
		if qa.AmountOut.Cmp(qb.AmountOut) > 0 {
			t.Fatalf("%s not monotonic: out(%d)=%s > out(%d)=%s", pool.ID, a, qa.AmountOut, b, qb.AmountOut)
		}
	})
}
