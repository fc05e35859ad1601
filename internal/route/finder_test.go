package route

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"swaprouter/internal/aggregate"
	"swaprouter/internal/dex"
	"swaprouter/internal/model"
)

var (
	tokenA = model.Token{Address: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), Decimals: 18}
	tokenB = model.Token{Address: common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), Decimals: 18}
	tokenC = model.Token{Address: common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"), Decimals: 18}
	tokenD = model.Token{Address: common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd"), Decimals: 18}
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func pairPool(id string, a, b model.Token, reserveA, reserveB *big.Int) model.Pool {
	return model.Pool{
		ID:       id,
		Protocol: model.ProtocolConstantProduct,
		Tokens:   []model.Token{a, b},
		FeePips:  3000,
		Reserves: []*big.Int{reserveA, reserveB},
	}
}

type fataler interface {
	Helper()
	Fatalf(format string, args ...interface{})
}

func snapshot(t fataler, pools ...model.Pool) *aggregate.Snapshot {
	t.Helper()
	adapters := make([]dex.Adapter, 0, len(pools))
	for _, pool := range pools {
		adapter, err := dex.NewAdapter(pool, dex.DefaultProbeDivisor)
		if err != nil {
			t.Fatalf("adapter %s: %v", pool.ID, err)
		}
		adapters = append(adapters, adapter)
	}
	return aggregate.NewSnapshot(adapters...)
}

func TestTwoHopBeatsShallowDirectPool(t *testing.T) {
	snap := snapshot(t,
		pairPool("ac", tokenA, tokenC, ether(100), ether(100)),
		pairPool("ab", tokenA, tokenB, ether(10_000), ether(10_000)),
		pairPool("bc", tokenB, tokenC, ether(10_000), ether(10_000)),
	)
	finder := &Finder{MaxHops: 3}

	route, err := finder.Find(context.Background(), snap, tokenA.Address, tokenC.Address, ether(1))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	ids := route.PoolIDs()
	if len(ids) != 2 || ids[0] != "ab" || ids[1] != "bc" {
		t.Fatalf("expected two-hop route, got %v", ids)
	}

	direct, err := (&Finder{MaxHops: 1}).Find(context.Background(), snap, tokenA.Address, tokenC.Address, ether(1))
	if err != nil {
		t.Fatalf("find direct: %v", err)
	}
	if direct.AmountOut.Cmp(route.AmountOut) >= 0 {
		t.Fatalf("direct %s should be below two-hop %s", direct.AmountOut, route.AmountOut)
	}
}

func TestHopOutputFeedsNextHop(t *testing.T) {
	snap := snapshot(t,
		pairPool("ab", tokenA, tokenB, ether(1_000), ether(2_000)),
		pairPool("bc", tokenB, tokenC, ether(2_000), ether(500)),
	)
	route, err := (&Finder{MaxHops: 2}).Find(context.Background(), snap, tokenA.Address, tokenC.Address, ether(10))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := route.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	ab := snap.Adapters["ab"]
	first, _ := ab.Quote(tokenA.Address, tokenB.Address, ether(10))
	bc := snap.Adapters["bc"]
	second, _ := bc.Quote(tokenB.Address, tokenC.Address, first.AmountOut)
	if route.AmountOut.Cmp(second.AmountOut) != 0 {
		t.Fatalf("sequential simulation mismatch: %s != %s", route.AmountOut, second.AmountOut)
	}
}

func TestTieBreaksOnPoolIDs(t *testing.T) {
	snap := snapshot(t,
		pairPool("p2", tokenA, tokenB, ether(1_000), ether(1_000)),
		pairPool("p1", tokenA, tokenB, ether(1_000), ether(1_000)),
	)
	for i := 0; i < 5; i++ {
		route, err := (&Finder{MaxHops: 2}).Find(context.Background(), snap, tokenA.Address, tokenB.Address, ether(1))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if ids := route.PoolIDs(); len(ids) != 1 || ids[0] != "p1" {
			t.Fatalf("expected p1, got %v", ids)
		}
	}
}

func TestBetterOrdering(t *testing.T) {
	oneHop := model.Route{Hops: []model.Hop{{PoolID: "z"}}, AmountOut: big.NewInt(100), GasCost: big.NewInt(0)}
	twoHop := model.Route{Hops: []model.Hop{{PoolID: "a"}, {PoolID: "b"}}, AmountOut: big.NewInt(100), GasCost: big.NewInt(0)}
	if !Better(oneHop, twoHop) || Better(twoHop, oneHop) {
		t.Fatalf("fewer hops should win a tie")
	}

	richer := model.Route{Hops: []model.Hop{{PoolID: "a"}, {PoolID: "b"}}, AmountOut: big.NewInt(101), GasCost: big.NewInt(0)}
	if !Better(richer, oneHop) {
		t.Fatalf("higher net output should win")
	}

	expensive := model.Route{Hops: []model.Hop{{PoolID: "a"}, {PoolID: "b"}}, AmountOut: big.NewInt(101), GasCost: big.NewInt(5)}
	if !Better(oneHop, expensive) {
		t.Fatalf("gas should be netted out")
	}
}

func TestGasCostChangesSelection(t *testing.T) {
	snap := snapshot(t,
		pairPool("ac", tokenA, tokenC, ether(100), ether(100)),
		pairPool("ab", tokenA, tokenB, ether(100_000), ether(100_000)),
		pairPool("bc", tokenB, tokenC, ether(100_000), ether(100_000)),
	)
	gas := FixedGas{
		Base:     0,
		PerHop:   100_000,
		GasPrice: big.NewInt(1_000_000_000_000),
		Rates:    map[common.Address]decimal.Decimal{tokenC.Address: decimal.NewFromInt(1)},
	}

	free, err := (&Finder{MaxHops: 2}).Find(context.Background(), snap, tokenA.Address, tokenC.Address, ether(1))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if free.HopCount() != 2 {
		t.Fatalf("expected two hops without gas, got %v", free.PoolIDs())
	}

	priced, err := (&Finder{MaxHops: 2, Gas: gas}).Find(context.Background(), snap, tokenA.Address, tokenC.Address, ether(1))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if priced.HopCount() != 1 {
		t.Fatalf("expected direct route once gas is priced, got %v", priced.PoolIDs())
	}
	if priced.GasCost.Sign() <= 0 {
		t.Fatalf("expected gas cost on route")
	}
}

func TestNoRouteFound(t *testing.T) {
	snap := snapshot(t, pairPool("ab", tokenA, tokenB, ether(1_000), ether(1_000)))
	_, err := (&Finder{MaxHops: 3}).Find(context.Background(), snap, tokenA.Address, tokenD.Address, ether(1))
	if !errors.Is(err, model.ErrNoRouteFound) {
		t.Fatalf("expected no route, got %v", err)
	}
}

func TestMaxHopsBound(t *testing.T) {
	snap := snapshot(t,
		pairPool("ab", tokenA, tokenB, ether(1_000), ether(1_000)),
		pairPool("bc", tokenB, tokenC, ether(1_000), ether(1_000)),
		pairPool("cd", tokenC, tokenD, ether(1_000), ether(1_000)),
	)
	if _, err := (&Finder{MaxHops: 2}).Find(context.Background(), snap, tokenA.Address, tokenD.Address, ether(1)); !errors.Is(err, model.ErrNoRouteFound) {
		t.Fatalf("expected no route within two hops, got %v", err)
	}
	route, err := (&Finder{MaxHops: 3}).Find(context.Background(), snap, tokenA.Address, tokenD.Address, ether(1))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if route.HopCount() != 3 {
		t.Fatalf("expected three hops, got %d", route.HopCount())
	}
}

func TestPrunesPartialPathsOverThreshold(t *testing.T) {
	snap := snapshot(t,
		// A tiny first leg makes any path through B heavily impacted.
		pairPool("ab", tokenA, tokenB, ether(2), ether(2)),
		pairPool("bc", tokenB, tokenC, ether(1_000), ether(1_000)),
		pairPool("ac", tokenA, tokenC, ether(1_000), ether(1_000)),
	)
	finder := &Finder{MaxHops: 2, Threshold: decimal.RequireFromString("0.05")}

	route, stats, err := finder.FindWithStats(context.Background(), snap, tokenA.Address, tokenC.Address, ether(1))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stats.Pruned == 0 || stats.Tokens != 3 {
		t.Fatalf("expected pruning over three tokens, stats=%+v", stats)
	}
	if ids := route.PoolIDs(); len(ids) != 1 || ids[0] != "ac" {
		t.Fatalf("expected direct route, got %v", ids)
	}
}

func TestCompletePathsAreNotPruned(t *testing.T) {
	snap := snapshot(t, pairPool("ab", tokenA, tokenB, ether(2), ether(2)))
	finder := &Finder{MaxHops: 2, Threshold: decimal.RequireFromString("0.05")}

	route, err := finder.Find(context.Background(), snap, tokenA.Address, tokenB.Address, ether(1))
	if err != nil {
		t.Fatalf("complete path should be returned for validation: %v", err)
	}
	if route.HopCount() != 1 {
		t.Fatalf("unexpected route %v", route.PoolIDs())
	}
}

func TestSimulateMatchesFind(t *testing.T) {
	snap := snapshot(t,
		pairPool("ab", tokenA, tokenB, ether(1_000), ether(1_000)),
		pairPool("bc", tokenB, tokenC, ether(1_000), ether(1_000)),
	)
	route, err := (&Finder{MaxHops: 2}).Find(context.Background(), snap, tokenA.Address, tokenC.Address, ether(3))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	again, err := Simulate(route, snap.Adapters)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if again.AmountOut.Cmp(route.AmountOut) != 0 {
		t.Fatalf("simulation mismatch: %s != %s", again.AmountOut, route.AmountOut)
	}

	if _, err := Simulate(route, map[string]dex.Adapter{}); !errors.Is(err, model.ErrQuoteUnavailable) {
		t.Fatalf("expected quote unavailable, got %v", err)
	}
}

func TestRoutesAreContinuous(t *testing.T) {
	tokens := []model.Token{tokenA, tokenB, tokenC, tokenD}
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 6).Draw(t, "pools")
		pools := make([]model.Pool, 0, count)
		for i := 0; i < count; i++ {
			a := rapid.IntRange(0, len(tokens)-1).Draw(t, fmt.Sprintf("a%d", i))
			b := rapid.IntRange(0, len(tokens)-1).Draw(t, fmt.Sprintf("b%d", i))
			if a == b {
				continue
			}
			ra := rapid.Int64Range(1, 1_000_000).Draw(t, fmt.Sprintf("ra%d", i))
			rb := rapid.Int64Range(1, 1_000_000).Draw(t, fmt.Sprintf("rb%d", i))
			pools = append(pools, pairPool(fmt.Sprintf("pool%d", i), tokens[a], tokens[b], ether(ra), ether(rb)))
		}
		if len(pools) == 0 {
			return
		}
		maxHops := rapid.IntRange(1, 3).Draw(t, "maxHops")
		amount := ether(rapid.Int64Range(1, 1_000).Draw(t, "amount"))

		route, err := (&Finder{MaxHops: maxHops}).Find(context.Background(), snapshot(t, pools...), tokenA.Address, tokenD.Address, amount)
		if errors.Is(err, model.ErrNoRouteFound) {
			return
		}
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if err := route.Validate(); err != nil {
			t.Fatalf("validate: %v", err)
		}
		if route.HopCount() > maxHops {
			t.Fatalf("route exceeds max hops: %d", route.HopCount())
		}
		if route.TokenIn() != tokenA.Address || route.TokenOut() != tokenD.Address {
			t.Fatalf("route endpoints mismatch")
		}
		seen := map[string]bool{}
		for _, id := range route.PoolIDs() {
			if seen[id] {
				t.Fatalf("pool %s repeated", id)
			}
			seen[id] = true
		}
	})
}
