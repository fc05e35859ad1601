package aggregate

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"swaprouter/internal/cache"
	"swaprouter/internal/model"
)

var (
	tokenA = model.Token{Address: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), Decimals: 18}
	tokenB = model.Token{Address: common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), Decimals: 6}
)

// stubFetcher serves static pools; pools listed in hang never answer and
// ignore their context, pools in failFor error on their first calls.
type stubFetcher struct {
	mu      sync.Mutex
	pools   map[string]model.Pool
	hang    map[string]bool
	failFor map[string]int
	calls   map[string]int
	at      []time.Time
}

func (f *stubFetcher) FetchPool(ctx context.Context, ref model.PoolRef) (model.Pool, error) {
	f.mu.Lock()
	f.calls[ref.ID]++
	f.at = append(f.at, time.Now())
	if f.calls[ref.ID] <= f.failFor[ref.ID] {
		f.mu.Unlock()
		return model.Pool{}, errors.New("connection reset by peer")
	}
	hang := f.hang[ref.ID]
	pool, ok := f.pools[ref.ID]
	f.mu.Unlock()

	if hang {
		time.Sleep(time.Second)
	}
	if !ok {
		return model.Pool{}, errors.New("unknown pool")
	}
	return pool, nil
}

func (f *stubFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type countingMetrics struct {
	mu       sync.Mutex
	excluded map[string]int
}

func (m *countingMetrics) PoolExcluded(reason string) {
	m.mu.Lock()
	m.excluded[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) FanoutDuration(time.Duration) {}

func quotable(snap *Snapshot, poolID string, tokenIn, tokenOut common.Address) bool {
	for _, q := range snap.Quotes {
		if q.PoolID == poolID && q.TokenIn == tokenIn && q.TokenOut == tokenOut {
			return true
		}
	}
	return false
}

func testPool(id string) model.Pool {
	return model.Pool{
		ID:       id,
		Protocol: model.ProtocolConstantProduct,
		Tokens:   []model.Token{tokenA, tokenB},
		FeePips:  3000,
		Reserves: []*big.Int{big.NewInt(1_000_000_000_000_000_000), big.NewInt(1_000_000_000)},
	}
}

func refs(ids ...string) []model.PoolRef {
	out := make([]model.PoolRef, len(ids))
	for i, id := range ids {
		out[i] = model.PoolRef{ID: id, Protocol: model.ProtocolConstantProduct, Tokens: []model.Token{tokenA, tokenB}}
	}
	return out
}

func TestCollectExcludesPoolThatTimesOutTwice(t *testing.T) {
	fetcher := &stubFetcher{
		pools: map[string]model.Pool{"fast": testPool("fast"), "slow": testPool("slow")},
		hang:  map[string]bool{"slow": true},
		calls: map[string]int{},
	}
	metrics := &countingMetrics{excluded: map[string]int{}}
	agg := NewAggregator(Config{Timeout: 20 * time.Millisecond, Attempts: 2, Concurrency: 4}, fetcher, cache.NewPoolCache(time.Minute), metrics, nil)

	started := time.Now()
	snap, err := agg.Collect(context.Background(), refs("fast", "slow"))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Fatalf("collection blocked on slow pool: %s", elapsed)
	}

	if _, ok := snap.Adapters["fast"]; !ok {
		t.Fatalf("fast pool missing from snapshot")
	}
	if _, ok := snap.Adapters["slow"]; ok {
		t.Fatalf("slow pool should be excluded")
	}
	if len(snap.Excluded) != 1 {
		t.Fatalf("exclusions mismatch: %+v", snap.Excluded)
	}
	ex := snap.Excluded[0]
	if ex.PoolID != "slow" || ex.Code != ReasonTimeout || ex.Attempts != 2 {
		t.Fatalf("exclusion mismatch: %+v", ex)
	}
	if fetcher.callCount("slow") != 2 {
		t.Fatalf("expected two attempts, got %d", fetcher.callCount("slow"))
	}
	if metrics.excluded[ReasonTimeout] != 1 {
		t.Fatalf("metrics mismatch: %+v", metrics.excluded)
	}
	if !quotable(snap, "fast", tokenA.Address, tokenB.Address) || !quotable(snap, "fast", tokenB.Address, tokenA.Address) {
		t.Fatalf("expected both directions quotable: %+v", snap.Quotes)
	}
}

func TestCollectBacksOffBetweenAttempts(t *testing.T) {
	fetcher := &stubFetcher{
		pools:   map[string]model.Pool{"flaky": testPool("flaky")},
		failFor: map[string]int{"flaky": 2},
		calls:   map[string]int{},
	}
	agg := NewAggregator(Config{Timeout: time.Second, Attempts: 3, Backoff: 30 * time.Millisecond}, fetcher, nil, nil, nil)

	snap, err := agg.Collect(context.Background(), refs("flaky"))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if _, ok := snap.Adapters["flaky"]; !ok || len(snap.Excluded) != 0 {
		t.Fatalf("flaky pool should recover on the third attempt: %+v", snap.Excluded)
	}
	if len(fetcher.at) != 3 {
		t.Fatalf("expected three attempts, got %d", len(fetcher.at))
	}
	if gap := fetcher.at[1].Sub(fetcher.at[0]); gap < 30*time.Millisecond {
		t.Fatalf("first retry after %s, want at least 30ms", gap)
	}
	if gap := fetcher.at[2].Sub(fetcher.at[1]); gap < 60*time.Millisecond {
		t.Fatalf("second retry after %s, want the delay doubled", gap)
	}
}

func TestCollectExcludesZeroLiquidity(t *testing.T) {
	empty := testPool("empty")
	empty.Reserves = []*big.Int{big.NewInt(0), big.NewInt(0)}
	fetcher := &stubFetcher{
		pools: map[string]model.Pool{"empty": empty},
		calls: map[string]int{},
	}
	agg := NewAggregator(Config{Timeout: time.Second, Attempts: 2}, fetcher, nil, nil, nil)

	snap, err := agg.Collect(context.Background(), refs("empty"))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(snap.Excluded) != 1 || snap.Excluded[0].Code != ReasonUnavailable {
		t.Fatalf("exclusion mismatch: %+v", snap.Excluded)
	}
}

func TestCollectRefreshesCache(t *testing.T) {
	fetcher := &stubFetcher{
		pools: map[string]model.Pool{"p1": testPool("p1")},
		calls: map[string]int{},
	}
	poolCache := cache.NewPoolCache(time.Minute)
	agg := NewAggregator(Config{Timeout: time.Second, Attempts: 1}, fetcher, poolCache, nil, nil)

	if _, err := agg.Collect(context.Background(), refs("p1")); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if _, ok := poolCache.Get("p1"); !ok {
		t.Fatalf("cache not refreshed")
	}

	adapters, err := agg.Refresh(context.Background(), refs("p1"))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := adapters["p1"]; !ok {
		t.Fatalf("adapter missing")
	}
	if fetcher.callCount("p1") != 1 {
		t.Fatalf("refresh should use the fresh cache entry, calls=%d", fetcher.callCount("p1"))
	}
}

func TestCollectCancelled(t *testing.T) {
	fetcher := &stubFetcher{pools: map[string]model.Pool{}, calls: map[string]int{}}
	agg := NewAggregator(Config{Timeout: time.Second}, fetcher, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := agg.Collect(ctx, refs("p1")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
