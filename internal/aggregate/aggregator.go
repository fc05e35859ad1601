package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"swaprouter/internal/cache"
	"swaprouter/internal/dex"
	"swaprouter/internal/model"
)

// Exclusion codes.
const (
	ReasonTimeout     = "timeout"
	ReasonFetchError  = "fetch_error"
	ReasonUnavailable = "quote_unavailable"
)

// Config controls quote collection.
type Config struct {
	Timeout  time.Duration
	Attempts int
	// Backoff is the delay before the second attempt. It doubles per
	// attempt and never exceeds Timeout.
	Backoff      time.Duration
	Concurrency  int
	RPS          float64
	ProbeDivisor int64
}

// Metrics receives collection observations. It may be nil.
type Metrics interface {
	PoolExcluded(reason string)
	FanoutDuration(d time.Duration)
}

// Aggregator collects pool state concurrently and turns it into adapters
// and probe quotes for one cycle.
type Aggregator struct {
	cfg     Config
	fetcher dex.StateFetcher
	cache   *cache.PoolCache
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	metrics Metrics
	logger  *zap.Logger
}

func NewAggregator(cfg Config, fetcher dex.StateFetcher, poolCache *cache.PoolCache, metrics Metrics, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 50 * time.Millisecond
	}
	if cfg.Backoff > cfg.Timeout {
		cfg.Backoff = cfg.Timeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.ProbeDivisor <= 0 {
		cfg.ProbeDivisor = dex.DefaultProbeDivisor
	}
	limit := rate.Inf
	burst := cfg.Concurrency
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	return &Aggregator{
		cfg:     cfg,
		fetcher: fetcher,
		cache:   poolCache,
		limiter: rate.NewLimiter(limit, burst),
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		metrics: metrics,
		logger:  logger,
	}
}

type fetchResult struct {
	ref      model.PoolRef
	pool     model.Pool
	err      error
	code     string
	attempts int
}

// Collect fetches every pool concurrently, each call bounded by the
// configured timeout, and returns what succeeded plus the exclusions.
// The only error returned is cancellation of ctx.
func (a *Aggregator) Collect(ctx context.Context, refs []model.PoolRef) (*Snapshot, error) {
	started := time.Now()
	if a.cache != nil {
		a.cache.Purge()
	}

	results := make([]fetchResult, len(refs))
	var wg sync.WaitGroup
	for i, ref := range refs {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(i int, ref model.PoolRef) {
			defer wg.Done()
			defer a.sem.Release(1)
			results[i] = a.fetchWithAttempts(ctx, ref)
		}(i, ref)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := newSnapshot(started)
	for _, res := range results {
		if res.err != nil {
			a.exclude(snap, Exclusion{PoolID: res.ref.ID, Code: res.code, Reason: res.err.Error(), Attempts: res.attempts})
			continue
		}
		if a.cache != nil {
			a.cache.Put(res.pool)
		}
		a.addPool(snap, res.pool, res.attempts)
	}
	snap.sortQuotes()

	if a.metrics != nil {
		a.metrics.FanoutDuration(time.Since(started))
	}
	fields := []zap.Field{
		zap.Int("pools", len(refs)),
		zap.Int("usable", len(snap.Adapters)),
		zap.Int("excluded", len(snap.Excluded)),
		zap.Duration("elapsed", time.Since(started)),
	}
	if a.cache != nil {
		fields = append(fields, zap.Int("cached", a.cache.Len()))
	}
	a.logger.Debug("quote collection done", fields...)
	return snap, nil
}

// Refresh returns adapters for the given pools, serving fresh cache entries
// and refetching expired ones.
func (a *Aggregator) Refresh(ctx context.Context, refs []model.PoolRef) (map[string]dex.Adapter, error) {
	adapters := make(map[string]dex.Adapter, len(refs))
	for _, ref := range refs {
		ref := ref
		fetch := func(ctx context.Context) (model.Pool, error) {
			res := a.fetchWithAttempts(ctx, ref)
			return res.pool, res.err
		}
		var (
			pool model.Pool
			err  error
		)
		if a.cache != nil {
			pool, err = a.cache.GetOrFetch(ctx, ref.ID, fetch)
		} else {
			pool, err = fetch(ctx)
		}
		if err != nil {
			return nil, err
		}
		adapter, err := dex.NewAdapter(pool, a.cfg.ProbeDivisor)
		if err != nil {
			return nil, err
		}
		adapters[ref.ID] = adapter
	}
	return adapters, nil
}

// Requote drops any cached state for refs and fetches it again.
func (a *Aggregator) Requote(ctx context.Context, refs []model.PoolRef) (map[string]dex.Adapter, error) {
	if a.cache != nil {
		for _, ref := range refs {
			a.cache.Invalidate(ref.ID)
		}
	}
	return a.Refresh(ctx, refs)
}

func (a *Aggregator) fetchWithAttempts(ctx context.Context, ref model.PoolRef) fetchResult {
	res := fetchResult{ref: ref}
	delay := a.cfg.Backoff
	for attempt := 1; attempt <= a.cfg.Attempts; attempt++ {
		res.attempts = attempt
		if attempt > 1 {
			if err := sleep(ctx, delay); err != nil {
				return res
			}
			delay *= 2
			if delay > a.cfg.Timeout {
				delay = a.cfg.Timeout
			}
		}
		if err := a.limiter.Wait(ctx); err != nil {
			res.err, res.code = err, ReasonFetchError
			return res
		}

		pool, err := a.fetchOnce(ctx, ref)
		if err == nil {
			res.pool, res.err, res.code = pool, nil, ""
			return res
		}
		res.err = err
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			res.code = ReasonTimeout
		case errors.Is(err, model.ErrQuoteUnavailable):
			res.code = ReasonUnavailable
		default:
			res.code = ReasonFetchError
		}
		if ctx.Err() != nil {
			return res
		}
		a.logger.Debug("pool fetch attempt failed",
			zap.String("pool", ref.ID),
			zap.Int("attempt", attempt),
			zap.String("reason", res.code),
			zap.Error(err),
		)
	}
	return res
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fetchOnce runs the fetch in its own goroutine so a fetcher that ignores
// its context cannot hold the cycle past the timeout.
func (a *Aggregator) fetchOnce(ctx context.Context, ref model.PoolRef) (model.Pool, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	type outcome struct {
		pool model.Pool
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		pool, err := a.fetcher.FetchPool(callCtx, ref)
		done <- outcome{pool: pool, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return model.Pool{}, out.err
		}
		return out.pool, nil
	case <-callCtx.Done():
		return model.Pool{}, fmt.Errorf("fetch pool %s: %w", ref.ID, callCtx.Err())
	}
}

func (a *Aggregator) addPool(snap *Snapshot, pool model.Pool, attempts int) {
	adapter, err := dex.NewAdapter(pool, a.cfg.ProbeDivisor)
	if err != nil {
		code := ReasonFetchError
		if errors.Is(err, model.ErrQuoteUnavailable) {
			code = ReasonUnavailable
		}
		a.exclude(snap, Exclusion{PoolID: pool.ID, Code: code, Reason: err.Error(), Attempts: attempts})
		return
	}

	var quotes []model.Quote
	for i, in := range pool.Tokens {
		for j, out := range pool.Tokens {
			if i == j {
				continue
			}
			quote, err := adapter.Quote(in.Address, out.Address, zeroAmount())
			if err != nil {
				a.logger.Warn("pool direction unavailable",
					zap.String("pool", pool.ID),
					zap.String("token_in", in.Address.Hex()),
					zap.String("token_out", out.Address.Hex()),
					zap.Error(err),
				)
				continue
			}
			quotes = append(quotes, quote)
		}
	}
	if len(quotes) == 0 {
		a.exclude(snap, Exclusion{PoolID: pool.ID, Code: ReasonUnavailable, Reason: "no quotable direction", Attempts: attempts})
		return
	}
	snap.Pools[pool.ID] = pool
	snap.Adapters[pool.ID] = adapter
	snap.Quotes = append(snap.Quotes, quotes...)
}

func (a *Aggregator) exclude(snap *Snapshot, ex Exclusion) {
	snap.Excluded = append(snap.Excluded, ex)
	if a.metrics != nil {
		a.metrics.PoolExcluded(ex.Code)
	}
	a.logger.Warn("pool excluded from cycle",
		zap.String("pool", ex.PoolID),
		zap.String("reason", ex.Code),
		zap.Int("attempts", ex.Attempts),
		zap.String("detail", ex.Reason),
	)
}

func (s *Snapshot) sortQuotes() {
	sort.Slice(s.Quotes, func(i, j int) bool {
		if s.Quotes[i].PoolID != s.Quotes[j].PoolID {
			return s.Quotes[i].PoolID < s.Quotes[j].PoolID
		}
		if s.Quotes[i].TokenIn != s.Quotes[j].TokenIn {
			return s.Quotes[i].TokenIn.Hex() < s.Quotes[j].TokenIn.Hex()
		}
		return s.Quotes[i].TokenOut.Hex() < s.Quotes[j].TokenOut.Hex()
	})
	sort.Slice(s.Excluded, func(i, j int) bool { return s.Excluded[i].PoolID < s.Excluded[j].PoolID })
}

func zeroAmount() *big.Int {
	return new(big.Int)
}
