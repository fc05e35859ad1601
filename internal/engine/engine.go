package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"swaprouter/internal/aggregate"
	"swaprouter/internal/audit"
	"swaprouter/internal/config"
	"swaprouter/internal/dex"
	"swaprouter/internal/model"
	"swaprouter/internal/risk"
	"swaprouter/internal/route"
	"swaprouter/internal/slippage"
	"swaprouter/internal/submit"
)

// Quoter collects pool state for a cycle and re-reads it before submission.
type Quoter interface {
	Collect(ctx context.Context, refs []model.PoolRef) (*aggregate.Snapshot, error)
	Requote(ctx context.Context, refs []model.PoolRef) (map[string]dex.Adapter, error)
}

// Chain is the read side the engine needs for fees, receipts and revert
// reasons.
type Chain interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Metrics receives cycle observations.
type Metrics interface {
	CycleFinished(pair, state string)
	Outcome(status, channel string)
	BreakerTripped(kind string)
}

// Deps are the engine's collaborators.
type Deps struct {
	Quoter    Quoter
	Validator *risk.Validator
	Breakers  *risk.BreakerStore
	Guard     *slippage.Guard
	// Selector is nil in quote-only mode.
	Selector *submit.Selector
	// Chain is nil when no node is configured; gas is then priced at zero.
	Chain   Chain
	Sink    audit.Sink
	Metrics Metrics
	Logger  *zap.Logger
}

// Engine drives each trading opportunity through quoting, validation and
// submission.
type Engine struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cfg   config.Config
	pools map[string]model.PoolRef

	genMu       sync.Mutex
	generations map[string]uint64
}

func New(cfg config.Config, deps Deps) (*Engine, error) {
	if deps.Quoter == nil || deps.Validator == nil || deps.Breakers == nil || deps.Guard == nil {
		return nil, fmt.Errorf("engine: quoter, validator, breakers and guard are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Sink == nil {
		deps.Sink = audit.Nop{}
	}
	e := &Engine{
		deps:        deps,
		logger:      deps.Logger,
		now:         func() time.Time { return time.Now().UTC() },
		generations: make(map[string]uint64),
	}
	e.apply(cfg)
	return e, nil
}

func (e *Engine) apply(cfg config.Config) {
	pools := make(map[string]model.PoolRef, len(cfg.Pools))
	for _, ref := range cfg.EnabledPools() {
		pools[ref.ID] = ref
	}
	e.mu.Lock()
	e.cfg = cfg
	e.pools = pools
	e.mu.Unlock()
}

func (e *Engine) config() (config.Config, map[string]model.PoolRef) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, e.pools
}

// Reload swaps in a new configuration and resets every breaker.
func (e *Engine) Reload(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.apply(cfg)
	e.deps.Validator.SetThresholds(Thresholds(cfg))
	e.deps.Guard.SetConfig(SlippageConfig(cfg))
	e.deps.Breakers.Reset()
	e.logger.Info("configuration reloaded",
		zap.Int("pools", len(cfg.Pools)),
		zap.Int("pairs", len(cfg.Pairs)),
		zap.String("threshold", cfg.PriceImpactThreshold.String()),
	)
	return nil
}

// Run runs every pair concurrently until ctx ends and joins their errors. A
// pair that stops on bad configuration does not stop the others.
func (e *Engine) Run(ctx context.Context, pairs []model.Pair) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, pair := range pairs {
		wg.Add(1)
		go func(pair model.Pair) {
			defer wg.Done()
			if err := e.RunPair(ctx, pair); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("pair stopped", zap.String("pair", pair.String()), zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("pair %s: %w", pair, err))
				mu.Unlock()
			}
		}(pair)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// RunPair executes one cycle per interval for pair. A configuration error
// stops the pair; other failures are logged and the next cycle proceeds.
func (e *Engine) RunPair(ctx context.Context, pair model.Pair) error {
	cfg, _ := e.config()
	if err := cfg.ValidatePair(pair); err != nil {
		return err
	}
	interval := cfg.CycleInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cfg, _ = e.config()
		amountIn, err := model.ToUnits(cfg.AmountIn, cfg.TokenDecimals[pair.TokenIn])
		if err != nil {
			return &model.ConfigError{Field: "amount-in", Reason: err.Error()}
		}

		outcome, err := e.Execute(ctx, model.Request{Pair: pair, AmountIn: amountIn})
		switch {
		case errors.Is(err, model.ErrConfiguration):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			e.logger.Error("cycle failed",
				zap.String("pair", pair.String()),
				zap.String("cycle_id", outcome.CycleID),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) nextGeneration(pairKey string) uint64 {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	e.generations[pairKey]++
	return e.generations[pairKey]
}

func (e *Engine) currentGeneration(pairKey string) uint64 {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	return e.generations[pairKey]
}

// Thresholds converts configured thresholds for the risk validator.
func Thresholds(cfg config.Config) risk.Thresholds {
	return risk.Thresholds{Global: cfg.PriceImpactThreshold, Pairs: cfg.PairThresholds}
}

// SlippageConfig converts configured tolerance settings for the guard.
func SlippageConfig(cfg config.Config) slippage.Config {
	return slippage.Config{
		Tolerance:     cfg.SlippageTolerance,
		Dynamic:       cfg.DynamicSlippage,
		MaxBps:        int64(cfg.MaxSlippageBps),
		Timeout:       cfg.MarketDataTimeout,
		TokenDecimals: cfg.TokenDecimals,
	}
}

// GasModel is the route gas estimator for cfg without a gas price.
func GasModel(cfg config.Config) route.FixedGas {
	return route.FixedGas{Base: cfg.BaseGas, PerHop: cfg.GasPerHop, Rates: cfg.GasPriceRates}
}
