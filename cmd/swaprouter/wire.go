package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"swaprouter/internal/aggregate"
	"swaprouter/internal/audit"
	"swaprouter/internal/audit/postgres"
	"swaprouter/internal/cache"
	"swaprouter/internal/chain"
	"swaprouter/internal/config"
	"swaprouter/internal/dex"
	"swaprouter/internal/engine"
	"swaprouter/internal/metrics"
	"swaprouter/internal/model"
	"swaprouter/internal/risk"
	"swaprouter/internal/slippage"
	"swaprouter/internal/submit"
)

type app struct {
	engine  *engine.Engine
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build connects every collaborator. execute selects the signing and
// submission side; without it the engine only quotes.
func build(ctx context.Context, cfg config.Config, logger *zap.Logger, execute bool) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	collectors := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := collectors.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	var (
		client  *chain.Client
		fetcher dex.StateFetcher
	)
	switch {
	case cfg.RPCURL != "":
		var err error
		client, err = chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("connect rpc: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		if err := dex.VerifyDecimals(ctx, client, dex.NewTokenMetaCache(), cfg.TokenDecimals, logger); err != nil {
			return nil, err
		}
		fetcher = dex.NewOnChainFetcher(client, logger)
	case len(cfg.StaticPools) > 0:
		fetcher = dex.NewStaticFetcher(cfg.StaticPools)
	default:
		return nil, &model.ConfigError{Field: "rpc", Reason: "required unless every pool carries static state"}
	}

	aggregator := aggregate.NewAggregator(aggregate.Config{
		Timeout:      cfg.QuoteTimeout,
		Attempts:     cfg.QuoteAttempts,
		Backoff:      cfg.QuoteBackoff,
		Concurrency:  cfg.QuoteConcurrency,
		RPS:          cfg.QuoteRPS,
		ProbeDivisor: cfg.ProbeDivisor,
	}, fetcher, cache.NewPoolCache(cfg.PoolTTL), collectors, logger)

	sinks := audit.Multi{audit.NewLogSink(logger)}
	if cfg.AuditOut != "" {
		sinks = append(sinks, audit.NewJSONLSink(cfg.AuditOut))
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure audit schema: %w", err)
		}
		sinks = append(sinks, store)
	}

	breakers := risk.NewBreakerStore(cfg.BreakerCooldown, cfg.GlobalRevertLimit, logger)
	var market slippage.MarketData
	if cfg.DynamicSlippage {
		market = slippage.NewHTTPMarketData(cfg.MarketDataURL, cfg.MarketDataTimeout)
	}

	deps := engine.Deps{
		Quoter:    aggregator,
		Validator: risk.NewValidator(engine.Thresholds(cfg), breakers, sinks, collectors, logger),
		Breakers:  breakers,
		Guard:     slippage.NewGuard(engine.SlippageConfig(cfg), market, logger),
		Sink:      sinks,
		Metrics:   collectors,
		Logger:    logger,
	}
	if client != nil {
		deps.Chain = client
	}
	if execute {
		selector, err := a.selector(ctx, cfg, client, logger)
		if err != nil {
			return nil, err
		}
		deps.Selector = selector
	}

	eng, err := engine.New(cfg, deps)
	if err != nil {
		return nil, err
	}
	a.engine = eng
	ok = true
	return a, nil
}

func (a *app) selector(ctx context.Context, cfg config.Config, client *chain.Client, logger *zap.Logger) (*submit.Selector, error) {
	if client == nil {
		return nil, &model.ConfigError{Field: "rpc", Reason: "required for execution"}
	}
	if cfg.SignerURL == "" {
		return nil, &model.ConfigError{Field: "signer-url", Reason: "required for execution"}
	}
	if cfg.From == (common.Address{}) {
		return nil, &model.ConfigError{Field: "from", Reason: "required for execution"}
	}

	signer, err := submit.NewRemoteSigner(cfg.SignerURL)
	if err != nil {
		return nil, err
	}

	var (
		relay submit.Relay
		sim   submit.Simulator
	)
	if cfg.MEVProtection {
		rc, err := submit.DialRelay(ctx, cfg.RelayURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		relay = rc

		if cfg.MEVSimulate {
			caller := submit.Caller(client)
			if cfg.ForkRPCURL != "" {
				fork, err := chain.NewClient(ctx, cfg.ForkRPCURL)
				if err != nil {
					return nil, fmt.Errorf("connect fork rpc: %w", err)
				}
				a.closers = append(a.closers, fork.Close)
				caller = fork
			}
			sim = submit.NewForkSimulator(caller)
		}
	}

	if _, err := client.ChainID(ctx); err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	return submit.NewSelector(submit.Config{
		MEVProtection: cfg.MEVProtection,
		Simulate:      cfg.MEVSimulate,
		Deviation:     cfg.SimulationDeviation,
		BlockWindow:   cfg.RelayBlockWindow,
	}, cfg.From, signer, client, relay, sim, logger), nil
}
