package slippage

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"swaprouter/internal/model"
	"swaprouter/internal/risk"
)

// Market classifications logged with dynamic tolerances.
const (
	ConditionVolatile = "volatile"
	ConditionIlliquid = "illiquid"
	ConditionStable   = "stable"
)

var volatileAbove = decimal.RequireFromString("0.5")

// Config controls how the tolerance is chosen.
type Config struct {
	Tolerance     decimal.Decimal
	Dynamic       bool
	MaxBps        int64
	Timeout       time.Duration
	TokenDecimals map[common.Address]uint8
}

// Guard derives minimum outputs for routes.
type Guard struct {
	market MarketData
	logger *zap.Logger

	mu  sync.RWMutex
	cfg Config
}

// NewGuard creates a guard. market may be nil when dynamic slippage is off.
func NewGuard(cfg Config, market MarketData, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{cfg: cfg, market: market, logger: logger}
}

// SetConfig swaps the tolerance settings.
func (g *Guard) SetConfig(cfg Config) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

func (g *Guard) config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// MinOutput returns floor(quoted * (1 - tolerance)) and the tolerance used.
func (g *Guard) MinOutput(ctx context.Context, route model.Route) (*big.Int, decimal.Decimal, error) {
	if route.AmountOut == nil || route.AmountOut.Sign() <= 0 {
		return nil, decimal.Zero, fmt.Errorf("route has no quoted output")
	}
	tolerance := g.Tolerance(ctx, route)
	return applyTolerance(route.AmountOut, tolerance), tolerance, nil
}

// Tolerance resolves the static or dynamic tolerance for a route. Market data
// failures fall back to the static tolerance.
func (g *Guard) Tolerance(ctx context.Context, route model.Route) decimal.Decimal {
	cfg := g.config()
	if !cfg.Dynamic || g.market == nil {
		return cfg.Tolerance
	}

	reqCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	conditions, err := g.market.Conditions(reqCtx, route.TokenIn(), route.TokenOut())
	if err != nil {
		g.logger.Warn("market data unavailable, using static slippage",
			zap.String("route", route.Describe()),
			zap.String("tolerance", cfg.Tolerance.String()),
			zap.Error(err),
		)
		return cfg.Tolerance
	}

	impact := risk.PriceImpact(route)
	if impact.IsNegative() {
		impact = decimal.Zero
	}
	tolerance := decimal.Max(cfg.Tolerance, DynamicTolerance(impact, conditions.Volatility))
	if cfg.MaxBps > 0 {
		tolerance = decimal.Min(tolerance, decimal.New(cfg.MaxBps, -4))
	}

	g.logger.Info("dynamic slippage",
		zap.String("route", route.Describe()),
		zap.String("condition", Classify(conditions, g.tradeSize(cfg, route))),
		zap.String("volatility", conditions.Volatility.String()),
		zap.String("price_impact", impact.StringFixed(6)),
		zap.String("tolerance", tolerance.String()),
	)
	return tolerance
}

func (g *Guard) tradeSize(cfg Config, route model.Route) decimal.Decimal {
	decimals, ok := cfg.TokenDecimals[route.TokenIn()]
	if !ok || route.AmountIn == nil {
		return decimal.Zero
	}
	return model.FromUnits(route.AmountIn, decimals)
}

// Recheck compares a fresh quote taken just before submission against the
// plan's minimum output.
func (g *Guard) Recheck(quoted, fresh, minOutput *big.Int) error {
	if fresh == nil || minOutput == nil {
		return fmt.Errorf("recheck: missing amount: %w", model.ErrSlippageViolation)
	}
	if fresh.Cmp(minOutput) < 0 {
		return fmt.Errorf("fresh quote %s below minimum %s (quoted %s): %w", fresh, minOutput, quoted, model.ErrSlippageViolation)
	}
	return nil
}

// DynamicTolerance scales the route impact by market volatility.
func DynamicTolerance(impact, volatility decimal.Decimal) decimal.Decimal {
	return impact.Mul(decimal.NewFromInt(1).Add(volatility))
}

// Classify labels the market for logging.
func Classify(c Conditions, tradeSize decimal.Decimal) string {
	if c.Volatility.GreaterThan(volatileAbove) {
		return ConditionVolatile
	}
	if c.Liquidity.IsPositive() && tradeSize.GreaterThan(c.Liquidity) {
		return ConditionIlliquid
	}
	return ConditionStable
}

func applyTolerance(quoted *big.Int, tolerance decimal.Decimal) *big.Int {
	keep := decimal.NewFromInt(1).Sub(tolerance)
	if keep.IsNegative() {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(quoted, 0).Mul(keep).Floor().BigInt()
}
