package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swaprouter/internal/model"
)

var one = decimal.NewFromInt(1)

// Validate checks process-wide values that would make trading unsafe. The
// first problem found is returned as a *model.ConfigError.
func (c Config) Validate() error {
	if c.MaxHops < 1 || c.MaxHops > 4 {
		return &model.ConfigError{Field: "max-hops", Reason: fmt.Sprintf("must be within [1,4], got %d", c.MaxHops)}
	}
	if len(c.Protocols) == 0 {
		return &model.ConfigError{Field: "protocols", Reason: "no protocol enabled"}
	}
	if err := validateThreshold("price-impact-threshold", c.PriceImpactThreshold); err != nil {
		return err
	}
	for key, threshold := range c.PairThresholds {
		if err := validateThreshold("pair-thresholds["+key+"]", threshold); err != nil {
			return err
		}
	}
	if c.SlippageTolerance.IsNegative() || c.SlippageTolerance.GreaterThanOrEqual(one) {
		return &model.ConfigError{Field: "slippage-tolerance", Reason: "must be within [0,1)"}
	}
	if c.DynamicSlippage && c.MarketDataURL == "" {
		return &model.ConfigError{Field: "market-data-url", Reason: "required when dynamic slippage is enabled"}
	}
	if c.MaxSlippageBps < 0 || c.MaxSlippageBps >= 10000 {
		return &model.ConfigError{Field: "max-slippage-bps", Reason: "must be within [0,10000)"}
	}
	if c.Batching && c.Multicall == (common.Address{}) {
		return &model.ConfigError{Field: "multicall", Reason: "required when batching is enabled"}
	}
	switch c.Reorder {
	case "", "none", "gas-desc", "size-asc":
	default:
		return &model.ConfigError{Field: "reorder", Reason: fmt.Sprintf("unknown strategy %q", c.Reorder)}
	}
	if c.MEVProtection && c.RelayURL == "" {
		return &model.ConfigError{Field: "relay-url", Reason: "required when mev protection is enabled"}
	}
	if c.RefundPercent < 0 || c.RefundPercent > 99 {
		return &model.ConfigError{Field: "refund-percent", Reason: "must be within [0,99]"}
	}
	if c.SimulationDeviation.IsNegative() || c.SimulationDeviation.GreaterThanOrEqual(one) {
		return &model.ConfigError{Field: "simulation-deviation", Reason: "must be within [0,1)"}
	}
	if c.QuoteAttempts < 1 {
		return &model.ConfigError{Field: "quote-attempts", Reason: "must be at least 1"}
	}
	if c.QuoteTimeout <= 0 {
		return &model.ConfigError{Field: "quote-timeout", Reason: "must be positive"}
	}
	if c.ProbeDivisor < 1 {
		return &model.ConfigError{Field: "probe-divisor", Reason: "must be at least 1"}
	}
	if c.PoolTTL <= 0 {
		return &model.ConfigError{Field: "pool-ttl", Reason: "must be positive"}
	}
	for _, pool := range c.Pools {
		for _, token := range pool.Tokens {
			if _, ok := c.TokenDecimals[token.Address]; !ok {
				return &model.ConfigError{Field: "token-decimals", Reason: "missing decimals for " + token.Address.Hex()}
			}
		}
	}
	return nil
}

// ValidatePair checks only what a single pair needs to trade. Pair problems
// stop that pair, never the process.
func (c Config) ValidatePair(pair model.Pair) error {
	if _, ok := c.TokenDecimals[pair.TokenIn]; !ok {
		return &model.ConfigError{Field: "token-decimals", Reason: "missing decimals for " + pair.TokenIn.Hex()}
	}
	if _, ok := c.TokenDecimals[pair.TokenOut]; !ok {
		return &model.ConfigError{Field: "token-decimals", Reason: "missing decimals for " + pair.TokenOut.Hex()}
	}
	threshold, source := c.Threshold(pair.Key())
	return validateThreshold(source+"-threshold", threshold)
}

func validateThreshold(field string, threshold decimal.Decimal) error {
	if !threshold.IsPositive() || threshold.GreaterThan(one) {
		return &model.ConfigError{Field: field, Reason: fmt.Sprintf("must be within (0,1], got %s", threshold.String())}
	}
	return nil
}
