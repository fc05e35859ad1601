package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"swaprouter/internal/model"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL     string
	ForkRPCURL string
	RelayURL   string
	SignerURL  string
	From       common.Address

	MaxHops   int
	Protocols []model.Protocol
	Pools     []model.PoolRef
	// StaticPools holds configured pool state used instead of on-chain reads.
	StaticPools map[string]model.Pool
	Pairs       []model.Pair
	AmountIn    decimal.Decimal

	PriceImpactThreshold decimal.Decimal
	PairThresholds       map[string]decimal.Decimal

	SlippageTolerance decimal.Decimal
	DynamicSlippage   bool
	MarketDataURL     string
	MarketDataTimeout time.Duration
	MaxSlippageBps    int
	Recheck           bool

	MEVProtection       bool
	MEVSimulate         bool
	SimulationDeviation decimal.Decimal
	RefundPercent       int
	RefundRecipient     common.Address
	RelayBlockWindow    uint64

	Batching  bool
	Multicall common.Address
	Reorder   string

	TokenDecimals map[common.Address]uint8

	QuoteTimeout     time.Duration
	QuoteAttempts    int
	QuoteBackoff     time.Duration
	QuoteConcurrency int
	QuoteRPS         float64
	PoolTTL          time.Duration
	ProbeDivisor     int64

	BreakerCooldown   time.Duration
	GlobalRevertLimit int

	BaseGas       uint64
	GasPerHop     uint64
	GasPriceRates map[common.Address]decimal.Decimal

	MaxRetries     int
	RetryBackoff   time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	CycleInterval  time.Duration
	Deadline       time.Duration

	AuditOut    string
	PGDSN       string
	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SWAPROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max-hops", 3)
	v.SetDefault("protocols", []string{
		string(model.ProtocolConstantProduct),
		string(model.ProtocolConcentrated),
		string(model.ProtocolStableSwap),
		string(model.ProtocolWeighted),
	})
	v.SetDefault("price-impact-threshold", "0.05")
	v.SetDefault("slippage-tolerance", "0.005")
	v.SetDefault("market-data-timeout", 2*time.Second)
	v.SetDefault("max-slippage-bps", 300)
	v.SetDefault("recheck", true)
	v.SetDefault("mev-simulate", true)
	v.SetDefault("simulation-deviation", "0.01")
	v.SetDefault("relay-block-window", uint64(25))
	v.SetDefault("reorder", "none")
	v.SetDefault("quote-timeout", 3*time.Second)
	v.SetDefault("quote-attempts", 2)
	v.SetDefault("quote-backoff", 100*time.Millisecond)
	v.SetDefault("quote-concurrency", 8)
	v.SetDefault("quote-rps", 20.0)
	v.SetDefault("pool-ttl", 10*time.Second)
	v.SetDefault("probe-divisor", int64(10000))
	v.SetDefault("breaker-cooldown", 5*time.Minute)
	v.SetDefault("global-revert-limit", 5)
	v.SetDefault("base-gas", uint64(21000))
	v.SetDefault("gas-per-hop", uint64(100000))
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("confirm-timeout", 2*time.Minute)
	v.SetDefault("poll-interval", 2*time.Second)
	v.SetDefault("cycle-interval", 15*time.Second)
	v.SetDefault("deadline", 5*time.Minute)
	v.SetDefault("log-level", "info")
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		ForkRPCURL:        v.GetString("fork-rpc"),
		RelayURL:          v.GetString("relay-url"),
		SignerURL:         v.GetString("signer-url"),
		MaxHops:           v.GetInt("max-hops"),
		DynamicSlippage:   v.GetBool("dynamic-slippage"),
		MarketDataURL:     v.GetString("market-data-url"),
		MarketDataTimeout: v.GetDuration("market-data-timeout"),
		MaxSlippageBps:    v.GetInt("max-slippage-bps"),
		Recheck:           v.GetBool("recheck"),
		MEVProtection:     v.GetBool("mev-protection"),
		MEVSimulate:       v.GetBool("mev-simulate"),
		RefundPercent:     v.GetInt("refund-percent"),
		RelayBlockWindow:  v.GetUint64("relay-block-window"),
		Batching:          v.GetBool("batching"),
		Reorder:           strings.ToLower(v.GetString("reorder")),
		QuoteTimeout:      v.GetDuration("quote-timeout"),
		QuoteAttempts:     v.GetInt("quote-attempts"),
		QuoteBackoff:      v.GetDuration("quote-backoff"),
		QuoteConcurrency:  v.GetInt("quote-concurrency"),
		QuoteRPS:          v.GetFloat64("quote-rps"),
		PoolTTL:           v.GetDuration("pool-ttl"),
		ProbeDivisor:      v.GetInt64("probe-divisor"),
		BreakerCooldown:   v.GetDuration("breaker-cooldown"),
		GlobalRevertLimit: v.GetInt("global-revert-limit"),
		BaseGas:           v.GetUint64("base-gas"),
		GasPerHop:         v.GetUint64("gas-per-hop"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		ConfirmTimeout:    v.GetDuration("confirm-timeout"),
		PollInterval:      v.GetDuration("poll-interval"),
		CycleInterval:     v.GetDuration("cycle-interval"),
		Deadline:          v.GetDuration("deadline"),
		AuditOut:          v.GetString("audit-out"),
		PGDSN:             v.GetString("pg-dsn"),
		MetricsAddr:       v.GetString("metrics-addr"),
		LogLevel:          v.GetString("log-level"),
	}

	var err error
	if cfg.From, err = getAddress(v, "from"); err != nil {
		return Config{}, err
	}
	if cfg.RefundRecipient, err = getAddress(v, "refund-recipient"); err != nil {
		return Config{}, err
	}
	if cfg.Multicall, err = getAddress(v, "multicall"); err != nil {
		return Config{}, err
	}
	for _, raw := range getStringSlice(v, "protocols") {
		protocol, err := model.ParseProtocol(raw)
		if err != nil {
			return Config{}, &model.ConfigError{Field: "protocols", Reason: err.Error()}
		}
		cfg.Protocols = append(cfg.Protocols, protocol)
	}
	if cfg.PriceImpactThreshold, err = getDecimal(v, "price-impact-threshold"); err != nil {
		return Config{}, err
	}
	if cfg.SlippageTolerance, err = getDecimal(v, "slippage-tolerance"); err != nil {
		return Config{}, err
	}
	if cfg.SimulationDeviation, err = getDecimal(v, "simulation-deviation"); err != nil {
		return Config{}, err
	}
	if cfg.AmountIn, err = getDecimal(v, "amount-in"); err != nil {
		return Config{}, err
	}
	if cfg.TokenDecimals, err = parseTokenDecimals(getStringMap(v, "token-decimals")); err != nil {
		return Config{}, err
	}
	if cfg.PairThresholds, err = parsePairThresholds(getStringMap(v, "pair-thresholds")); err != nil {
		return Config{}, err
	}
	if cfg.GasPriceRates, err = parseRates(getStringMap(v, "gas-price-rates")); err != nil {
		return Config{}, err
	}
	for _, raw := range getStringSlice(v, "pairs") {
		pair, err := model.ParsePair(raw)
		if err != nil {
			return Config{}, &model.ConfigError{Field: "pairs", Reason: err.Error()}
		}
		cfg.Pairs = append(cfg.Pairs, pair)
	}

	var pools []PoolConfig
	if v.IsSet("pools") {
		if err := v.UnmarshalKey("pools", &pools); err != nil {
			return Config{}, &model.ConfigError{Field: "pools", Reason: err.Error()}
		}
	}
	cfg.StaticPools = make(map[string]model.Pool)
	for i, raw := range pools {
		ref, err := raw.Ref(cfg.TokenDecimals)
		if err != nil {
			return Config{}, &model.ConfigError{Field: fmt.Sprintf("pools[%d]", i), Reason: err.Error()}
		}
		cfg.Pools = append(cfg.Pools, ref)
		if raw.HasState() {
			pool, err := raw.State(ref)
			if err != nil {
				return Config{}, &model.ConfigError{Field: fmt.Sprintf("pools[%d]", i), Reason: err.Error()}
			}
			cfg.StaticPools[ref.ID] = pool
		}
	}

	return cfg, nil
}

// Threshold resolves the price impact threshold for a pair key. A per-pair
// override takes precedence over the global value.
func (c Config) Threshold(pairKey string) (decimal.Decimal, string) {
	if override, ok := c.PairThresholds[pairKey]; ok {
		return override, "pair"
	}
	return c.PriceImpactThreshold, "global"
}

// Token returns the configured token for addr.
func (c Config) Token(addr common.Address) (model.Token, bool) {
	decimals, ok := c.TokenDecimals[addr]
	if !ok {
		return model.Token{}, false
	}
	return model.Token{Address: addr, Decimals: decimals}, true
}

// EnabledPools filters pools by the enabled protocol set.
func (c Config) EnabledPools() []model.PoolRef {
	enabled := make(map[model.Protocol]bool, len(c.Protocols))
	for _, protocol := range c.Protocols {
		enabled[protocol] = true
	}
	out := make([]model.PoolRef, 0, len(c.Pools))
	for _, pool := range c.Pools {
		if enabled[pool.Protocol] {
			out = append(out, pool)
		}
	}
	return out
}
