package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"swaprouter/internal/config"
	"swaprouter/internal/model"
)

func main() {
	root := &cobra.Command{
		Use:          "swaprouter",
		Short:        "Multi-DEX swap router with risk controls",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate and execute configured pairs every cycle",
		RunE:  runRouter,
	}

	runCmd.Flags().String("rpc", "", "chain RPC URL")
	runCmd.Flags().String("fork-rpc", "", "fork RPC URL for pre-submission simulation")
	runCmd.Flags().String("signer-url", "", "external signer endpoint (clef)")
	runCmd.Flags().String("from", "", "sending account address")
	runCmd.Flags().String("relay-url", "", "private relay URL")
	runCmd.Flags().Bool("mev-protection", false, "submit through the private relay")
	runCmd.Flags().Bool("batching", false, "merge approvals and swaps into one multicall")
	runCmd.Flags().String("multicall", "", "multicall executor address")
	runCmd.Flags().StringSlice("pairs", nil, "pairs to trade (tokenIn:tokenOut, comma-separated)")
	runCmd.Flags().String("amount-in", "", "trade size in whole input tokens")
	runCmd.Flags().Duration("cycle-interval", 15*time.Second, "time between cycles per pair")
	runCmd.Flags().String("audit-out", "", "audit JSONL output path")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for audit records")
	runCmd.Flags().String("metrics-addr", "", "address for the Prometheus endpoint")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote and validate each pair once without submitting",
		RunE:  runQuote,
	}

	quoteCmd.Flags().String("rpc", "", "chain RPC URL (omit to use configured pool state)")
	quoteCmd.Flags().StringSlice("pairs", nil, "pairs to quote (tokenIn:tokenOut, comma-separated)")
	quoteCmd.Flags().String("amount-in", "", "trade size in whole input tokens")
	quoteCmd.Flags().String("audit-out", "", "audit JSONL output path")
	quoteCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(quoteCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRouter(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Pairs) == 0 {
		return fmt.Errorf("at least one pair is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	go watchReload(ctx, cfgFile, cmd, a, logger)

	logger.Info("router start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("from", cfg.From.Hex()),
		zap.Int("pairs", len(cfg.Pairs)),
		zap.Int("pools", len(cfg.Pools)),
		zap.Int("max_hops", cfg.MaxHops),
		zap.Bool("mev_protection", cfg.MEVProtection),
		zap.Bool("batching", cfg.Batching),
		zap.String("audit_out", cfg.AuditOut),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	return a.engine.Run(ctx, cfg.Pairs)
}

// watchReload reloads the config file on SIGHUP. A rejected config leaves
// the running one in place.
func watchReload(ctx context.Context, cfgFile string, cmd *cobra.Command, a *app, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err == nil {
			err = a.engine.Reload(cfg)
		}
		if err != nil {
			logger.Error("config reload rejected", zap.Error(err))
		}
	}
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, pair := range cfg.Pairs {
		amountIn, err := model.ToUnits(cfg.AmountIn, cfg.TokenDecimals[pair.TokenIn])
		if err != nil {
			return &model.ConfigError{Field: "amount-in", Reason: err.Error()}
		}
		plan, outcome, err := a.engine.Quote(ctx, model.Request{Pair: pair, AmountIn: amountIn})
		if err != nil {
			return fmt.Errorf("quote %s: %w", pair, err)
		}
		result := quoteResult{Outcome: outcome}
		if plan != nil {
			result.Plan = plan.View()
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return nil
}

type quoteResult struct {
	Plan    *model.PlanView          `json:"plan,omitempty"`
	Outcome model.TransactionOutcome `json:"outcome"`
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
