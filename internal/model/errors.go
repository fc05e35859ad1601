package model

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrQuoteUnavailable    = errors.New("quote unavailable")
	ErrNoRouteFound        = errors.New("no route found")
	ErrPriceImpactExceeded = errors.New("price impact exceeded")
	ErrSlippageViolation   = errors.New("slippage violation")
	ErrSubmissionFailure   = errors.New("submission failure")
	ErrRevert              = errors.New("execution reverted")
	ErrConfiguration       = errors.New("configuration error")
	ErrBreakerOpen         = errors.New("circuit breaker open")
	ErrPlanSuperseded      = errors.New("plan superseded")
)

// ConfigError reports an invalid or missing configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// RevertError carries the on-chain revert reason of a transaction.
type RevertError struct {
	TxHash common.Hash
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("execution reverted: tx %s", e.TxHash.Hex())
	}
	return fmt.Sprintf("execution reverted: tx %s: %s", e.TxHash.Hex(), e.Reason)
}

func (e *RevertError) Unwrap() error { return ErrRevert }

// ImpactError reports a price impact above its threshold.
type ImpactError struct {
	Impact    decimal.Decimal
	Threshold decimal.Decimal
	Source    string
}

func (e *ImpactError) Error() string {
	return fmt.Sprintf("price impact %s exceeds %s threshold %s",
		e.Impact.StringFixed(6), e.Source, e.Threshold.String())
}

func (e *ImpactError) Unwrap() error { return ErrPriceImpactExceeded }

// SubmissionError marks a transient delivery failure.
func SubmissionError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrSubmissionFailure, err)
}
