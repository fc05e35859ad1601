package risk

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"swaprouter/internal/audit"
	"swaprouter/internal/model"
)

// Metrics receives breaker trip counts.
type Metrics interface {
	BreakerTripped(kind string)
}

// Validator gates routes on price impact and owns breaker trips for them.
type Validator struct {
	breakers *BreakerStore
	sink     audit.Sink
	metrics  Metrics
	logger   *zap.Logger

	mu         sync.RWMutex
	thresholds Thresholds
}

func NewValidator(thresholds Thresholds, breakers *BreakerStore, sink audit.Sink, metrics Metrics, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Validator{
		breakers:   breakers,
		sink:       sink,
		metrics:    metrics,
		logger:     logger,
		thresholds: thresholds,
	}
}

// SetThresholds swaps the thresholds used by later validations.
func (v *Validator) SetThresholds(thresholds Thresholds) {
	v.mu.Lock()
	v.thresholds = thresholds
	v.mu.Unlock()
}

// Threshold resolves the limit for a pair key.
func (v *Validator) Threshold(pairKey string) (decimal.Decimal, string) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.thresholds.Resolve(pairKey)
}

// Check fast-rejects a pair whose breaker, or the global breaker, is open.
func (v *Validator) Check(pair model.Pair) error {
	return v.breakers.Allow(pair.Key())
}

// Validate computes the plan's route impact and rejects it when the impact
// exceeds the resolved threshold. A rejection trips the pair breaker and
// writes an audit record carrying the full plan.
func (v *Validator) Validate(ctx context.Context, plan *model.ExecutionPlan) (decimal.Decimal, error) {
	pairKey := plan.Pair().Key()
	impact := PriceImpact(plan.Route())
	threshold, source := v.Threshold(pairKey)

	if impact.LessThanOrEqual(threshold) {
		return impact, nil
	}

	condition := fmt.Sprintf("impact %s > %s threshold %s", impact.StringFixed(6), source, threshold.String())
	entry := v.breakers.Trip(pairKey, TypePriceImpact, condition)
	if v.metrics != nil {
		v.metrics.BreakerTripped(TypePriceImpact)
	}

	record := model.AuditRecord{
		Kind:      model.AuditBreakerTrip,
		Type:      TypePriceImpact,
		Status:    "triggered",
		Key:       pairKey,
		Condition: condition,
		Plan:      plan.View(),
		Details: map[string]string{
			"threshold_source": source,
			"cooldown":         entry.Cooldown.String(),
		},
	}
	if err := v.sink.Record(ctx, record); err != nil {
		v.logger.Error("audit record failed", zap.String("key", pairKey), zap.Error(err))
	}

	return impact, &model.ImpactError{Impact: impact, Threshold: threshold, Source: source}
}
