package audit

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swaprouter/internal/model"
)

// Sink receives audit records for breaker trips, rejected routes and
// finished executions.
type Sink interface {
	Record(ctx context.Context, record model.AuditRecord) error
}

// BatchSink is a Sink that can store several records in one write.
type BatchSink interface {
	Sink
	RecordBatch(ctx context.Context, records []model.AuditRecord) error
}

// RecordAll writes records to sink, as one batch when the sink supports it.
func RecordAll(ctx context.Context, sink Sink, records []model.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	if batch, ok := sink.(BatchSink); ok {
		return batch.RecordBatch(ctx, records)
	}
	var errs []error
	for _, record := range records {
		if err := sink.Record(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stamp fills in the record id and timestamp when missing.
func Stamp(record model.AuditRecord) model.AuditRecord {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	return record
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(context.Context, model.AuditRecord) error { return nil }

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, record model.AuditRecord) error {
	record = Stamp(record)
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordBatch stamps the records once and hands them to every sink.
func (m Multi) RecordBatch(ctx context.Context, records []model.AuditRecord) error {
	stamped := make([]model.AuditRecord, len(records))
	for i, record := range records {
		stamped[i] = Stamp(record)
	}
	var errs []error
	for _, sink := range m {
		if err := RecordAll(ctx, sink, stamped); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes records through zap.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, record model.AuditRecord) error {
	record = Stamp(record)
	fields := []zap.Field{
		zap.String("audit_id", record.ID),
		zap.Time("timestamp", record.Timestamp),
		zap.String("kind", string(record.Kind)),
		zap.String("type", record.Type),
		zap.String("status", record.Status),
	}
	if record.Key != "" {
		fields = append(fields, zap.String("key", record.Key))
	}
	if record.Condition != "" {
		fields = append(fields, zap.String("condition", record.Condition))
	}
	if record.Plan != nil {
		fields = append(fields,
			zap.String("plan_id", record.Plan.ID),
			zap.String("route", record.Plan.Route.Describe()),
			zap.String("quoted_output", bigString(record.Plan.Route.AmountOut)),
			zap.String("min_output", bigString(record.Plan.MinOutput)),
			zap.String("price_impact", record.Plan.PriceImpact.String()),
		)
	}
	if record.Outcome != nil {
		fields = append(fields,
			zap.String("outcome", string(record.Outcome.Status)),
			zap.String("tx_hash", record.Outcome.TxHash.Hex()),
		)
	}
	for k, v := range record.Details {
		fields = append(fields, zap.String(k, v))
	}

	switch record.Kind {
	case model.AuditBreakerTrip, model.AuditRouteRejected:
		s.logger.Warn("audit", fields...)
	default:
		s.logger.Info("audit", fields...)
	}
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
