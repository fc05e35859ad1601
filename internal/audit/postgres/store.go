package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"swaprouter/internal/audit"
	"swaprouter/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id          UUID PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL,
	kind        TEXT NOT NULL,
	type        TEXT NOT NULL,
	status      TEXT NOT NULL,
	key         TEXT NOT NULL DEFAULT '',
	condition   TEXT NOT NULL DEFAULT '',
	plan_id     TEXT NOT NULL DEFAULT '',
	tx_hash     TEXT NOT NULL DEFAULT '',
	payload     JSONB NOT NULL
)`

// Store persists audit records to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the audit table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) Record(ctx context.Context, record model.AuditRecord) error {
	return s.RecordBatch(ctx, []model.AuditRecord{record})
}

// RecordBatch inserts records in one round trip. Duplicate ids are ignored.
func (s *Store) RecordBatch(ctx context.Context, records []model.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, record := range records {
		record = audit.Stamp(record)
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		batch.Queue(`
			INSERT INTO audit_records (
				id, recorded_at, kind, type, status, key, condition, plan_id, tx_hash, payload
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`,
			record.ID,
			record.Timestamp,
			string(record.Kind),
			record.Type,
			record.Status,
			record.Key,
			record.Condition,
			planID(record),
			txHash(record),
			payload,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
	}
	return nil
}

func planID(record model.AuditRecord) string {
	if record.Plan != nil {
		return record.Plan.ID
	}
	if record.Outcome != nil {
		return record.Outcome.PlanID
	}
	return ""
}

func txHash(record model.AuditRecord) string {
	if record.Outcome == nil || record.Outcome.TxHash == (common.Hash{}) {
		return ""
	}
	return record.Outcome.TxHash.Hex()
}
