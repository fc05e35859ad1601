package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"swaprouter/internal/model"
)

func TestJSONLSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	sink := NewJSONLSink(path)

	first := model.AuditRecord{Kind: model.AuditBreakerTrip, Type: "price_impact", Status: "triggered", Key: "0xa/0xb"}
	if err := sink.Record(context.Background(), first); err != nil {
		t.Fatalf("record: %v", err)
	}
	second := model.AuditRecord{Kind: model.AuditExecution, Type: "swap", Status: "confirmed"}
	if err := sink.RecordBatch(context.Background(), []model.AuditRecord{second}); err != nil {
		t.Fatalf("record batch: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var got []model.AuditRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record model.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, record)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Type != "price_impact" || got[0].Status != "triggered" || got[0].Key != "0xa/0xb" {
		t.Fatalf("unexpected first record: %+v", got[0])
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Fatalf("expected stamped record, got %+v", got[0])
	}
	if got[1].Kind != model.AuditExecution {
		t.Fatalf("unexpected second record: %+v", got[1])
	}
}

type recordingSink struct {
	records []model.AuditRecord
	err     error
}

func (s *recordingSink) Record(_ context.Context, record model.AuditRecord) error {
	s.records = append(s.records, record)
	return s.err
}

func TestMultiStampsOnceAndJoinsErrors(t *testing.T) {
	failure := errors.New("disk full")
	a := &recordingSink{}
	b := &recordingSink{err: failure}

	err := Multi{a, b, Nop{}}.Record(context.Background(), model.AuditRecord{Kind: model.AuditRouteRejected})
	if !errors.Is(err, failure) {
		t.Fatalf("expected joined failure, got %v", err)
	}
	if len(a.records) != 1 || len(b.records) != 1 {
		t.Fatalf("expected one record per sink")
	}
	if a.records[0].ID == "" || a.records[0].ID != b.records[0].ID {
		t.Fatalf("expected same stamped id across sinks: %q %q", a.records[0].ID, b.records[0].ID)
	}
}

func TestRecordAllBatchesThroughMulti(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	plain := &recordingSink{}
	records := []model.AuditRecord{
		{Kind: model.AuditPoolExcluded, Type: "timeout", Status: "excluded", Key: "ab"},
		{Kind: model.AuditPoolExcluded, Type: "fetch_error", Status: "excluded", Key: "bc"},
	}

	if err := RecordAll(context.Background(), Multi{NewJSONLSink(path), plain}, records); err != nil {
		t.Fatalf("record all: %v", err)
	}
	if len(plain.records) != 2 {
		t.Fatalf("expected per-record fallback for plain sink, got %d", len(plain.records))
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record model.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		ids = append(ids, record.ID)
	}
	if len(ids) != 2 || ids[0] != plain.records[0].ID || ids[1] != plain.records[1].ID {
		t.Fatalf("expected shared stamped ids, got %v and %+v", ids, plain.records)
	}
	if err := RecordAll(context.Background(), plain, nil); err != nil || len(plain.records) != 2 {
		t.Fatalf("empty batch should be a no-op")
	}
}
