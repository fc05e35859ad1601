package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"swaprouter/internal/model"
)

// JSONLSink appends audit records to a JSONL file.
type JSONLSink struct {
	path string
	mu   sync.Mutex
}

func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

func (s *JSONLSink) Record(_ context.Context, record model.AuditRecord) error {
	return s.write([]model.AuditRecord{Stamp(record)})
}

// RecordBatch appends several records under one open.
func (s *JSONLSink) RecordBatch(_ context.Context, records []model.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	stamped := make([]model.AuditRecord, len(records))
	for i, record := range records {
		stamped[i] = Stamp(record)
	}
	return s.write(stamped)
}

func (s *JSONLSink) write(records []model.AuditRecord) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush audit file: %w", err)
	}
	return nil
}
