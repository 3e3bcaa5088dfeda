package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/port"
)

// fileEntry is the NDJSON-serializable form of an audit record.
type fileEntry struct {
	Timestamp   string   `json:"ts"`
	PrincipalID string   `json:"principal_id"`
	Stage       string   `json:"stage"`
	Operation   string   `json:"operation"`
	SQL         string   `json:"sql,omitempty"`
	Detail      string   `json:"detail,omitempty"`
	Errors      []string `json:"errors,omitempty"`
	RowCount    int      `json:"row_count"`
	ColumnCount int      `json:"column_count"`
	DurationMS  int64    `json:"duration_ms"`
}

func toFileEntry(e port.AuditEntry) fileEntry {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return fileEntry{
		Timestamp:   ts.UTC().Format(time.RFC3339Nano),
		PrincipalID: e.PrincipalID,
		Stage:       string(e.Stage),
		Operation:   e.Operation,
		SQL:         e.SQL,
		Detail:      e.Detail,
		Errors:      e.Errors,
		RowCount:    e.RowCount,
		ColumnCount: e.ColumnCount,
		DurationMS:  e.DurationMS,
	}
}

// FileAuditor writes audit entries as NDJSON (one JSON object per line) to a file.
type FileAuditor struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	logger *slog.Logger
}

// NewFileAuditor opens (or creates) the file at path for append-only writing.
func NewFileAuditor(path string, logger *slog.Logger) (*FileAuditor, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileAuditor{
		file:   f,
		enc:    json.NewEncoder(f),
		logger: logger,
	}, nil
}

func (a *FileAuditor) Record(ctx context.Context, entry port.AuditEntry) {
	fe := toFileEntry(entry)

	a.mu.Lock()
	err := a.enc.Encode(fe)
	a.mu.Unlock()

	if err != nil {
		a.logger.WarnContext(ctx, "audit write failed",
			slog.String("audit.sink", "file"),
			slog.String("error", err.Error()),
		)
	}
}

func (a *FileAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
