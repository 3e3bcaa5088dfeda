package port

import (
	"context"
	"time"
)

// Stage is the point in the pipeline an audit entry was recorded at.
type Stage string

const (
	StageValidated   Stage = "validated"
	StageRejected    Stage = "rejected"
	StageRateLimited Stage = "rate_limited"
	StageExecuted    Stage = "executed"
	StageDBError     Stage = "db_error"
)

// AuditEntry represents a single auditable query event.
type AuditEntry struct {
	PrincipalID string    `json:"principal_id"`
	Timestamp   time.Time `json:"timestamp"`
	Stage       Stage     `json:"stage"`
	Operation   string    `json:"operation"`
	SQL         string    `json:"sql,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
	RowCount    int       `json:"row_count,omitempty"`
	ColumnCount int       `json:"column_count,omitempty"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
}

// QueryAuditor records query audit events. Record must not fail the request;
// implementations log their own write errors.
type QueryAuditor interface {
	Record(ctx context.Context, entry AuditEntry)
	Close() error
}

// AuditReader returns a principal's recent audit entries, newest first.
type AuditReader interface {
	Recent(ctx context.Context, principalID string, limit int) ([]AuditEntry, error)
}
