package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/guillermoBallester/querygate/internal/core/port"
	"gorm.io/gorm"
)

// Record is one row of the audit_log table.
type Record struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	Timestamp   time.Time `gorm:"index;not null"`
	PrincipalID string    `gorm:"index;not null"`
	Stage       string    `gorm:"index;size:32;not null"`
	Operation   string    `gorm:"size:32;not null"`
	SQL         string    `gorm:"column:sql_text;type:text"`
	Detail      string    `gorm:"type:text"`
	Errors      string    `gorm:"type:text"`
	RowCount    int
	ColumnCount int
	DurationMS  int64
}

func (Record) TableName() string { return "audit_log" }

// DBAuditor stores audit entries through GORM.
type DBAuditor struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewDBAuditor migrates the audit table and returns a DBAuditor.
func NewDBAuditor(db *gorm.DB, logger *slog.Logger) (*DBAuditor, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating audit_log: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DBAuditor{db: db, logger: logger}, nil
}

func (a *DBAuditor) Record(ctx context.Context, entry port.AuditEntry) {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := Record{
		ID:          uuid.NewString(),
		Timestamp:   ts.UTC(),
		PrincipalID: entry.PrincipalID,
		Stage:       string(entry.Stage),
		Operation:   entry.Operation,
		SQL:         entry.SQL,
		Detail:      entry.Detail,
		Errors:      strings.Join(entry.Errors, "\n"),
		RowCount:    entry.RowCount,
		ColumnCount: entry.ColumnCount,
		DurationMS:  entry.DurationMS,
	}
	if err := a.db.WithContext(context.WithoutCancel(ctx)).Create(&rec).Error; err != nil {
		a.logger.WarnContext(ctx, "audit write failed",
			slog.String("audit.sink", "database"),
			slog.String("error", err.Error()),
		)
	}
}

// Recent returns the latest entries for a principal, newest first.
func (a *DBAuditor) Recent(ctx context.Context, principalID string, limit int) ([]port.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []Record
	err := a.db.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	out := make([]port.AuditEntry, len(recs))
	for i, rec := range recs {
		out[i] = rec.entry()
	}
	return out, nil
}

func (r Record) entry() port.AuditEntry {
	var errs []string
	if r.Errors != "" {
		errs = strings.Split(r.Errors, "\n")
	}
	return port.AuditEntry{
		PrincipalID: r.PrincipalID,
		Timestamp:   r.Timestamp,
		Stage:       port.Stage(r.Stage),
		Operation:   r.Operation,
		SQL:         r.SQL,
		Detail:      r.Detail,
		Errors:      errs,
		RowCount:    r.RowCount,
		ColumnCount: r.ColumnCount,
		DurationMS:  r.DurationMS,
	}
}

// Close is a no-op; the database handle is owned by the caller.
func (a *DBAuditor) Close() error { return nil }
