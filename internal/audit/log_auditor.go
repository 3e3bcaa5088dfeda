package audit

import (
	"context"
	"io"
	"log/slog"

	"github.com/guillermoBallester/querygate/internal/core/port"
)

// LogAuditor writes each entry as one JSON log line. It is the sink used
// when no file, stream or table is configured, so audit records are never
// silently dropped.
type LogAuditor struct {
	logger *slog.Logger
}

// NewLogAuditor writes to w with its own handler, independent of the
// application log level.
func NewLogAuditor(w io.Writer) *LogAuditor {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &LogAuditor{logger: slog.New(h).With(slog.String("audit.sink", "log"))}
}

func (a *LogAuditor) Record(ctx context.Context, entry port.AuditEntry) {
	fe := toFileEntry(entry)
	attrs := []slog.Attr{
		slog.String("ts", fe.Timestamp),
		slog.String("principal_id", fe.PrincipalID),
		slog.String("stage", fe.Stage),
		slog.String("operation", fe.Operation),
		slog.Int("row_count", fe.RowCount),
		slog.Int("column_count", fe.ColumnCount),
		slog.Int64("duration_ms", fe.DurationMS),
	}
	if fe.SQL != "" {
		attrs = append(attrs, slog.String("sql", fe.SQL))
	}
	if fe.Detail != "" {
		attrs = append(attrs, slog.String("detail", fe.Detail))
	}
	if len(fe.Errors) > 0 {
		attrs = append(attrs, slog.Any("errors", fe.Errors))
	}
	a.logger.LogAttrs(context.WithoutCancel(ctx), slog.LevelInfo, "audit", attrs...)
}

func (a *LogAuditor) Close() error { return nil }
