package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream audit events are appended to.
const DefaultStream = "querygate:audit"

// StreamAuditor appends audit entries to a Redis stream with XADD. The stream
// is trimmed approximately to maxLen entries when maxLen > 0.
type StreamAuditor struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewStreamAuditor(client redis.UniversalClient, stream string, maxLen int64, logger *slog.Logger) *StreamAuditor {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamAuditor{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

func (a *StreamAuditor) Record(ctx context.Context, entry port.AuditEntry) {
	args := &redis.XAddArgs{
		Stream: a.stream,
		Values: streamValues(entry),
	}
	if a.maxLen > 0 {
		args.MaxLen = a.maxLen
		args.Approx = true
	}
	// Audit writes outlive a canceled request.
	if _, err := a.client.XAdd(context.WithoutCancel(ctx), args).Result(); err != nil {
		a.logger.WarnContext(ctx, "audit write failed",
			slog.String("audit.sink", "redis_stream"),
			slog.String("stream", a.stream),
			slog.String("error", err.Error()),
		)
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (a *StreamAuditor) Close() error { return nil }

func streamValues(e port.AuditEntry) map[string]interface{} {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]interface{}{
		"ts":           ts.UTC().Format(time.RFC3339Nano),
		"principal_id": e.PrincipalID,
		"stage":        string(e.Stage),
		"operation":    e.Operation,
		"sql":          e.SQL,
		"detail":       e.Detail,
		"errors":       strings.Join(e.Errors, "\n"),
		"row_count":    e.RowCount,
		"column_count": e.ColumnCount,
		"duration_ms":  e.DurationMS,
	}
}
