package mcp

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// toolOutcome classifies a finished tool call.
type toolOutcome string

const (
	outcomeOK      toolOutcome = "ok"
	outcomeRefused toolOutcome = "refused" // answered with an error result
	outcomeFailed  toolOutcome = "failed"  // no result was produced
)

// maxReasonLen bounds the refusal text copied into logs and spans.
const maxReasonLen = 256

type toolCall struct {
	tool      string
	principal string
	start     time.Time
	span      trace.Span
}

// callTracker pairs before and after hook invocations by request ID.
type callTracker struct {
	logger *slog.Logger
	tracer trace.Tracer
	inst   port.Instrumentation
	now    func() time.Time

	mu       sync.Mutex
	inflight map[any]*toolCall
}

func newCallTracker(logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *callTracker {
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	return &callTracker{
		logger:   logger,
		tracer:   tracer,
		inst:     inst,
		now:      time.Now,
		inflight: make(map[any]*toolCall),
	}
}

func (t *callTracker) begin(ctx context.Context, id any, tool string) {
	call := &toolCall{tool: tool, principal: domain.PrincipalFrom(ctx), start: t.now()}
	if t.tracer != nil {
		_, call.span = t.tracer.Start(ctx, "mcp.tool.call",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("mcp.tool", tool),
				attribute.String("enduser.id", call.principal),
			),
		)
	}
	t.mu.Lock()
	t.inflight[id] = call
	t.mu.Unlock()
}

func (t *callTracker) end(ctx context.Context, id any, tool string, outcome toolOutcome, reason string) {
	t.mu.Lock()
	call, ok := t.inflight[id]
	delete(t.inflight, id)
	t.mu.Unlock()
	if !ok {
		call = &toolCall{tool: tool, principal: domain.PrincipalFrom(ctx), start: t.now()}
	}
	duration := t.now().Sub(call.start)

	level := slog.LevelInfo
	switch outcome {
	case outcomeRefused:
		level = slog.LevelWarn
	case outcomeFailed:
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("rpc.method", "tools/call"),
		slog.String("mcp.tool", call.tool),
		slog.String("enduser.id", call.principal),
		slog.Duration("duration", duration),
		slog.String("querygate.outcome", string(outcome)),
	}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	t.logger.LogAttrs(ctx, level, "tool call", attrs...)
	t.inst.RecordToolDuration(ctx, float64(duration.Milliseconds()))

	if call.span != nil {
		call.span.SetAttributes(attribute.String("querygate.outcome", string(outcome)))
		if outcome != outcomeOK {
			call.span.SetStatus(codes.Error, reason)
		}
		call.span.End()
	}
}

// refusalReason flattens a tool error result's text onto one bounded line.
func refusalReason(r *mcp.CallToolResult) string {
	for _, c := range r.Content {
		tc, ok := c.(mcp.TextContent)
		if !ok {
			continue
		}
		text := strings.Join(strings.Fields(tc.Text), " ")
		if len(text) > maxReasonLen {
			text = text[:maxReasonLen]
		}
		return text
	}
	return ""
}

// ToolCallHooks logs every tool call with its principal and outcome, records
// its duration, and wraps it in a span when tracer is set.
func ToolCallHooks(logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.Hooks {
	calls := newCallTracker(logger, tracer, inst)
	hooks := &server.Hooks{}

	hooks.AddBeforeCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest) {
		calls.begin(ctx, id, req.Params.Name)
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, result any) {
		outcome, reason := outcomeOK, ""
		if r, ok := result.(*mcp.CallToolResult); ok && r.IsError {
			outcome, reason = outcomeRefused, refusalReason(r)
		}
		calls.end(ctx, id, req.Params.Name, outcome, reason)
	})

	hooks.AddOnError(func(ctx context.Context, id any, _ mcp.MCPMethod, message any, err error) {
		req, ok := message.(*mcp.CallToolRequest)
		if !ok {
			return
		}
		calls.end(ctx, id, req.Params.Name, outcomeFailed, err.Error())
	})

	return hooks
}
