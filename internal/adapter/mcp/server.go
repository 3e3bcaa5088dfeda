package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// NewServer creates an MCPServer with tools and logging hooks.
func NewServer(version string, gateway Gateway, tables TableLister, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithHooks(ToolCallHooks(logger, tracer, inst)),
	)

	RegisterTools(s, gateway, tables)

	return s
}

// StdioPrincipal attributes every stdio call to one configured principal.
func StdioPrincipal(principalID string) server.StdioContextFunc {
	return func(ctx context.Context) context.Context {
		return domain.WithPrincipal(ctx, principalID)
	}
}

// HTTPPrincipal reads the principal from a header set by the front proxy.
func HTTPPrincipal(header string) server.HTTPContextFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		return domain.WithPrincipal(ctx, strings.TrimSpace(r.Header.Get(header)))
	}
}
