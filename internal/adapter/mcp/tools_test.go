package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guillermoBallester/querygate/internal/adapter/memstore"
	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/guillermoBallester/querygate/internal/core/service"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock Gateway ---

type mockGateway struct {
	result  *service.ExecutionResult
	outcome domain.ValidationOutcome
	state   domain.RateLimitState
	err     error

	lastReq domain.QueryRequest
	lastMat domain.MaterializeRequest
}

func (m *mockGateway) Preview(_ context.Context, req domain.QueryRequest) (*service.ExecutionResult, error) {
	m.lastReq = req
	return m.result, m.err
}

func (m *mockGateway) Materialize(_ context.Context, req domain.MaterializeRequest) (*service.ExecutionResult, error) {
	m.lastMat = req
	return m.result, m.err
}

func (m *mockGateway) Validate(_ context.Context, req domain.QueryRequest) (domain.ValidationOutcome, error) {
	m.lastReq = req
	return m.outcome, m.err
}

func (m *mockGateway) Quota(_ context.Context, p string) (domain.RateLimitState, error) {
	m.lastReq = domain.QueryRequest{PrincipalID: p}
	return m.state, m.err
}

// --- mock TableLister ---

type mockTables struct {
	tables []port.TableInfo
	err    error
}

func (m *mockTables) ListTables(_ context.Context) ([]port.TableInfo, error) {
	return m.tables, m.err
}

// --- helpers ---

var sessionSeq atomic.Int64

// newSession registers and initializes an in-process session whose calls
// carry principal.
func newSession(t *testing.T, s *server.MCPServer, principal string) context.Context {
	t.Helper()
	ctx := domain.WithPrincipal(context.Background(), principal)
	session := server.NewInProcessSession(fmt.Sprintf("test-%d", sessionSeq.Add(1)), nil)
	require.NoError(t, s.RegisterSession(ctx, session))
	sessionCtx := s.WithContext(ctx, session)

	initBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "init", "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test", "version": "1.0"},
		},
	})
	s.HandleMessage(sessionCtx, initBytes)
	return sessionCtx
}

func callTool(t *testing.T, s *server.MCPServer, principal, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	sessionCtx := newSession(t, s, principal)

	reqBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "call-1", "method": "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": args,
		},
	})
	resp := s.HandleMessage(sessionCtx, reqBytes)
	respBytes, _ := json.Marshal(resp)

	var rpc struct {
		Result *mcp.CallToolResult       `json:"result"`
		Error  *struct{ Message string } `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpc))
	require.Nil(t, rpc.Error, "unexpected RPC error: %v", rpc.Error)
	require.NotNil(t, rpc.Result)
	return rpc.Result
}

func listToolNames(t *testing.T, s *server.MCPServer) []string {
	t.Helper()
	sessionCtx := newSession(t, s, "lister")

	reqBytes, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": "list-1", "method": "tools/list"})
	respBytes, _ := json.Marshal(s.HandleMessage(sessionCtx, reqBytes))

	var rpc struct {
		Result mcp.ListToolsResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpc))
	names := make([]string, 0, len(rpc.Result.Tools))
	for _, tool := range rpc.Result.Tools {
		names = append(names, tool.Name)
	}
	return names
}

func toolText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return ""
	}
	return tc.Text
}

func setupServer(gw *mockGateway, tables *mockTables) *server.MCPServer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var lister TableLister
	if tables != nil {
		lister = tables
	}
	return NewServer("0.1.0", gw, lister, logger, nil, nil)
}

// --- tests ---

func TestListTables_HappyPath(t *testing.T) {
	tables := &mockTables{tables: []port.TableInfo{{Schema: "public", Name: "posts", RowEstimate: 100, ColumnCount: 4}}}
	s := setupServer(&mockGateway{}, tables)

	result := callTool(t, s, "alice", "list_tables", nil)
	require.False(t, result.IsError, toolText(result))

	var got []port.TableInfo
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "posts", got[0].Name)
}

func TestListTables_NoPrincipal(t *testing.T) {
	s := setupServer(&mockGateway{}, &mockTables{})

	result := callTool(t, s, "", "list_tables", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "access denied")
}

func TestListTables_ErrorIsSanitized(t *testing.T) {
	s := setupServer(&mockGateway{}, &mockTables{err: errors.New("dial tcp 10.0.0.3:5432: refused")})

	result := callTool(t, s, "alice", "list_tables", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), "internal error")
	assert.NotContains(t, toolText(result), "10.0.0.3")
}

func TestListTables_NotRegisteredWithoutLister(t *testing.T) {
	s := setupServer(&mockGateway{}, nil)
	names := listToolNames(t, s)
	assert.NotContains(t, names, "list_tables")
	assert.ElementsMatch(t, []string{"preview_query", "materialize_query", "validate_query", "get_quota"}, names)
}

func TestPreview_HappyPath(t *testing.T) {
	gw := &mockGateway{result: &service.ExecutionResult{
		TabularResult:      domain.NewTabularResult([]string{"id", "title"}, [][]any{{1, "hello"}}),
		RateLimitRemaining: 4,
	}}
	s := setupServer(gw, nil)

	result := callTool(t, s, "alice", "preview_query", map[string]any{"sql": "SELECT id, title FROM posts LIMIT 1"})
	require.False(t, result.IsError, toolText(result))

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &body))
	assert.Equal(t, []any{"id", "title"}, body["headers"])
	assert.Equal(t, float64(4), body["rate_limit_remaining"])

	assert.Equal(t, "alice", gw.lastReq.PrincipalID)
	assert.Equal(t, "SELECT id, title FROM posts LIMIT 1", gw.lastReq.RawText)
}

// auditLog collects entries from a real QueryService.
type auditLog struct {
	mu      sync.Mutex
	entries []port.AuditEntry
}

func (a *auditLog) Record(_ context.Context, e port.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *auditLog) Close() error { return nil }

func newAuditedServer(t *testing.T) (*server.MCPServer, *auditLog) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := &auditLog{}
	svc := service.NewQueryService(
		domain.NewRuleValidator(),
		service.NewRateLimiter(memstore.NewCounterStore(), 10, time.Minute),
		service.NewExecutor(nil, time.Second),
		log,
		logger,
		service.Policy{Whitelist: domain.NewTableWhitelist("", "posts"), Budget: domain.DefaultBudget()},
		service.Options{},
	)
	svc.SetResultStore(memstore.NewResultStore())
	return NewServer("0.1.0", svc, nil, logger, nil, nil), log
}

func TestMissingSQL_ReachesGateway(t *testing.T) {
	for _, tool := range []string{"preview_query", "materialize_query"} {
		t.Run(tool, func(t *testing.T) {
			gw := &mockGateway{err: &domain.ValidationError{Errors: []string{domain.ErrEmptyQuery.Error()}}}
			s := setupServer(gw, nil)

			result := callTool(t, s, "alice", tool, map[string]any{"title": "t"})
			assert.True(t, result.IsError)
			assert.Contains(t, toolText(result), domain.ErrEmptyQuery.Error())
			if tool == "preview_query" {
				assert.Equal(t, "alice", gw.lastReq.PrincipalID)
			} else {
				assert.Equal(t, "alice", gw.lastMat.PrincipalID)
			}
		})
	}
}

func TestMissingSQL_IsAudited(t *testing.T) {
	for _, tool := range []string{"preview_query", "materialize_query"} {
		t.Run(tool, func(t *testing.T) {
			s, log := newAuditedServer(t)

			result := callTool(t, s, "alice", tool, map[string]any{"title": "t"})
			assert.True(t, result.IsError)

			log.mu.Lock()
			defer log.mu.Unlock()
			require.Len(t, log.entries, 1)
			assert.Equal(t, port.StageRejected, log.entries[0].Stage)
			assert.Equal(t, "alice", log.entries[0].PrincipalID)
			assert.Contains(t, log.entries[0].Errors, domain.ErrEmptyQuery.Error())
		})
	}
}

func TestPreview_ValidationErrorListsEveryViolation(t *testing.T) {
	gw := &mockGateway{err: &domain.ValidationError{Errors: []string{
		"only SELECT statements are allowed",
		"forbidden keyword: DROP",
	}}}
	s := setupServer(gw, nil)

	result := callTool(t, s, "alice", "preview_query", map[string]any{"sql": "DROP TABLE posts"})
	assert.True(t, result.IsError)
	text := toolText(result)
	assert.Contains(t, text, "- only SELECT statements are allowed")
	assert.Contains(t, text, "- forbidden keyword: DROP")
}

func TestMaterialize_PassesArguments(t *testing.T) {
	gw := &mockGateway{result: &service.ExecutionResult{
		TabularResult: domain.NewTabularResult([]string{"n"}, [][]any{{1}}),
		ID:            "r-1",
	}}
	s := setupServer(gw, nil)

	result := callTool(t, s, "alice", "materialize_query", map[string]any{
		"sql":         "SELECT n FROM posts LIMIT 1",
		"title":       "Counts",
		"description": "weekly",
	})
	require.False(t, result.IsError, toolText(result))
	assert.Contains(t, toolText(result), `"id":"r-1"`)
	assert.Equal(t, "Counts", gw.lastMat.Title)
	assert.Equal(t, "weekly", gw.lastMat.Description)
	assert.Equal(t, "alice", gw.lastMat.PrincipalID)
}

func TestValidate_ReturnsOutcome(t *testing.T) {
	gw := &mockGateway{outcome: domain.ValidationOutcome{Valid: false, Errors: []string{"table not allowed: secrets"}}}
	s := setupServer(gw, nil)

	result := callTool(t, s, "alice", "validate_query", map[string]any{"sql": "SELECT * FROM secrets"})
	require.False(t, result.IsError, toolText(result))

	var outcome domain.ValidationOutcome
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &outcome))
	assert.False(t, outcome.Valid)
	assert.Equal(t, []string{"table not allowed: secrets"}, outcome.Errors)
}

func TestQuota_ReportsWindow(t *testing.T) {
	gw := &mockGateway{state: domain.RateLimitState{
		PrincipalID:  "alice",
		Count:        2,
		MaxRequests:  10,
		WindowStart:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		WindowLength: time.Minute,
	}}
	s := setupServer(gw, nil)

	result := callTool(t, s, "alice", "get_quota", nil)
	require.False(t, result.IsError, toolText(result))

	var q quotaResult
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &q))
	assert.Equal(t, 8, q.Remaining)
	assert.Equal(t, 2, q.Used)
	assert.Equal(t, "alice", gw.lastReq.PrincipalID)
}

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", &domain.AuthError{PrincipalID: "eve"}, `access denied for principal "eve"`},
		{"rate limit", &domain.RateLimitError{Limit: 10, Window: time.Minute, RetryAfter: 30 * time.Second}, "rate limit exceeded: 10 requests per 1m0s, retry in 30s"},
		{"empty", domain.ErrEmptyResult, "query returned no rows"},
		{"oversize", &domain.OversizeResultError{Dimension: "columns", Limit: 100}, "result exceeds 100 columns"},
		{"datastore", &domain.DataStoreError{Message: "query timed out", Timeout: true, Cause: &pgconn.PgError{Code: "57014"}}, "query timed out"},
		{"deadline", context.DeadlineExceeded, "query timed out"},
		{"raw pg error", &pgconn.PgError{Code: "42P01", Message: `relation "secrets" does not exist`}, "internal error (check server logs)"},
		{"contention", domain.ErrCounterContention, "rate limiter busy, try again"},
		{"unknown", errors.New("boom"), "internal error (check server logs)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeError(tt.err))
		})
	}
}
