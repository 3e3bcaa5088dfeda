package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/guillermoBallester/querygate/internal/adapter/memstore"
	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- mock QueryAuditor ---

type recordingAuditor struct {
	mu      sync.Mutex
	entries []port.AuditEntry
}

func (a *recordingAuditor) Record(_ context.Context, e port.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *recordingAuditor) Close() error { return nil }

func (a *recordingAuditor) stages() []port.Stage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]port.Stage, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Stage
	}
	return out
}

func (a *recordingAuditor) last() port.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}

// --- mock AccessChecker ---

type denyList map[string]bool

func (d denyList) CheckAccess(_ context.Context, principalID string) error {
	if d[principalID] {
		return &domain.AuthError{PrincipalID: principalID}
	}
	return nil
}

type fixture struct {
	svc     *QueryService
	store   *mockStore
	auditor *recordingAuditor
	results *memstore.ResultStore
}

func newFixture(t *testing.T, maxRequests int, opts Options) *fixture {
	t.Helper()
	store := &mockStore{rows: &domain.RawRows{
		Columns: []string{"id", "email"},
		Rows:    [][]any{{1, "alice@example.com"}, {2, "bob@example.com"}},
	}}
	auditor := &recordingAuditor{}
	results := memstore.NewResultStore()

	svc := NewQueryService(
		domain.NewRuleValidator(),
		NewRateLimiter(memstore.NewCounterStore(), maxRequests, time.Minute),
		NewExecutor(store, time.Second),
		auditor,
		testLogger(),
		Policy{Whitelist: testWhitelist(), Budget: domain.DefaultBudget()},
		opts,
	)
	svc.SetResultStore(results)
	return &fixture{svc: svc, store: store, auditor: auditor, results: results}
}

func req(principal, sql string) domain.QueryRequest {
	return domain.QueryRequest{PrincipalID: principal, RawText: sql, SubmittedAt: time.Now()}
}

func TestQueryService_PreviewSuccess(t *testing.T) {
	f := newFixture(t, 10, Options{})

	res, err := f.svc.Preview(context.Background(), req("alice", "SELECT id, email FROM users"))
	require.NoError(t, err)

	assert.Equal(t, "SELECT id, email FROM users LIMIT 5", f.store.lastSQL)
	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, 9, res.RateLimitRemaining)

	entry := f.auditor.last()
	assert.Equal(t, port.StageExecuted, entry.Stage)
	assert.Equal(t, "alice", entry.PrincipalID)
	assert.Equal(t, OpPreview, entry.Operation)
	assert.Equal(t, 2, entry.RowCount)
	assert.Equal(t, 2, entry.ColumnCount)
}

func TestQueryService_ValidationRejectedBeforeQuota(t *testing.T) {
	f := newFixture(t, 1, Options{})
	ctx := context.Background()

	_, err := f.svc.Preview(ctx, req("alice", "DROP TABLE posts"))
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Errors, "forbidden keyword: DROP")
	assert.False(t, f.store.called, "data store must not be touched")

	entry := f.auditor.last()
	assert.Equal(t, port.StageRejected, entry.Stage)
	assert.Equal(t, vErr.Errors, entry.Errors)

	// Rejections do not consume quota by default.
	_, err = f.svc.Preview(ctx, req("alice", "SELECT id FROM posts"))
	assert.NoError(t, err)
}

func TestQueryService_CountRejected(t *testing.T) {
	f := newFixture(t, 1, Options{CountRejected: true})
	ctx := context.Background()

	_, err := f.svc.Preview(ctx, req("alice", "DROP TABLE posts"))
	require.Error(t, err)

	_, err = f.svc.Preview(ctx, req("alice", "SELECT id FROM posts"))
	var rlErr *domain.RateLimitError
	assert.ErrorAs(t, err, &rlErr)
}

func TestQueryService_RateLimited(t *testing.T) {
	f := newFixture(t, 10, Options{})
	ctx := context.Background()

	for range 10 {
		_, err := f.svc.Preview(ctx, req("alice", "SELECT id FROM posts"))
		require.NoError(t, err)
	}
	_, err := f.svc.Preview(ctx, req("alice", "SELECT id FROM posts"))

	var rlErr *domain.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, port.StageRateLimited, f.auditor.last().Stage)

	_, err = f.svc.Preview(ctx, req("bob", "SELECT id FROM posts"))
	assert.NoError(t, err)
}

func TestQueryService_EmptyResultAuditedAsExecuted(t *testing.T) {
	f := newFixture(t, 10, Options{})
	f.store.rows = &domain.RawRows{Columns: []string{"id"}}

	_, err := f.svc.Preview(context.Background(), req("alice", "SELECT id FROM posts WHERE id = 0"))
	require.ErrorIs(t, err, domain.ErrEmptyResult)

	entry := f.auditor.last()
	assert.Equal(t, port.StageExecuted, entry.Stage)
	assert.Equal(t, domain.ErrEmptyResult.Error(), entry.Detail)
}

func TestQueryService_DataStoreErrorAudited(t *testing.T) {
	f := newFixture(t, 10, Options{})
	f.store.err = errors.New("connection reset by peer")

	_, err := f.svc.Preview(context.Background(), req("alice", "SELECT id FROM posts"))
	var dsErr *domain.DataStoreError
	require.ErrorAs(t, err, &dsErr)

	entry := f.auditor.last()
	assert.Equal(t, port.StageDBError, entry.Stage)
	assert.Equal(t, "query failed", entry.Detail)
}

func TestQueryService_AccessDenied(t *testing.T) {
	f := newFixture(t, 10, Options{})
	f.svc.SetAccessChecker(denyList{"mallory": true})

	_, err := f.svc.Preview(context.Background(), req("mallory", "SELECT id FROM posts"))
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, f.store.called)
	assert.Equal(t, port.StageRejected, f.auditor.last().Stage)

	_, err = f.svc.Preview(context.Background(), req("", "SELECT id FROM posts"))
	assert.ErrorAs(t, err, &authErr)
}

func TestQueryService_ExactlyOneAuditEntryPerRequest(t *testing.T) {
	f := newFixture(t, 1, Options{})
	ctx := context.Background()

	_, _ = f.svc.Preview(ctx, req("alice", ""))
	_, _ = f.svc.Preview(ctx, req("alice", "SELECT * FROM secret LIMIT 1"))
	_, _ = f.svc.Preview(ctx, req("alice", "SELECT id FROM posts"))
	_, _ = f.svc.Preview(ctx, req("alice", "SELECT id FROM posts"))

	assert.Equal(t, []port.Stage{
		port.StageRejected,
		port.StageRejected,
		port.StageExecuted,
		port.StageRateLimited,
	}, f.auditor.stages())
}

func TestQueryService_MasksColumns(t *testing.T) {
	f := newFixture(t, 10, Options{})
	pol := f.svc.Policy()
	pol.Masks = map[string]domain.MaskType{"email": domain.MaskRedact}
	f.svc.UpdatePolicy(pol)

	res, err := f.svc.Preview(context.Background(), req("alice", "SELECT id, email FROM users"))
	require.NoError(t, err)
	assert.Equal(t, []any{1, "***"}, res.Rows[0])
}

func TestQueryService_UpdatePolicyChangesWhitelist(t *testing.T) {
	f := newFixture(t, 10, Options{})
	ctx := context.Background()

	_, err := f.svc.Preview(ctx, req("alice", "SELECT id FROM tags"))
	require.Error(t, err)

	pol := f.svc.Policy()
	pol.Whitelist = pol.Whitelist.With("tags")
	f.svc.UpdatePolicy(pol)

	_, err = f.svc.Preview(ctx, req("alice", "SELECT id FROM tags"))
	assert.NoError(t, err)
}

func TestQueryService_Materialize(t *testing.T) {
	f := newFixture(t, 10, Options{})
	ctx := context.Background()

	res, err := f.svc.Materialize(ctx, domain.MaterializeRequest{
		QueryRequest: req("alice", "SELECT id, email FROM users"),
		Title:        "  All users ",
		Description:  "weekly export",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	assert.Equal(t, "SELECT id, email FROM users", f.store.lastSQL, "no preview limit")
	assert.Equal(t, OpMaterialize, f.auditor.last().Operation)

	saved, err := f.svc.Result(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "All users", saved.Title)
	assert.Equal(t, "alice", saved.PrincipalID)
	assert.Equal(t, 2, saved.Result.RowCount)
}

func TestQueryService_MaterializeRequiresTitle(t *testing.T) {
	f := newFixture(t, 10, Options{})

	_, err := f.svc.Materialize(context.Background(), domain.MaterializeRequest{
		QueryRequest: req("alice", "SELECT id FROM posts"),
	})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, []string{"title is required"}, vErr.Errors)
	assert.False(t, f.store.called)

	require.Equal(t, []port.Stage{port.StageRejected}, f.auditor.stages())
	entry := f.auditor.last()
	assert.Equal(t, OpMaterialize, entry.Operation)
	assert.Equal(t, "SELECT id FROM posts", entry.SQL)
	assert.Equal(t, []string{"title is required"}, entry.Errors)
}

func TestQueryService_MaterializeMissingTitleAfterAccessCheck(t *testing.T) {
	f := newFixture(t, 10, Options{})
	f.svc.SetAccessChecker(denyList{"mallory": true})

	_, err := f.svc.Materialize(context.Background(), domain.MaterializeRequest{
		QueryRequest: req("mallory", "SELECT id FROM posts"),
	})
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, []port.Stage{port.StageRejected}, f.auditor.stages())
	assert.Empty(t, f.auditor.last().Errors)
}

func TestQueryService_MaterializeMissingTitleAndInvalidQuery(t *testing.T) {
	f := newFixture(t, 10, Options{})

	_, err := f.svc.Materialize(context.Background(), domain.MaterializeRequest{
		QueryRequest: req("alice", "SELECT id FROM secrets"),
	})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Errors, "title is required")
	assert.Greater(t, len(vErr.Errors), 1)
	assert.Len(t, f.auditor.stages(), 1)
}

func TestQueryService_Results(t *testing.T) {
	f := newFixture(t, 10, Options{})
	ctx := context.Background()

	for _, title := range []string{"first", "second"} {
		_, err := f.svc.Materialize(ctx, domain.MaterializeRequest{
			QueryRequest: req("alice", "SELECT id FROM posts"),
			Title:        title,
		})
		require.NoError(t, err)
	}
	_, err := f.svc.Materialize(ctx, domain.MaterializeRequest{
		QueryRequest: req("bob", "SELECT id FROM posts"),
		Title:        "other",
	})
	require.NoError(t, err)

	list, err := f.svc.Results(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	for _, r := range list {
		assert.Equal(t, "alice", r.PrincipalID)
	}

	_, err = f.svc.Results(ctx, "", 0)
	var authErr *domain.AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestQueryService_MasksExpressionsOverMaskedColumns(t *testing.T) {
	f := newFixture(t, 10, Options{})
	pol := f.svc.Policy()
	pol.Masks = map[string]domain.MaskType{"email": domain.MaskRedact}
	f.svc.UpdatePolicy(pol)

	res, err := f.svc.Preview(context.Background(), req("alice", "SELECT id, lower(email) FROM posts LIMIT 2"))
	require.NoError(t, err)
	assert.Equal(t, []any{1, "***"}, res.Rows[0])
	assert.Equal(t, []any{2, "***"}, res.Rows[1])
}

func TestQueryService_ResultNotFound(t *testing.T) {
	f := newFixture(t, 10, Options{})
	_, err := f.svc.Result(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueryService_ValidateDryRun(t *testing.T) {
	f := newFixture(t, 1, Options{})
	ctx := context.Background()

	out, err := f.svc.Validate(ctx, req("alice", "SELECT id FROM posts"))
	require.NoError(t, err)
	assert.True(t, out.Valid)
	assert.Equal(t, port.StageValidated, f.auditor.last().Stage)

	out, err = f.svc.Validate(ctx, req("alice", "SELECT * FROM users"))
	require.NoError(t, err)
	assert.False(t, out.Valid)
	assert.Equal(t, port.StageRejected, f.auditor.last().Stage)

	assert.False(t, f.store.called)
	st, err := f.svc.Quota(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Count, "validate does not consume quota")
}
