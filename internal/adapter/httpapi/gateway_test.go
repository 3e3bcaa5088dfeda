package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/guillermoBallester/querygate/internal/adapter/memstore"
	"github.com/guillermoBallester/querygate/internal/audit"
	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/service"
	"github.com/stretchr/testify/assert"
)

// stubStore answers every query with the same two rows.
type stubStore struct{ calls int }

func (s *stubStore) Query(_ context.Context, _ string, _ int) (*domain.RawRows, error) {
	s.calls++
	return &domain.RawRows{Columns: []string{"id", "title"}, Rows: [][]any{{1, "a"}, {2, "b"}}}, nil
}

func newGatewayRouter(store *stubStore, max int) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := service.NewRateLimiter(memstore.NewCounterStore(), max, time.Minute)
	executor := service.NewExecutor(store, time.Second)
	svc := service.NewQueryService(domain.NewRuleValidator(), limiter, executor, audit.NewLogAuditor(io.Discard), logger,
		service.Policy{Whitelist: domain.NewTableWhitelist("", "posts"), Budget: domain.DefaultBudget()},
		service.Options{},
	)
	svc.SetResultStore(memstore.NewResultStore())
	return NewRouter(NewHandler(svc, nil, logger, nil), RouterOptions{})
}

func TestGateway_EndToEnd(t *testing.T) {
	store := &stubStore{}
	h := newGatewayRouter(store, 2)
	const q = `{"sql":"SELECT id, title FROM posts LIMIT 2"}`

	rec := do(t, h, http.MethodPost, "/api/v1/queries/preview", "alice", q)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["rate_limit_remaining"])

	// No principal header: refused before any quota or store use.
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/v1/queries/preview", "", q).Code)

	// Rejected by the validator: 200 with an error body, store untouched.
	rec = do(t, h, http.MethodPost, "/api/v1/queries/preview", "alice", `{"sql":"DROP TABLE posts"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["errors"], "only SELECT statements are allowed")

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/queries/preview", "alice", q).Code)

	rec = do(t, h, http.MethodPost, "/api/v1/queries/preview", "alice", q)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, store.calls)

	// Another principal has its own window.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/queries/preview", "bob", q).Code)
}

func TestGateway_MaterializeThenFetch(t *testing.T) {
	h := newGatewayRouter(&stubStore{}, 10)

	rec := do(t, h, http.MethodPost, "/api/v1/queries/materialize", "alice",
		`{"sql":"SELECT id, title FROM posts LIMIT 2","title":"Posts"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	id, _ := decodeBody(t, rec)["id"].(string)
	assert.NotEmpty(t, id)

	rec = do(t, h, http.MethodGet, "/api/v1/results/"+id, "alice", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Posts", decodeBody(t, rec)["title"])

	// Missing title is a validation refusal.
	rec = do(t, h, http.MethodPost, "/api/v1/queries/materialize", "alice", `{"sql":"SELECT id FROM posts LIMIT 1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["errors"], "title is required")
}
