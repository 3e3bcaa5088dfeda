package resultstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/guillermoBallester/querygate/internal/adapter/gormdb"
	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := gormdb.Open(":memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestStore_SaveAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id := uuid.NewString()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.Save(ctx, port.MaterializedResult{
		ID:          id,
		PrincipalID: "alice",
		Title:       "Top posts",
		SQL:         "SELECT id, title FROM posts",
		Result:      domain.NewTabularResult([]string{"id", "title"}, [][]any{{1, "a"}, {2, nil}}),
		CreatedAt:   created,
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.PrincipalID)
	assert.Equal(t, "Top posts", got.Title)
	assert.Equal(t, []string{"id", "title"}, got.Result.Headers)
	// JSON numbers decode as float64.
	assert.Equal(t, [][]any{{float64(1), "a"}, {float64(2), nil}}, got.Result.Rows)
	assert.Equal(t, 2, got.Result.RowCount)
	assert.True(t, created.Equal(got.CreatedAt))
}

func TestStore_GetNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_SaveRequiresResult(t *testing.T) {
	s := newStore(t)
	_, err := s.Save(context.Background(), port.MaterializedResult{ID: "x"})
	assert.Error(t, err)
}

func TestStore_ListByPrincipal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, owner := range []string{"alice", "bob", "alice"} {
		_, err := s.Save(ctx, port.MaterializedResult{
			ID:          uuid.NewString(),
			PrincipalID: owner,
			Title:       owner,
			SQL:         "SELECT 1",
			Result:      domain.NewTabularResult([]string{"n"}, [][]any{{i}}),
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	list, err := s.ListByPrincipal(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
	assert.Equal(t, 1, list[0].Result.RowCount)
}
