package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStore(t *testing.T) {
	t.Parallel()
	s := NewResultStore()
	ctx := context.Background()

	id, err := s.Save(ctx, port.MaterializedResult{
		ID:          "r-1",
		PrincipalID: "alice",
		Title:       "Top posts",
		Result:      domain.NewTabularResult([]string{"id"}, [][]any{{1}}),
	})
	require.NoError(t, err)
	assert.Equal(t, "r-1", id)

	got, err := s.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.PrincipalID)
	assert.Equal(t, 1, got.Result.RowCount)

	// The returned copy does not alias the stored entry.
	got.Title = "changed"
	again, err := s.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "Top posts", again.Title)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResultStore_ListByPrincipal(t *testing.T) {
	t.Parallel()
	s := NewResultStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, owner := range []string{"alice", "bob", "alice", "alice"} {
		_, err := s.Save(ctx, port.MaterializedResult{
			ID:          string(rune('a' + i)),
			PrincipalID: owner,
			Title:       owner,
			Result:      domain.NewTabularResult([]string{"id"}, [][]any{{i}}),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	list, err := s.ListByPrincipal(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "d", list[0].ID)
	assert.Equal(t, "c", list[1].ID)
	assert.Nil(t, list[0].Result.Rows)
	assert.Equal(t, 1, list[0].Result.RowCount)

	// Listing strips rows from the copy only.
	full, err := s.Get(ctx, "d")
	require.NoError(t, err)
	assert.Len(t, full.Result.Rows, 1)

	none, err := s.ListByPrincipal(ctx, "carol", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
