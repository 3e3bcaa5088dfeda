package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
)

// ResultStore keeps materialized results in memory.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]port.MaterializedResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]port.MaterializedResult)}
}

func (s *ResultStore) Save(_ context.Context, r port.MaterializedResult) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.ID] = r
	return r.ID, nil
}

func (s *ResultStore) Get(_ context.Context, id string) (*port.MaterializedResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (s *ResultStore) ListByPrincipal(_ context.Context, principalID string, limit int) ([]port.MaterializedResult, error) {
	s.mu.RLock()
	out := make([]port.MaterializedResult, 0)
	for _, r := range s.results {
		if r.PrincipalID != principalID {
			continue
		}
		if r.Result != nil {
			r.Result = &domain.TabularResult{RowCount: r.Result.RowCount, ColumnCount: r.Result.ColumnCount}
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
