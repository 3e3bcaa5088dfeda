package port

import (
	"context"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/domain"
)

// MaterializedResult is an executed query handed off for persistence.
type MaterializedResult struct {
	ID          string                `json:"id"`
	PrincipalID string                `json:"principal_id"`
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	SQL         string                `json:"sql"`
	Result      *domain.TabularResult `json:"result"`
	CreatedAt   time.Time             `json:"created_at"`
}

// ResultStore persists materialized results. Get returns domain.ErrNotFound
// for unknown IDs. ListByPrincipal returns newest first and leaves rows out;
// Result carries only the counts.
type ResultStore interface {
	Save(ctx context.Context, result MaterializedResult) (string, error)
	Get(ctx context.Context, id string) (*MaterializedResult, error)
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]MaterializedResult, error)
}
