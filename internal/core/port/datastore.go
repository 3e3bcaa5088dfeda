package port

import (
	"context"

	"github.com/guillermoBallester/querygate/internal/core/domain"
)

// DataStore runs already-validated, read-only query text. Implementations
// stop reading after rowCap rows so oversize detection stays bounded.
type DataStore interface {
	Query(ctx context.Context, sql string, rowCap int) (*domain.RawRows, error)
}
