package service

import (
	"context"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
)

// ExplorerService lists the tables a caller may query: whatever the explorer
// reports, narrowed to the whitelist currently in force.
type ExplorerService struct {
	explorer  port.SchemaExplorer
	whitelist func() domain.TableWhitelist
}

func NewExplorerService(explorer port.SchemaExplorer, whitelist func() domain.TableWhitelist) *ExplorerService {
	return &ExplorerService{explorer: explorer, whitelist: whitelist}
}

func (s *ExplorerService) ListTables(ctx context.Context) ([]port.TableInfo, error) {
	tables, err := s.explorer.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	wl := s.whitelist()
	allowed := make([]port.TableInfo, 0, len(tables))
	for _, t := range tables {
		if wl.Contains(t.Name) || (t.Schema != "" && wl.Contains(t.Schema+"."+t.Name)) {
			allowed = append(allowed, t)
		}
	}
	return allowed, nil
}
