package postgres

import (
	"context"
	"fmt"

	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Explorer reports the tables and views visible in the configured schemas.
// The gateway narrows the list to the whitelist before showing it to anyone.
type Explorer struct {
	pool    *pgxpool.Pool
	schemas []string
}

func NewExplorer(pool *pgxpool.Pool, schemas []string) *Explorer {
	if schemas == nil {
		schemas = []string{}
	}
	return &Explorer{pool: pool, schemas: schemas}
}

func (e *Explorer) ListTables(ctx context.Context) ([]port.TableInfo, error) {
	rows, err := e.pool.Query(ctx, queryListTables, e.schemas)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	tables, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (port.TableInfo, error) {
		var t port.TableInfo
		err := row.Scan(&t.Schema, &t.Name, &t.RowEstimate, &t.ColumnCount, &t.Comment)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning tables: %w", err)
	}
	return tables, nil
}
