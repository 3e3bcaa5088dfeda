package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DataStore runs gateway queries inside a read-only transaction, so even a
// statement that slipped past validation cannot write.
type DataStore struct {
	pool           *pgxpool.Pool
	defaultTimeout time.Duration
}

func NewDataStore(pool *pgxpool.Pool, defaultTimeout time.Duration) *DataStore {
	return &DataStore{pool: pool, defaultTimeout: defaultTimeout}
}

func (d *DataStore) Query(ctx context.Context, sql string, rowCap int) (*domain.RawRows, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, toDataStoreError(fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Have PostgreSQL cancel the statement server-side as well; SET LOCAL
	// is scoped to this transaction.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%d'", d.statementTimeout(ctx).Milliseconds())); err != nil {
		return nil, toDataStoreError(fmt.Errorf("setting statement timeout: %w", err))
	}

	rows, err := tx.Query(ctx, capped(sql, rowCap))
	if err != nil {
		return nil, toDataStoreError(fmt.Errorf("executing query: %w", err))
	}
	defer rows.Close()

	raw, err := rowsToRaw(rows, rowCap)
	if err != nil {
		return nil, toDataStoreError(err)
	}
	return raw, nil
}

// capped bounds the result server-side. The select-list order of the inner
// query is kept.
func capped(sql string, rowCap int) string {
	if rowCap <= 0 {
		return sql
	}
	sql = strings.TrimSuffix(strings.TrimSpace(sql), ";")
	return fmt.Sprintf("SELECT * FROM (%s) AS _q LIMIT %d", sql, rowCap)
}

// statementTimeout prefers the time left on ctx over the configured default.
func (d *DataStore) statementTimeout(ctx context.Context) time.Duration {
	timeout := d.defaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && (timeout <= 0 || left < timeout) {
			timeout = left
		}
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	return timeout
}
