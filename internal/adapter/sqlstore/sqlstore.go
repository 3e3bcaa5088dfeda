// Package sqlstore runs gateway queries through database/sql. The sqlite3
// driver is registered here; other drivers can be passed an open *sql.DB.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/mattn/go-sqlite3"
)

// Open opens and pings a SQLite database. Open it with mode=ro (or a read-only
// file) for a store that cannot be written through the gateway.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}
	return db, nil
}

type DataStore struct {
	db *sql.DB
}

func NewDataStore(db *sql.DB) *DataStore {
	return &DataStore{db: db}
}

func (d *DataStore) Query(ctx context.Context, query string, rowCap int) (*domain.RawRows, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, toDataStoreError(ctx, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, toDataStoreError(ctx, err)
	}
	raw := &domain.RawRows{Columns: cols}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, toDataStoreError(ctx, fmt.Errorf("scanning row: %w", err))
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		raw.Rows = append(raw.Rows, vals)
		if rowCap > 0 && len(raw.Rows) >= rowCap {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, toDataStoreError(ctx, err)
	}
	return raw, nil
}

func toDataStoreError(ctx context.Context, err error) *domain.DataStoreError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.DataStoreError{Message: "query timed out", Timeout: true, Cause: err}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrError:
			return &domain.DataStoreError{Message: "query error: " + sqliteErr.Error(), Cause: err}
		case sqlite3.ErrReadonly:
			return &domain.DataStoreError{Message: "write operations are not allowed", Cause: err}
		case sqlite3.ErrInterrupt:
			return &domain.DataStoreError{Message: "query timed out", Timeout: true, Cause: err}
		}
	}
	return &domain.DataStoreError{Message: "query failed", Cause: err}
}
