package postgres

import (
	"fmt"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/jackc/pgx/v5"
)

// rowsToRaw reads at most rowCap rows, keeping select-list column order.
// Reading stops early so a huge result is never fully buffered.
func rowsToRaw(rows pgx.Rows, rowCap int) (*domain.RawRows, error) {
	fields := rows.FieldDescriptions()
	raw := &domain.RawRows{Columns: make([]string, len(fields))}
	for i, fd := range fields {
		raw.Columns[i] = fd.Name
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row values: %w", err)
		}
		raw.Rows = append(raw.Rows, vals)
		if rowCap > 0 && len(raw.Rows) >= rowCap {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return raw, nil
}
