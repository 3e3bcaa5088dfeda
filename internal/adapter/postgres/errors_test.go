package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestToDataStoreError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
		timeout bool
	}{
		{"deadline", fmt.Errorf("executing query: %w", context.DeadlineExceeded), "query timed out", true},
		{"statement timeout", &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}, "query timed out", true},
		{"read only", &pgconn.PgError{Code: "25006", Message: "cannot execute UPDATE in a read-only transaction"}, "write operations are not allowed", false},
		{"privilege", &pgconn.PgError{Code: "42501", Message: "permission denied for table secrets"}, "permission denied", false},
		{"undefined column", &pgconn.PgError{Code: "42703", Message: `column "nope" does not exist`}, `query error: column "nope" does not exist`, false},
		{"division by zero", &pgconn.PgError{Code: "22012", Message: "division by zero"}, "query error: division by zero", false},
		{"auth failure", &pgconn.PgError{Code: "28P01", Message: `password authentication failed for user "admin"`}, "query failed", false},
		{"other", errors.New("dial tcp 10.0.0.5:5432: connection refused"), "query failed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toDataStoreError(tt.err)
			assert.Equal(t, tt.message, got.Message)
			assert.Equal(t, tt.timeout, got.Timeout)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestCapped(t *testing.T) {
	assert.Equal(t, "SELECT * FROM (SELECT id FROM posts) AS _q LIMIT 11", capped("SELECT id FROM posts;", 11))
	assert.Equal(t, "SELECT id FROM posts", capped("SELECT id FROM posts", 0))
}
