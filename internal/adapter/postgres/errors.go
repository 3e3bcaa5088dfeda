package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

// toDataStoreError keeps the driver error as the cause and derives a message
// that is safe to show callers. Only errors about the query text itself
// (SQLSTATE class 42, data exceptions in class 22) echo the server message;
// anything about the server, credentials, or connection does not.
func toDataStoreError(err error) *domain.DataStoreError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.DataStoreError{Message: "query timed out", Timeout: true, Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014":
			return &domain.DataStoreError{Message: "query timed out", Timeout: true, Cause: err}
		case pgErr.Code == "25006":
			return &domain.DataStoreError{Message: "write operations are not allowed", Cause: err}
		case pgErr.Code == "42501":
			return &domain.DataStoreError{Message: "permission denied", Cause: err}
		case strings.HasPrefix(pgErr.Code, "42"), strings.HasPrefix(pgErr.Code, "22"):
			return &domain.DataStoreError{Message: "query error: " + pgErr.Message, Cause: err}
		}
	}

	if pgconn.Timeout(err) {
		return &domain.DataStoreError{Message: "query timed out", Timeout: true, Cause: err}
	}
	return &domain.DataStoreError{Message: "query failed", Cause: err}
}
