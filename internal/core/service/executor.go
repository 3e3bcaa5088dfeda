package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
)

const (
	DefaultExecTimeout  = 30 * time.Second
	DefaultPreviewLimit = 5
)

// ExecOptions tunes a single execution. A zero PreviewLimit runs the query as
// written.
type ExecOptions struct {
	PreviewLimit int
}

// Executor runs validated queries against a DataStore within a wall-clock
// budget and enforces the result-shape ceilings.
type Executor struct {
	store   port.DataStore
	timeout time.Duration
}

func NewExecutor(store port.DataStore, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	return &Executor{store: store, timeout: timeout}
}

// Execute runs q and returns a result no larger than budget allows. A query
// that matches nothing returns domain.ErrEmptyResult rather than an empty
// result.
func (e *Executor) Execute(ctx context.Context, q domain.ValidatedQuery, budget domain.ComplexityBudget, opts ExecOptions) (*domain.TabularResult, error) {
	if q.IsZero() {
		return nil, domain.ErrNotValidated
	}

	sql := q.SQL()
	if opts.PreviewLimit > 0 {
		sql = withPreviewLimit(sql, opts.PreviewLimit)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.store.Query(ctx, sql, budget.MaxRows+1)
	if err != nil {
		return nil, classify(ctx, err)
	}

	if len(raw.Rows) == 0 {
		return nil, domain.ErrEmptyResult
	}
	if len(raw.Columns) > budget.MaxColumns {
		return nil, &domain.OversizeResultError{Dimension: "columns", Limit: budget.MaxColumns}
	}
	if len(raw.Rows) > budget.MaxRows {
		return nil, &domain.OversizeResultError{Dimension: "rows", Limit: budget.MaxRows}
	}

	return domain.NewTabularResult(raw.Columns, raw.Rows), nil
}

// withPreviewLimit bounds sql to n rows unless it already carries a LIMIT.
func withPreviewLimit(sql string, n int) string {
	if domain.HasLimitClause(sql) {
		return sql
	}
	sql = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	return fmt.Sprintf("%s LIMIT %d", sql, n)
}

// classify maps a store failure to a caller-safe DataStoreError.
func classify(ctx context.Context, err error) error {
	var dsErr *domain.DataStoreError
	if errors.As(err, &dsErr) {
		return dsErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.DataStoreError{Message: "query timed out", Timeout: true, Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &domain.DataStoreError{Message: "query canceled", Cause: err}
	}
	return &domain.DataStoreError{Message: "query failed", Cause: err}
}
