package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEmptyQuery        = errors.New("query is empty")
	ErrNotValidated      = errors.New("query has not been validated")
	ErrEmptyResult       = errors.New("query returned no rows")
	ErrCounterContention = errors.New("rate limit counter contention")
	ErrNotFound          = errors.New("not found")
)

// AuthError is returned when a principal may not call the gateway at all.
type AuthError struct {
	PrincipalID string
}

func (e *AuthError) Error() string {
	if e.PrincipalID == "" {
		return "access denied: no principal supplied"
	}
	return fmt.Sprintf("access denied for principal %q", e.PrincipalID)
}

// ValidationError carries every rule violation found in a query.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "query rejected: " + strings.Join(e.Errors, "; ")
}

// RateLimitError is returned when a principal has used up its window.
type RateLimitError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s, retry in %s",
		e.Limit, e.Window, e.RetryAfter.Round(time.Second))
}

// DataStoreError wraps a failure from the data store. Message is safe to show
// to the caller; Cause keeps the raw driver error for logs only.
type DataStoreError struct {
	Message string
	Timeout bool
	Cause   error
}

func (e *DataStoreError) Error() string { return e.Message }

func (e *DataStoreError) Unwrap() error { return e.Cause }

// OversizeResultError is returned when an executed query's shape exceeds the
// complexity budget. The result is discarded.
type OversizeResultError struct {
	Dimension string // "rows" or "columns"
	Limit     int
}

func (e *OversizeResultError) Error() string {
	if e.Dimension == "rows" {
		return fmt.Sprintf("result exceeds %d rows; add a LIMIT clause", e.Limit)
	}
	return fmt.Sprintf("result exceeds %d %s", e.Limit, e.Dimension)
}

// ConfigurationError reports a malformed whitelist, budget, or policy at
// startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// IsExecutionError reports whether err belongs to the execution family:
// data store failures, empty results, and oversize results.
func IsExecutionError(err error) bool {
	var dsErr *DataStoreError
	var oversize *OversizeResultError
	return errors.Is(err, ErrEmptyResult) || errors.As(err, &dsErr) || errors.As(err, &oversize)
}
