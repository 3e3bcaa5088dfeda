package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Operation names used in audit entries, logs, and spans.
const (
	OpPreview     = "preview"
	OpMaterialize = "materialize"
	OpValidate    = "validate"
)

// Policy is the reloadable part of the gateway's configuration.
type Policy struct {
	Whitelist domain.TableWhitelist
	Budget    domain.ComplexityBudget
	Masks     map[string]domain.MaskType // column name -> mask (nil = no masking)
}

// Options are fixed at startup.
type Options struct {
	PreviewLimit int
	// CountRejected makes validation rejections consume rate-limit quota.
	CountRejected bool
}

// ExecutionResult is a shaped query result plus the caller's remaining quota.
type ExecutionResult struct {
	*domain.TabularResult
	RateLimitRemaining int    `json:"rate_limit_remaining"`
	ID                 string `json:"id,omitempty"`
}

// QueryService is the gateway: normalize, validate, admit, execute, audit.
type QueryService struct {
	validator port.QueryValidator
	limiter   *RateLimiter
	executor  *Executor
	auditor   port.QueryAuditor
	access    port.AccessChecker
	results   port.ResultStore
	logger    *slog.Logger
	opts      Options
	policy    atomic.Pointer[Policy]
	tracer    trace.Tracer
	inst      port.Instrumentation
	now       func() time.Time
}

func NewQueryService(validator port.QueryValidator, limiter *RateLimiter, executor *Executor, auditor port.QueryAuditor, logger *slog.Logger, policy Policy, opts Options) *QueryService {
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = DefaultPreviewLimit
	}
	s := &QueryService{
		validator: validator,
		limiter:   limiter,
		executor:  executor,
		auditor:   auditor,
		access:    port.AllowAll{},
		logger:    logger,
		opts:      opts,
		tracer:    noop.NewTracerProvider().Tracer("noop"),
		inst:      port.NoopInstrumentation{},
		now:       time.Now,
	}
	s.policy.Store(&policy)
	return s
}

// SetAccessChecker replaces the default allow-all checker.
func (s *QueryService) SetAccessChecker(ac port.AccessChecker) {
	if ac != nil {
		s.access = ac
	}
}

// SetResultStore enables Materialize.
func (s *QueryService) SetResultStore(rs port.ResultStore) {
	s.results = rs
}

func (s *QueryService) SetTelemetry(tracer trace.Tracer, inst port.Instrumentation) {
	if tracer != nil {
		s.tracer = tracer
	}
	if inst != nil {
		s.inst = inst
	}
}

// UpdatePolicy swaps the whitelist, budget and masks. In-flight requests keep
// the policy they started with.
func (s *QueryService) UpdatePolicy(p Policy) {
	s.policy.Store(&p)
}

// Policy returns the policy currently in force.
func (s *QueryService) Policy() Policy {
	return *s.policy.Load()
}

// Preview executes the query with a small row limit and returns the result.
func (s *QueryService) Preview(ctx context.Context, req domain.QueryRequest) (*ExecutionResult, error) {
	return s.run(ctx, OpPreview, req, ExecOptions{PreviewLimit: s.opts.PreviewLimit}, nil)
}

// Materialize executes the query unbounded by the preview limit and hands the
// result to the result store.
func (s *QueryService) Materialize(ctx context.Context, req domain.MaterializeRequest) (*ExecutionResult, error) {
	if s.results == nil {
		return nil, errors.New("materialize: no result store configured")
	}
	var reqErrs []string
	if strings.TrimSpace(req.Title) == "" {
		reqErrs = append(reqErrs, "title is required")
	}

	res, err := s.run(ctx, OpMaterialize, req.QueryRequest, ExecOptions{}, reqErrs)
	if err != nil {
		return nil, err
	}

	id, err := s.results.Save(ctx, port.MaterializedResult{
		ID:          uuid.NewString(),
		PrincipalID: req.PrincipalID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		SQL:         domain.Normalize(req.RawText),
		Result:      res.TabularResult,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "saving materialized result failed",
			slog.String("enduser.id", req.PrincipalID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("saving result: %w", err)
	}
	res.ID = id
	return res, nil
}

// Result fetches a previously materialized result.
func (s *QueryService) Result(ctx context.Context, id string) (*port.MaterializedResult, error) {
	if s.results == nil {
		return nil, domain.ErrNotFound
	}
	return s.results.Get(ctx, id)
}

// Results lists a principal's materialized results, newest first, without
// their rows.
func (s *QueryService) Results(ctx context.Context, principalID string, limit int) ([]port.MaterializedResult, error) {
	if err := s.authorize(ctx, principalID); err != nil {
		return nil, err
	}
	if s.results == nil {
		return []port.MaterializedResult{}, nil
	}
	return s.results.ListByPrincipal(ctx, principalID, limit)
}

// Quota reports a principal's rate-limit window without consuming it.
func (s *QueryService) Quota(ctx context.Context, principalID string) (domain.RateLimitState, error) {
	if err := s.authorize(ctx, principalID); err != nil {
		return domain.RateLimitState{}, err
	}
	return s.limiter.State(ctx, principalID)
}

// Validate is a dry run: it reports every violation without consuming quota
// or touching the data store. Only an access failure is returned as an error.
func (s *QueryService) Validate(ctx context.Context, req domain.QueryRequest) (domain.ValidationOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "QueryService.Validate",
		trace.WithAttributes(attribute.String("enduser.id", req.PrincipalID)),
	)
	defer span.End()

	entry := s.newEntry(req, OpValidate)
	if err := s.authorize(ctx, req.PrincipalID); err != nil {
		s.reject(ctx, span, entry, err)
		return domain.ValidationOutcome{}, err
	}

	pol := s.policy.Load()
	entry.SQL = domain.Normalize(req.RawText)
	outcome := s.validator.Validate(entry.SQL, pol.Whitelist, pol.Budget)
	if !outcome.Valid {
		entry.Stage = port.StageRejected
		entry.Errors = outcome.Errors
		s.inst.IncrementValidationRejections(ctx)
	} else {
		entry.Stage = port.StageValidated
	}
	s.auditor.Record(ctx, entry)
	span.SetAttributes(attribute.Bool("querygate.valid", outcome.Valid))
	return outcome, nil
}

// run is the shared pipeline. reqErrs are request-level violations found by
// the caller; they are reported after authorization, alongside the query's
// own validation errors.
func (s *QueryService) run(ctx context.Context, op string, req domain.QueryRequest, opts ExecOptions, reqErrs []string) (*ExecutionResult, error) {
	ctx, span := s.tracer.Start(ctx, "QueryService."+op,
		trace.WithAttributes(
			attribute.String("db.operation.name", op),
			attribute.String("enduser.id", req.PrincipalID),
		),
	)
	defer span.End()

	entry := s.newEntry(req, op)

	if err := s.authorize(ctx, req.PrincipalID); err != nil {
		s.reject(ctx, span, entry, err)
		return nil, err
	}

	normalized := domain.Normalize(req.RawText)
	entry.SQL = normalized
	span.SetAttributes(attribute.String("db.statement", normalized))

	pol := s.policy.Load()
	outcome := s.validator.Validate(normalized, pol.Whitelist, pol.Budget)
	q, ok := outcome.Query()
	if !ok || len(reqErrs) > 0 {
		errs := append(append([]string(nil), outcome.Errors...), reqErrs...)
		err := &domain.ValidationError{Errors: errs}
		entry.Errors = errs
		s.inst.IncrementValidationRejections(ctx)
		s.reject(ctx, span, entry, err)
		if s.opts.CountRejected {
			// The rejection is already reported; a quota failure here adds nothing.
			_, _ = s.limiter.Admit(ctx, req.PrincipalID)
		}
		return nil, err
	}

	remaining, err := s.limiter.Admit(ctx, req.PrincipalID)
	if err != nil {
		entry.Stage = port.StageRateLimited
		entry.Detail = err.Error()
		s.auditor.Record(ctx, entry)
		s.inst.IncrementRateLimited(ctx)
		s.logger.WarnContext(ctx, "query rate limited",
			slog.String("enduser.id", req.PrincipalID),
			slog.String("db.operation.name", op),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limited")
		return nil, err
	}

	start := time.Now()
	res, err := s.executor.Execute(ctx, q, pol.Budget, opts)
	entry.DurationMS = time.Since(start).Milliseconds()
	s.inst.RecordQueryDuration(ctx, float64(entry.DurationMS))

	if err != nil {
		s.inst.IncrementQueryErrors(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.Detail = err.Error()

		var dsErr *domain.DataStoreError
		if errors.As(err, &dsErr) {
			entry.Stage = port.StageDBError
			attrs := []any{
				slog.String("enduser.id", req.PrincipalID),
				slog.String("db.statement", normalized),
				slog.String("error.type", "data_store_error"),
				slog.Bool("timeout", dsErr.Timeout),
			}
			if dsErr.Cause != nil {
				attrs = append(attrs, slog.String("error", dsErr.Cause.Error()))
			}
			s.logger.ErrorContext(ctx, "query execution failed", attrs...)
		} else {
			entry.Stage = port.StageExecuted
			s.logger.InfoContext(ctx, "query result refused",
				slog.String("enduser.id", req.PrincipalID),
				slog.String("reason", err.Error()),
			)
		}
		s.auditor.Record(ctx, entry)
		return nil, err
	}

	if len(pol.Masks) > 0 {
		domain.MaskTable(res, domain.PlanMasks(q.SQL(), pol.Masks))
	}

	entry.Stage = port.StageExecuted
	entry.RowCount = res.RowCount
	entry.ColumnCount = res.ColumnCount
	s.auditor.Record(ctx, entry)
	s.inst.IncrementQueryCount(ctx)

	span.SetAttributes(
		attribute.Int("db.response.rows", res.RowCount),
		attribute.Int("db.response.columns", res.ColumnCount),
	)
	s.logger.DebugContext(ctx, "query executed",
		slog.String("enduser.id", req.PrincipalID),
		slog.String("db.operation.name", op),
		slog.Int("rows", res.RowCount),
		slog.Int64("duration_ms", entry.DurationMS),
	)

	return &ExecutionResult{TabularResult: res, RateLimitRemaining: remaining}, nil
}

func (s *QueryService) authorize(ctx context.Context, principalID string) error {
	if strings.TrimSpace(principalID) == "" {
		return &domain.AuthError{}
	}
	return s.access.CheckAccess(ctx, principalID)
}

func (s *QueryService) newEntry(req domain.QueryRequest, op string) port.AuditEntry {
	ts := req.SubmittedAt
	if ts.IsZero() {
		ts = s.now()
	}
	return port.AuditEntry{
		PrincipalID: req.PrincipalID,
		Timestamp:   ts.UTC(),
		Operation:   op,
	}
}

// reject records a rejected-stage audit entry and a warning.
func (s *QueryService) reject(ctx context.Context, span trace.Span, entry port.AuditEntry, err error) {
	entry.Stage = port.StageRejected
	entry.Detail = err.Error()
	s.auditor.Record(ctx, entry)

	s.logger.WarnContext(ctx, "query rejected",
		slog.String("enduser.id", entry.PrincipalID),
		slog.String("db.operation.name", entry.Operation),
		slog.String("db.statement", entry.SQL),
		slog.String("error.type", errorType(err)),
		slog.String("error", err.Error()),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, "rejected")
}

func errorType(err error) string {
	var authErr *domain.AuthError
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &authErr):
		return "auth_error"
	case errors.As(err, &vErr):
		return "validation_error"
	default:
		return "error"
	}
}
