// Package httpapi exposes the query gateway as a JSON API behind a trusted
// front proxy that authenticates callers and sets X-Principal-ID.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/guillermoBallester/querygate/internal/core/service"
)

// PrincipalHeader carries the authenticated principal from the front proxy.
const PrincipalHeader = "X-Principal-ID"

// maxBodyBytes caps request bodies; query text is small.
const maxBodyBytes = 1 << 20

// maxListLimit caps the limit query parameter on listing endpoints.
const maxListLimit = 500

// Gateway is the subset of the query service the HTTP API drives.
type Gateway interface {
	Preview(ctx context.Context, req domain.QueryRequest) (*service.ExecutionResult, error)
	Materialize(ctx context.Context, req domain.MaterializeRequest) (*service.ExecutionResult, error)
	Validate(ctx context.Context, req domain.QueryRequest) (domain.ValidationOutcome, error)
	Quota(ctx context.Context, principalID string) (domain.RateLimitState, error)
	Result(ctx context.Context, id string) (*port.MaterializedResult, error)
	Results(ctx context.Context, principalID string, limit int) ([]port.MaterializedResult, error)
}

// TableLister backs GET /api/v1/tables.
type TableLister interface {
	ListTables(ctx context.Context) ([]port.TableInfo, error)
}

type Handler struct {
	gateway Gateway
	tables  TableLister
	logger  *slog.Logger
	inst    port.Instrumentation
}

func NewHandler(gateway Gateway, tables TableLister, logger *slog.Logger, inst port.Instrumentation) *Handler {
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	return &Handler{gateway: gateway, tables: tables, logger: logger, inst: inst}
}

// RouterOptions wires optional endpoints and middleware.
type RouterOptions struct {
	Metrics http.Handler
	Ingress *IngressConfig
	// Health reports data store reachability; nil means always healthy.
	Health func(ctx context.Context) error
	// Audit serves GET /api/v1/audit when the audit trail is queryable.
	Audit port.AuditReader
}

// NewRouter mounts the API under /api/v1 plus /health and /metrics.
func NewRouter(h *Handler, opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Get("/health", healthHandler(opts.Health))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if opts.Ingress != nil {
			r.Use(IngressLimit(*opts.Ingress))
		}
		r.Use(principalMiddleware)

		r.Post("/queries/preview", h.timed(h.preview))
		r.Post("/queries/materialize", h.timed(h.materialize))
		r.Post("/queries/validate", h.timed(h.validate))
		r.Get("/quota", h.quota)
		r.Get("/results", h.listResults)
		r.Get("/results/{id}", h.result)
		if opts.Audit != nil {
			r.Get("/audit", h.auditTrail(opts.Audit))
		}
		if h.tables != nil {
			r.Get("/tables", h.listTables)
		}
	})
	return r
}

// principalMiddleware moves X-Principal-ID into the request context. A
// missing header is left for the service to reject as an access failure.
func principalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimSpace(r.Header.Get(PrincipalHeader))
		next.ServeHTTP(w, r.WithContext(domain.WithPrincipal(r.Context(), p)))
	})
}

func healthHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *Handler) timed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		h.inst.RecordToolDuration(r.Context(), float64(time.Since(start).Milliseconds()))
	}
}

type queryBody struct {
	SQL string `json:"sql"`
}

type materializeBody struct {
	SQL         string `json:"sql"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func decode(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *Handler) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{ErrorMessage: err.Error()})
}

func queryRequest(r *http.Request, sql string) domain.QueryRequest {
	return domain.QueryRequest{
		PrincipalID: domain.PrincipalFrom(r.Context()),
		RawText:     sql,
		SubmittedAt: time.Now().UTC(),
	}
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := decode(r, w, &body); err != nil {
		h.badRequest(w, err)
		return
	}
	res, err := h.gateway.Preview(r.Context(), queryRequest(r, body.SQL))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) materialize(w http.ResponseWriter, r *http.Request) {
	var body materializeBody
	if err := decode(r, w, &body); err != nil {
		h.badRequest(w, err)
		return
	}
	res, err := h.gateway.Materialize(r.Context(), domain.MaterializeRequest{
		QueryRequest: queryRequest(r, body.SQL),
		Title:        body.Title,
		Description:  body.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := decode(r, w, &body); err != nil {
		h.badRequest(w, err)
		return
	}
	outcome, err := h.gateway.Validate(r.Context(), queryRequest(r, body.SQL))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type quotaBody struct {
	PrincipalID string    `json:"principal_id"`
	Limit       int       `json:"limit"`
	Used        int       `json:"used"`
	Remaining   int       `json:"remaining"`
	ResetsAt    time.Time `json:"resets_at"`
}

func (h *Handler) quota(w http.ResponseWriter, r *http.Request) {
	st, err := h.gateway.Quota(r.Context(), domain.PrincipalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotaBody{
		PrincipalID: st.PrincipalID,
		Limit:       st.MaxRequests,
		Used:        st.Count,
		Remaining:   st.Remaining(),
		ResetsAt:    st.ResetsAt(),
	})
}

type resultBody struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	SQL         string                `json:"sql"`
	CreatedAt   time.Time             `json:"created_at"`
	Result      *domain.TabularResult `json:"result"`
}

// result returns a materialized result to the principal that created it.
// Other principals get 404, not 403, so a result ID reveals nothing.
func (h *Handler) result(w http.ResponseWriter, r *http.Request) {
	principal := domain.PrincipalFrom(r.Context())
	if principal == "" {
		h.fail(w, r, &domain.AuthError{})
		return
	}
	mr, err := h.gateway.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if mr.PrincipalID != principal {
		h.fail(w, r, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resultBody{
		ID:          mr.ID,
		Title:       mr.Title,
		Description: mr.Description,
		SQL:         mr.SQL,
		CreatedAt:   mr.CreatedAt,
		Result:      mr.Result,
	})
}

type resultSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	SQL         string    `json:"sql"`
	RowCount    int       `json:"row_count"`
	ColumnCount int       `json:"column_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// listResults lists the caller's own materialized results.
func (h *Handler) listResults(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	list, err := h.gateway.Results(r.Context(), domain.PrincipalFrom(r.Context()), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]resultSummary, len(list))
	for i, mr := range list {
		out[i] = resultSummary{
			ID:          mr.ID,
			Title:       mr.Title,
			Description: mr.Description,
			SQL:         mr.SQL,
			CreatedAt:   mr.CreatedAt,
		}
		if mr.Result != nil {
			out[i].RowCount = mr.Result.RowCount
			out[i].ColumnCount = mr.Result.ColumnCount
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// auditTrail returns the caller's own audit entries.
func (h *Handler) auditTrail(reader port.AuditReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := domain.PrincipalFrom(r.Context())
		if principal == "" {
			h.fail(w, r, &domain.AuthError{})
			return
		}
		limit, err := listLimit(r)
		if err != nil {
			h.badRequest(w, err)
			return
		}
		entries, err := reader.Recent(r.Context(), principal, limit)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

// listLimit reads ?limit=; zero means the store's default.
func listLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxListLimit)
	}
	return n, nil
}

func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	if domain.PrincipalFrom(r.Context()) == "" {
		h.fail(w, r, &domain.AuthError{})
		return
	}
	tables, err := h.tables.ListTables(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := statusFor(err)
	// Execution failures are logged by the service with the statement.
	if status >= http.StatusInternalServerError && !domain.IsExecutionError(err) {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("http.route", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, err)
}
