package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/guillermoBallester/querygate/internal/core/domain"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	ErrorMessage string   `json:"error_message"`
	Errors       []string `json:"errors,omitempty"`
}

// statusFor maps a gateway error to an HTTP status and a caller-safe body.
// Validation, empty and oversize results are answered with 200 because the
// request itself was well-formed; the body carries the refusal.
func statusFor(err error) (int, errorBody) {
	var (
		authErr  *domain.AuthError
		vErr     *domain.ValidationError
		rlErr    *domain.RateLimitError
		dsErr    *domain.DataStoreError
		oversize *domain.OversizeResultError
	)
	switch {
	case errors.As(err, &authErr):
		return http.StatusForbidden, errorBody{ErrorMessage: authErr.Error()}
	case errors.As(err, &rlErr):
		return http.StatusTooManyRequests, errorBody{ErrorMessage: rlErr.Error()}
	case errors.As(err, &vErr):
		return http.StatusOK, errorBody{ErrorMessage: vErr.Error(), Errors: vErr.Errors}
	case errors.Is(err, domain.ErrEmptyResult), errors.As(err, &oversize):
		return http.StatusOK, errorBody{ErrorMessage: err.Error()}
	case errors.As(err, &dsErr):
		if dsErr.Timeout {
			return http.StatusGatewayTimeout, errorBody{ErrorMessage: dsErr.Message}
		}
		return http.StatusBadGateway, errorBody{ErrorMessage: dsErr.Message}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorBody{ErrorMessage: "not found"}
	case errors.Is(err, domain.ErrCounterContention):
		return http.StatusServiceUnavailable, errorBody{ErrorMessage: "rate limiter busy, try again"}
	default:
		return http.StatusInternalServerError, errorBody{ErrorMessage: "internal error (check server logs)"}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := statusFor(err)
	var rlErr *domain.RateLimitError
	if errors.As(err, &rlErr) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rlErr)))
	}
	writeJSON(w, status, body)
}

// retryAfterSeconds rounds up so a client never retries before the window
// has expired.
func retryAfterSeconds(e *domain.RateLimitError) int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	return max(secs, 1)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
