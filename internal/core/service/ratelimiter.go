package service

import (
	"context"
	"fmt"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
)

const (
	DefaultRateLimitMax    = 10
	DefaultRateLimitWindow = 60 * time.Second

	// DefaultCASAttempts bounds the compare-and-swap loop under contention.
	DefaultCASAttempts = 16
)

// RateLimiter is a fixed-window, per-principal admission counter. All state
// lives in the injected CounterStore, so several gateway replicas sharing one
// store enforce a single quota.
type RateLimiter struct {
	store       port.CounterStore
	maxRequests int
	window      time.Duration
	casAttempts int
	now         func() time.Time
}

func NewRateLimiter(store port.CounterStore, maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = DefaultRateLimitMax
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimiter{
		store:       store,
		maxRequests: maxRequests,
		window:      window,
		casAttempts: DefaultCASAttempts,
		now:         time.Now,
	}
}

// SetCASAttempts changes how many times Admit retries a lost counter update
// before giving up with domain.ErrCounterContention. Values below one are
// ignored.
func (r *RateLimiter) SetCASAttempts(n int) {
	if n > 0 {
		r.casAttempts = n
	}
}

func counterKey(principalID string) string {
	return "ratelimit:" + principalID
}

// Admit counts one request for principalID and returns how many remain in the
// current window. Once the window is full it returns *domain.RateLimitError
// without incrementing. Store failures are returned as errors; callers treat
// them as a rejection.
//
// Each lost compare-and-swap is retried up to the configured attempt bound.
// A burst of concurrent requests from one principal can exhaust that bound
// while quota remains, in which case Admit returns domain.ErrCounterContention
// (503 over HTTP) and the request is not counted.
func (r *RateLimiter) Admit(ctx context.Context, principalID string) (int, error) {
	key := counterKey(principalID)

	for range r.casAttempts {
		c, found, err := r.store.Get(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("reading rate limit counter: %w", err)
		}

		var current int64
		if found {
			current = c.Value
			if c.TTL <= 0 {
				// A counter that never expires would lock the principal out.
				if err := r.store.Expire(ctx, key, r.window); err != nil {
					return 0, fmt.Errorf("repairing rate limit expiry: %w", err)
				}
				c.TTL = r.window
			}
		}

		if current >= int64(r.maxRequests) {
			return 0, &domain.RateLimitError{
				Limit:      r.maxRequests,
				Window:     r.window,
				RetryAfter: c.TTL,
			}
		}

		swapped, err := r.store.CompareAndSwap(ctx, key, current, current+1, r.window)
		if err != nil {
			return 0, fmt.Errorf("updating rate limit counter: %w", err)
		}
		if swapped {
			return r.maxRequests - int(current+1), nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}

	return 0, domain.ErrCounterContention
}

// State reports the principal's current window without consuming quota.
func (r *RateLimiter) State(ctx context.Context, principalID string) (domain.RateLimitState, error) {
	state := domain.RateLimitState{
		PrincipalID:  principalID,
		WindowStart:  r.now(),
		WindowLength: r.window,
		MaxRequests:  r.maxRequests,
	}

	c, found, err := r.store.Get(ctx, counterKey(principalID))
	if err != nil {
		return state, fmt.Errorf("reading rate limit counter: %w", err)
	}
	if !found {
		return state, nil
	}

	state.Count = int(c.Value)
	if c.TTL > 0 && c.TTL <= r.window {
		state.WindowStart = r.now().Add(c.TTL - r.window)
	}
	return state, nil
}
