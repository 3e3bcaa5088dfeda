package port

import (
	"context"
	"time"
)

// Counter is a stored integer with its remaining time to live. TTL is zero or
// negative when the key has no expiry.
type Counter struct {
	Value int64
	TTL   time.Duration
}

// CounterStore is an expiring key-value store with an atomic compare-and-swap.
type CounterStore interface {
	// Get returns the counter and whether the key exists.
	Get(ctx context.Context, key string) (Counter, bool, error)
	// CompareAndSwap sets key to newValue only if its current value is old.
	// A missing key compares equal to 0. When the key is created, ttl becomes
	// its expiry; an existing key keeps its expiry.
	CompareAndSwap(ctx context.Context, key string, old, newValue int64, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
