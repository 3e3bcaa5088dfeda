// Package memstore holds process-local implementations of the gateway's
// storage ports. Counters do not survive a restart and are not shared between
// replicas.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/port"
)

type entry struct {
	value     int64
	expiresAt time.Time // zero = no expiry
}

// CounterStore is a mutex-guarded map with lazy expiry.
type CounterStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewCounterStore() *CounterStore {
	return &CounterStore{entries: make(map[string]entry), now: time.Now}
}

// NewCounterStoreWithClock is for tests that need to move time forward.
func NewCounterStoreWithClock(now func() time.Time) *CounterStore {
	return &CounterStore{entries: make(map[string]entry), now: now}
}

// lookup returns the live entry for key, evicting it if expired. Caller holds mu.
func (s *CounterStore) lookup(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *CounterStore) Get(_ context.Context, key string) (port.Counter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return port.Counter{}, false, nil
	}
	c := port.Counter{Value: e.value}
	if !e.expiresAt.IsZero() {
		c.TTL = e.expiresAt.Sub(s.now())
	}
	return c, true, nil
}

func (s *CounterStore) CompareAndSwap(_ context.Context, key string, old, newValue int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if e.value != old {
		return false, nil
	}
	if !ok && ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	e.value = newValue
	s.entries[key] = e
	return true, nil
}

func (s *CounterStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil
	}
	e.expiresAt = s.now().Add(ttl)
	s.entries[key] = e
	return nil
}

// Len reports the number of live keys.
func (s *CounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.entries {
		if _, ok := s.lookup(k); ok {
			n++
		}
	}
	return n
}
