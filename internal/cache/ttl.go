// Package cache provides a single-slot in-memory cache with a time-to-live.
package cache

import (
	"sync"
	"time"
)

// TTL holds one value that is fresh for a fixed duration after it is set.
// Expired values stay readable through Stale until replaced or invalidated.
type TTL[T any] struct {
	mu        sync.RWMutex
	value     T
	set       bool
	expiresAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewTTL creates an empty cache whose entries expire after ttl.
func NewTTL[T any](ttl time.Duration, opts ...Option) *TTL[T] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return &TTL[T]{ttl: ttl, now: o.now}
}

// Get returns the cached value if it has not expired.
func (c *TTL[T]) Get() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.set || !c.now().Before(c.expiresAt) {
		var zero T
		return zero, false
	}
	return c.value, true
}

// Stale returns the last value set, ignoring expiry.
func (c *TTL[T]) Stale() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set
}

// Set stores v and restarts the expiry window.
func (c *TTL[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = v
	c.set = true
	c.expiresAt = c.now().Add(c.ttl)
}

// Invalidate drops the cached value.
func (c *TTL[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	c.value = zero
	c.set = false
	c.expiresAt = time.Time{}
}

// ExpiresAt reports when the current value goes stale.
func (c *TTL[T]) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}
