// Package cache holds small in-process caches whose entries expire against an
// injected clock.
package cache

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so expiry can be driven from tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a concurrency-safe map whose entries vanish once their expiry passes.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	clock   Clock
	ttl     time.Duration
	entries map[K]entry[V]
}

// NewTTL builds a cache with a default lifetime used by Set.
func NewTTL[K comparable, V any](ttl time.Duration, clock Clock) *TTL[K, V] {
	if clock == nil {
		clock = SystemClock
	}
	return &TTL[K, V]{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[K]entry[V]),
	}
}

// Get returns the live value for key. Expired entries are evicted on read.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value for the default lifetime.
func (c *TTL[K, V]) Set(key K, value V) {
	c.SetUntil(key, value, c.clock.Now().Add(c.ttl))
}

// SetUntil stores value until an absolute expiry. A past expiry is a no-op.
func (c *TTL[K, V]) SetUntil(key K, value V, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.clock.Now().Before(expiresAt) {
		delete(c.entries, key)
		return
	}
	c.entries[key] = entry[V]{value: value, expiresAt: expiresAt}
}

func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len counts entries including ones that expired but were not read since.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every expired entry and reports how many went.
func (c *TTL[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
