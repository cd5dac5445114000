// SPDX-License-Identifier: MIT

// Package cache provides a small in-process TTL cache. Its one consumer is
// the settings bridge, which tolerates up to 30 seconds of staleness per key
// rather than hitting the settings store on every read.
package cache

import (
	"sync"
	"time"
)

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a thread-safe map with per-entry expiry and a background janitor.
type TTL[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	stats   Stats

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a TTL cache. A positive cleanupInterval starts a janitor
// goroutine that evicts expired entries; Stop terminates it.
func New[V any](cleanupInterval time.Duration) *TTL[V] {
	c := &TTL[V]{
		entries: make(map[string]entry[V]),
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	}
	return c
}

// Get returns the cached value when present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	return e.value, true
}

// Set stores a value with the given TTL.
func (c *TTL[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	c.stats.Sets++
}

// Delete removes one key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Stats returns a snapshot of the counters.
func (c *TTL[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.CurrentSize = len(c.entries)
	return s
}

// Stop terminates the janitor goroutine. Safe to call more than once.
func (c *TTL[V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *TTL[V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *TTL[V]) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
}
