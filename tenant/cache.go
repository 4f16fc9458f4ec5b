// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package tenant

import (
	"sync"
	"time"
)

// cacheEntry is a cached tenant snapshot with expiration
type cacheEntry struct {
	value     *Tenant
	expiresAt time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is a thread-safe TTL cache of tenant records keyed by tenant ID.
// It keeps gate checks off the database on the hot path; a short TTL
// bounds how long a stale toggle can keep gating decisions.
type Cache struct {
	entries map[string]*cacheEntry
	ttl     time.Duration
	mu      sync.RWMutex

	hits   int64
	misses int64
}

// NewCache creates a tenant cache with the given TTL
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// Get returns a cached tenant, or nil and false on miss or expiry
func (c *Cache) Get(tenantID string) (*Tenant, bool) {
	c.mu.RLock()
	entry, ok := c.entries[tenantID]
	c.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return entry.value, true
}

// Set caches a tenant record
func (c *Cache) Set(t *Tenant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[t.ID] = &cacheEntry{value: t, expiresAt: time.Now().Add(c.ttl)}
}

// Invalidate drops a tenant from the cache, for use after updates
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
}

// Stats returns hit and miss counts
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
