// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

type cacheKey struct {
	bucket string
	key    policy.Key
}

// Cache maps (start bucket, key) to a terminal decision. Only ALLOW
// and DENY decisions are stored. The cache has no eviction: it is
// cleared wholesale on every policy change, and the key space between
// changes is bounded by the clients actually checking.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]policy.Decision
	hits    uint64
	misses  uint64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]policy.Decision)}
}

// Get returns the cached decision for key checked from bucket.
func (c *Cache) Get(bucket string, key policy.Key) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	decision, ok := c.entries[cacheKey{bucket, key}]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return decision, ok
}

// Put stores decision unless its result is not terminal.
func (c *Cache) Put(bucket string, key policy.Key, decision policy.Decision) {
	if !decision.Result.Type.IsTerminal() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{bucket, key}] = decision
}

// Clear drops every entry and returns how many there were.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := len(c.entries)
	clear(c.entries)
	return count
}

// Len returns the number of cached decisions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the hit and miss counters since creation.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
