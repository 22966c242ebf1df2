// Copyright 2020 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package sharedlru implements a bounded, thread-safe LRU cache that
// hands out shared read-only handles to its values. A handle obtained
// from Get or Insert stays valid after the entry it came from has been
// evicted or overwritten, so callers may hold results for as long as
// they like without pinning the cache's contents.
//
// Recency is tracked with a monotonic nanosecond stamp per entry and
// eviction scans for the smallest stamp. The scan is linear in the
// number of entries; there is no recency list.
package sharedlru

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Handle is a shared, read-only view of a cached value. The zero
// Handle refers to nothing; handles returned alongside ok == true
// always refer to a value.
type Handle[Value any] struct {
	v *Value
}

// Value returns the value the handle refers to. It panics on the zero
// Handle.
func (h Handle[Value]) Value() Value {
	return *h.v
}

type lruEntry[Value any] struct {
	lastAccess time.Duration // monotonic, relative to the cache's start
	handle     Handle[Value]
}

// Cache is a fixed-capacity LRU cache. All operations are safe for
// concurrent use. A Cache must be created with WithLimit.
type Cache[Key comparable, Value any] struct {
	mu      sync.RWMutex // protect limit and entries
	limit   int          // max number of entries
	entries map[Key]*lruEntry[Value]
	start   time.Time // origin for lastAccess stamps

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// WithLimit returns an empty cache holding at most limit entries.
// It panics if limit is less than one: a zero-capacity cache has no
// well-defined eviction behavior, and the misuse is never clamped.
func WithLimit[Key comparable, Value any](limit int) *Cache[Key, Value] {
	if limit < 1 {
		panic("invalid limit")
	}
	return &Cache[Key, Value]{
		limit:   limit,
		entries: make(map[Key]*lruEntry[Value], limit),
		start:   time.Now(),
	}
}

// stamp returns the current monotonic time relative to the cache's
// start. time.Since reads the monotonic clock, so stamps never go
// backwards under wall-clock adjustments. On platforms with a coarse
// monotonic clock, operations close together can receive identical
// stamps; such entries tie during eviction and the loser falls to map
// iteration order.
func (c *Cache[Key, Value]) stamp() time.Duration {
	return time.Since(c.start)
}

// evictOldest removes the entry with the smallest lastAccess and
// returns its handle. Entries sharing an identical stamp are broken
// by map iteration order. Must not be called on an empty cache.
func (c *Cache[Key, Value]) evictOldest() Handle[Value] {
	var oldestKey Key
	var oldest *lruEntry[Value]
	for key, ent := range c.entries {
		if oldest == nil || ent.lastAccess < oldest.lastAccess {
			oldestKey, oldest = key, ent
		}
	}
	delete(c.entries, oldestKey)
	c.evictions.Inc()
	return oldest.handle
}

// Get returns the handle for key and refreshes the entry's recency.
// The lookup and the recency update are a single critical section. A
// miss is a normal outcome, reported as (zero Handle, false).
func (c *Cache[Key, Value]) Get(key Key) (Handle[Value], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[key]
	if !ok {
		c.misses.Inc()
		return Handle[Value]{}, false
	}
	ent.lastAccess = c.stamp()
	c.hits.Inc()
	return ent.handle, true
}

// Insert stores value under key, wrapped in a fresh handle stamped
// with the current time. If the cache is full and key is not already
// present, the least recently used entry is evicted first; the scan is
// linear in the current size. Inserting an existing key replaces its
// entry without evicting, and the replaced entry's handle is returned.
// Evicted entries are never returned.
func (c *Cache[Key, Value]) Insert(key Key, value Value) (prev Handle[Value], replaced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.entries[key]
	if !ok && len(c.entries) >= c.limit {
		c.evictOldest()
	}
	if ok {
		prev, replaced = old.handle, true
	}
	c.entries[key] = &lruEntry[Value]{
		lastAccess: c.stamp(),
		handle:     Handle[Value]{v: &value},
	}
	return prev, replaced
}

// Delete removes the entry for key if present.
func (c *Cache[Key, Value]) Delete(key Key) (prev Handle[Value], deleted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[key]
	if !ok {
		return Handle[Value]{}, false
	}
	delete(c.entries, key)
	return ent.handle, true
}

// Len returns the number of entries currently in the cache.
func (c *Cache[Key, Value]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Limit returns the cache's capacity.
func (c *Cache[Key, Value]) Limit() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limit
}

// Contains returns true if the key exists. It does not refresh the
// entry's recency.
func (c *Cache[Key, Value]) Contains(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Peek returns the handle for key without refreshing the entry's
// recency and without touching the hit/miss counters.
func (c *Cache[Key, Value]) Peek(key Key) (Handle[Value], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ent, ok := c.entries[key]; ok {
		return ent.handle, true
	}
	return Handle[Value]{}, false
}

// Resize sets the cache's capacity. If the new limit is less than the
// number of entries currently in the cache, the least recently used
// entries are evicted until the limit fits; their handles are returned
// oldest first. This operation will panic if the limit is less than
// one.
func (c *Cache[Key, Value]) Resize(limit int) (evicted []Handle[Value]) {
	if limit < 1 {
		panic("invalid limit")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.entries) > limit {
		evicted = append(evicted, c.evictOldest())
	}
	c.limit = limit
	return evicted
}

type rankedEntry[Key comparable, Value any] struct {
	key        Key
	handle     Handle[Value]
	lastAccess time.Duration
}

// byRecency snapshots all entries ordered most to least recently used.
func (c *Cache[Key, Value]) byRecency() []rankedEntry[Key, Value] {
	c.mu.RLock()
	items := make([]rankedEntry[Key, Value], 0, len(c.entries))
	for key, ent := range c.entries {
		items = append(items, rankedEntry[Key, Value]{key, ent.handle, ent.lastAccess})
	}
	c.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool {
		return items[i].lastAccess > items[j].lastAccess
	})
	return items
}

// Range iterates over a snapshot of the cache in the order of most
// recently to least recently used entries. Iteration does not refresh
// recency and stops early when iter returns false.
func (c *Cache[Key, Value]) Range(iter func(key Key, handle Handle[Value]) bool) {
	items := c.byRecency()
	for i := 0; i < len(items); i++ {
		if !iter(items[i].key, items[i].handle) {
			return
		}
	}
}

// Reverse iterates over a snapshot of the cache in the order of least
// recently to most recently used entries.
func (c *Cache[Key, Value]) Reverse(iter func(key Key, handle Handle[Value]) bool) {
	items := c.byRecency()
	for i := len(items) - 1; i >= 0; i-- {
		if !iter(items[i].key, items[i].handle) {
			return
		}
	}
}

// Stats is a point-in-time snapshot of the cache's counters.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Limit is the cache's capacity.
	Limit int
	// Hits is the number of Get calls that found an entry.
	Hits uint64
	// Misses is the number of Get calls that found nothing.
	Misses uint64
	// HitRate is Hits over all Get calls (0.0 to 1.0).
	HitRate float64
	// Evictions is the number of entries removed to make room.
	Evictions uint64
}

// Stats returns current cache statistics. The counters are atomic, so
// reading them never contends with the map lock.
func (c *Cache[Key, Value]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Len:       c.Len(),
		Limit:     c.Limit(),
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
		Evictions: c.evictions.Load(),
	}
}

// ResetStats resets all statistics counters to zero.
func (c *Cache[Key, Value]) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}
