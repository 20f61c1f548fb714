// Package cache provides a bounded in-memory TTL cache.
package cache

import (
	"sync"
	"time"
)

// entry is a stored value with expiry and size accounting.
type entry[V any] struct {
	value     V
	bytes     int
	expiresAt time.Time
	storedAt  time.Time
}

// Options configures a Cache.
type Options struct {
	TTL        time.Duration // per-entry lifetime; 0 means no expiry
	MaxEntries int           // 0 means unbounded
	MaxBytes   int64         // total byte budget; 0 means unbounded
}

// Cache is a thread-safe TTL cache with bounded entries and bytes.
// Reads are non-blocking apart from the read lock; writes evict the oldest
// entries when either bound would be exceeded.
type Cache[V any] struct {
	mu      sync.RWMutex
	opts    Options
	items   map[string]entry[V]
	total   int64
	hits    int64
	misses  int64
	nowFunc func() time.Time
}

// New creates a Cache with the given options.
func New[V any](opts Options) *Cache[V] {
	return &Cache[V]{
		opts:    opts,
		items:   make(map[string]entry[V]),
		nowFunc: time.Now,
	}
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		var zero V
		return zero, false
	}

	if !it.expiresAt.IsZero() && c.nowFunc().After(it.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another writer may have replaced it
		if cur, ok := c.items[key]; ok && cur.storedAt.Equal(it.storedAt) {
			c.total -= int64(cur.bytes)
			delete(c.items, key)
		}
		c.misses++
		c.mu.Unlock()
		var zero V
		return zero, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return it.value, true
}

// Set stores a value with the given byte size.
func (c *Cache[V]) Set(key string, value V, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	if old, ok := c.items[key]; ok {
		c.total -= int64(old.bytes)
	}

	var expiresAt time.Time
	if c.opts.TTL > 0 {
		expiresAt = now.Add(c.opts.TTL)
	}

	c.items[key] = entry[V]{value: value, bytes: size, expiresAt: expiresAt, storedAt: now}
	c.total += int64(size)

	c.evictLocked()
}

// Delete removes a key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		c.total -= int64(it.bytes)
		delete(c.items, key)
	}
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry[V])
	c.total = 0
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats reports hit/miss counters and current byte usage.
func (c *Cache[V]) Stats() (hits, misses, bytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, c.total
}

// evictLocked drops expired entries first, then the oldest entries until both
// bounds are satisfied. Caller must hold the write lock.
func (c *Cache[V]) evictLocked() {
	now := c.nowFunc()
	for key, it := range c.items {
		if !it.expiresAt.IsZero() && now.After(it.expiresAt) {
			c.total -= int64(it.bytes)
			delete(c.items, key)
		}
	}

	for c.overBudgetLocked() {
		oldestKey := ""
		var oldestAt time.Time
		for key, it := range c.items {
			if oldestKey == "" || it.storedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = it.storedAt
			}
		}
		if oldestKey == "" {
			return
		}
		c.total -= int64(c.items[oldestKey].bytes)
		delete(c.items, oldestKey)
	}
}

func (c *Cache[V]) overBudgetLocked() bool {
	if c.opts.MaxEntries > 0 && len(c.items) > c.opts.MaxEntries {
		return true
	}
	if c.opts.MaxBytes > 0 && c.total > c.opts.MaxBytes {
		return true
	}
	return false
}
