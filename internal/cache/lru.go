// Package cache provides a thread-safe LRU cache, used as the
// parsed-object cache in odb. Pack mappings are not tracked by it:
// package packfile keeps each pack mapped until the Pack is closed.
package cache

import (
	"sync"

	lru "github.com/golang/groupcache/lru"
)

// Key is any comparable value usable as a cache key.
type Key = lru.Key

// LRU is a synchronized wrapper around groupcache's lru.Cache.
type LRU struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// New returns a new LRU cache. A maxEntries of 0 means no limit; the
// caller is then responsible for eviction.
func New(maxEntries int) *LRU {
	return &LRU{cache: lru.New(maxEntries)}
}

// Get looks up key.
func (c *LRU) Get(key Key) (value interface{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(key)
}

// Add inserts or updates key. If the cache is configured with an
// OnEvicted callback, it may run synchronously from within Add.
func (c *LRU) Add(key Key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, value)
}

// Remove deletes key, if present.
func (c *LRU) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(key)
}

// OnEvicted sets the callback run when an entry is evicted. Must be
// called before any Add.
func (c *LRU) OnEvicted(f func(key Key, value interface{})) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.OnEvicted = f
}

// Len returns the number of items currently cached.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
