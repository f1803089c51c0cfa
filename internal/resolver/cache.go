package resolver

import (
	"sync"
	"time"
)

// cache is a TTL map that keeps expired entries around. Readers ask for a
// fresh value first; when a refresh fails they fall back to whatever is
// still held, however old. Entries are only replaced, never evicted.
type cache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     interface{}
	fetchedAt time.Time
}

func newCache(ttl time.Duration) *cache {
	return &cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// get returns the cached value and whether it is still within its TTL.
func (c *cache) get(key string) (value interface{}, fresh, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, false
	}
	return e.value, time.Since(e.fetchedAt) <= c.ttl, true
}

func (c *cache) put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, fetchedAt: time.Now()}
}
