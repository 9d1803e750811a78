package market

import (
	"sync"
	"time"
)

// Cache is a short-TTL read cache keyed by (symbol, operation). There
// are no writers behind it, so entries expire by TTL only.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[cacheKey]cacheEntry
}

type cacheKey struct {
	symbol string
	op     string
}

type cacheEntry struct {
	value    any
	storedAt time.Time
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[cacheKey]cacheEntry),
	}
}

func (c *Cache) Get(symbol, op string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey{symbol: symbol, op: op}]
	c.mu.RUnlock()
	if !ok || time.Since(entry.storedAt) > c.ttl {
		return nil, false
	}
	return entry.value, true
}

func (c *Cache) Set(symbol, op string, value any) {
	c.mu.Lock()
	c.entries[cacheKey{symbol: symbol, op: op}] = cacheEntry{
		value:    value,
		storedAt: time.Now(),
	}
	c.mu.Unlock()
}

// Sweep drops expired entries; call it periodically from the owner to
// keep long-running processes bounded.
func (c *Cache) Sweep() {
	now := time.Now()
	c.mu.Lock()
	for k, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
