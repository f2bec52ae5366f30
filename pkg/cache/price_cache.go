// Package cache provides a small freshness-aware price cache fed by the
// websocket stream and consulted before falling back to REST lookups.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	price     float64
	updatedAt time.Time
}

// PriceCache stores the latest known price per symbol.
type PriceCache struct {
	mu    sync.RWMutex
	items map[string]entry
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{items: make(map[string]entry)}
}

// Set stores a price for a symbol.
func (c *PriceCache) Set(symbol string, price float64) {
	c.mu.Lock()
	c.items[symbol] = entry{price: price, updatedAt: time.Now()}
	c.mu.Unlock()
}

// Get retrieves the last price for a symbol regardless of age.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	c.mu.RLock()
	e, ok := c.items[symbol]
	c.mu.RUnlock()
	return e.price, ok
}

// GetFresh retrieves a price only if it is younger than maxAge.
func (c *PriceCache) GetFresh(symbol string, maxAge time.Duration) (float64, bool) {
	c.mu.RLock()
	e, ok := c.items[symbol]
	c.mu.RUnlock()
	if !ok || time.Since(e.updatedAt) > maxAge {
		return 0, false
	}
	return e.price, true
}

// Len returns the number of cached symbols.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Cleanup removes entries older than maxAge and reports how many.
func (c *PriceCache) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	c.mu.Lock()
	for sym, e := range c.items {
		if e.updatedAt.Before(cutoff) {
			delete(c.items, sym)
			removed++
		}
	}
	c.mu.Unlock()
	return removed
}
