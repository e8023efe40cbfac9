// Package cache memoizes assembled predictions by image fingerprint. It
// guarantees at most one concurrent computation per key: a second caller
// arriving while a computation is in flight waits for and shares that
// result instead of triggering a duplicate pair of provider calls.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache is a content-addressed memoization layer with single-flight
// de-duplication, per-entry TTL and LRU eviction at capacity. Entries are
// never mutated in place, only replaced wholesale by a fresh computation.
// Different keys never contend with each other beyond the store's own
// sharding.
type Cache[V any] struct {
	entries *lru.LRU[string, V]
	group   singleflight.Group
}

// New creates a cache holding up to maxEntries values for up to ttl each.
func New[V any](maxEntries int, ttl time.Duration) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache[V]{
		entries: lru.NewLRU[string, V](maxEntries, nil, ttl),
	}
}

// GetOrCompute returns the cached value for key, or runs compute exactly
// once across concurrent callers and stores its result. Failed computations
// are not cached.
func (c *Cache[V]) GetOrCompute(key string, compute func() (V, error)) (V, bool, error) {
	if v, ok := c.entries.Get(key); ok {
		return v, true, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a racing caller may have stored the
		// entry between our lookup and Do.
		if v, ok := c.entries.Get(key); ok {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			return v, err
		}
		c.entries.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return v.(V), shared, nil
}

// Invalidate removes the entry for key, if present.
func (c *Cache[V]) Invalidate(key string) {
	c.entries.Remove(key)
}

// Len reports the number of live entries.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}
