// Package cache provides a small TTL cache for passthrough responses (the
// meta_knowledge_graph endpoint), generalizing the teacher's cache[[]byte]
// abstraction with an in-memory ristretto store behind eko/gocache's generic
// cache.Cache.
package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
)

// Cache is a TTL-bounded byte-slice cache.
type Cache struct {
	store *gocache.Cache[[]byte]
	ttl   time.Duration
}

// New creates a Cache backed by a ristretto in-memory store. Every entry
// expires after ttl.
func New(ttl time.Duration) (*Cache, error) {
	rcache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e7,     // 10x the expected number of distinct keys.
		MaxCost:     1 << 28, // 256MiB of cached passthrough responses.
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{
		store: gocache.New[[]byte](ristretto_store.NewRistretto(rcache)),
		ttl:   ttl,
	}, nil
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set stores value under key with the cache's configured TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	return c.store.Set(ctx, key, value, store.WithExpiration(c.ttl))
}

// Delete evicts key, if present.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}
