// Package cache is a bounded TTL result cache for read-mostly queries.
//
// Keys are derived from an entity name, an operation name and the operation
// arguments. Each entity carries a generation counter that is part of every
// key, so Invalidate(entity) orphans all earlier results for that entity and
// ristretto evicts them as they age out.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/goccy/go-json"

	"github.com/kevinaaaquil/kremlib/metrics"
)

// Entities used by the HTTP layer.
const (
	EntityBooks      = "books"
	EntityCategories = "categories"
)

type Cache struct {
	store *ristretto.Cache[string, any]
	ttl   time.Duration

	mu   sync.RWMutex
	gens map[string]uint64
}

func New(maxEntries int64, ttl time.Duration) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{store: store, ttl: ttl, gens: make(map[string]uint64)}, nil
}

func (c *Cache) generation(entity string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[entity]
}

// Key builds the cache key for name(args...) scoped to entity.
func (c *Cache) Key(entity, name string, args ...any) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("cache key %s: %w", name, err)
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s:%d:%s:%s", entity, c.generation(entity), name, hex.EncodeToString(sum[:12])), nil
}

func (c *Cache) Get(key string) (any, bool) {
	return c.store.Get(key)
}

// Set stores v and waits until it is visible to Get.
func (c *Cache) Set(key string, v any) {
	c.store.SetWithTTL(key, v, 1, c.ttl)
	c.store.Wait()
}

// Invalidate drops every cached result for the given entities.
func (c *Cache) Invalidate(entities ...string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entities {
		c.gens[e]++
	}
}

func (c *Cache) Close() {
	c.store.Close()
}

// Remember returns the cached result of name(args...) or computes, stores and
// returns it. Errors are never cached. A nil cache always computes.
func Remember[T any](c *Cache, entity, name string, args []any, fn func() (T, error)) (T, error) {
	if c == nil {
		return fn()
	}
	key, err := c.Key(entity, name, args...)
	if err != nil {
		return fn()
	}
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			metrics.RecordCache(entity, true)
			return typed, nil
		}
	}
	metrics.RecordCache(entity, false)

	out, err := fn()
	if err != nil {
		return out, err
	}
	c.Set(key, out)
	return out, nil
}
