package embeddings

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore is a read-through LRU in front of another Store
type CachedStore struct {
	Store
	cache *lru.Cache[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedStore wraps store with an LRU holding up to size vectors
func NewCachedStore(store Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: store, cache: cache}, nil
}

// Embedding returns a cached vector or loads it from the wrapped store
func (c *CachedStore) Embedding(ctx context.Context, moduleID string) ([]float32, error) {
	if vec, ok := c.cache.Get(moduleID); ok {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	vec, err := c.Store.Embedding(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if vec != nil {
		c.cache.Add(moduleID, vec)
	}
	return vec, nil
}

// Embeddings serves what it can from the cache and loads the rest in one call
func (c *CachedStore) Embeddings(ctx context.Context, ids []string) (map[string][]float32, error) {
	result := make(map[string][]float32, len(ids))
	var missing []string
	for _, id := range ids {
		if vec, ok := c.cache.Get(id); ok {
			c.hits.Add(1)
			result[id] = vec
			continue
		}
		c.misses.Add(1)
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	loaded, err := c.Store.Embeddings(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, vec := range loaded {
		c.cache.Add(id, vec)
		result[id] = vec
	}
	return result, nil
}

// SaveEmbedding writes through and refreshes the cached vector
func (c *CachedStore) SaveEmbedding(ctx context.Context, moduleID string, vec []float32) error {
	if err := c.Store.SaveEmbedding(ctx, moduleID, vec); err != nil {
		c.cache.Remove(moduleID)
		return err
	}
	c.cache.Add(moduleID, vec)
	return nil
}

// Forget drops a cached vector, e.g. after the module content changed
func (c *CachedStore) Forget(moduleID string) {
	c.cache.Remove(moduleID)
}

// Stats returns cache statistics
func (c *CachedStore) Stats() map[string]interface{} {
	return map[string]interface{}{
		"size":   c.cache.Len(),
		"hits":   c.hits.Load(),
		"misses": c.misses.Load(),
	}
}
