package embedding

import (
	"context"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryCache is a process-local vector cache.
type MemoryCache struct {
	cache *cache.Cache
}

func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	// Purge expired vectors every 10 minutes
	return &MemoryCache{
		cache: cache.New(defaultTTL, 10*time.Minute),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	if x, found := c.cache.Get(key); found {
		return slices.Clone(x.([]float32)), true, nil
	}
	return nil, false, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, vector []float32, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}
	stored := make([]float32, len(vector))
	copy(stored, vector)
	c.cache.Set(key, stored, ttl)
	return nil
}
