package embedding

import (
	"context"
	"time"
)

// Cache stores vectors keyed by a hash of the normalized input text.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32, ttl time.Duration) error
}

// NoopCache never hits. Used when caching is disabled.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]float32, bool, error) { return nil, false, nil }

func (NoopCache) Set(context.Context, string, []float32, time.Duration) error { return nil }
