// Package coalesce deduplicates concurrent identical lookups and caches their results for a TTL.
package coalesce

import (
	"context"
	"time"

	"chess-live-rating/internal/metrics"

	"golang.org/x/sync/singleflight"
)

type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool)
	Set(ctx context.Context, key string, value T, ttl time.Duration)
}

type Producer[T any] func(ctx context.Context) (T, error)

// Group runs at most one producer per key at a time. Callers arriving while a producer is in
// flight share its result. Only successful results are cached.
type Group[T any] struct {
	name   string
	cache  Cache[T]
	flight singleflight.Group
}

func New[T any](name string, cache Cache[T]) *Group[T] {
	return &Group[T]{name: name, cache: cache}
}

// Get returns a live cached value for key, joins an in-flight producer for key, or starts one.
// When the producer fails its value (possibly partial) is still returned alongside the error.
func (g *Group[T]) Get(ctx context.Context, key string, ttl time.Duration, produce Producer[T]) (T, error) {
	if v, ok := g.cache.Get(ctx, key); ok {
		metrics.RecordCacheHit(g.name)
		return v, nil
	}
	metrics.RecordCacheMiss(g.name)

	// shared producers must not die with whichever caller happened to start them
	flightCtx := context.WithoutCancel(ctx)

	res, err, _ := g.flight.Do(key, func() (any, error) {
		if v, ok := g.cache.Get(flightCtx, key); ok {
			return v, nil
		}
		v, err := produce(flightCtx)
		if err == nil {
			g.cache.Set(flightCtx, key, v, ttl)
		}
		return v, err
	})

	v, _ := res.(T)
	return v, err
}

// Forget drops the cached value for key. An in-flight producer is unaffected.
func (g *Group[T]) Forget(ctx context.Context, key string) {
	if d, ok := g.cache.(interface {
		Delete(ctx context.Context, key string)
	}); ok {
		d.Delete(ctx, key)
	}
}
