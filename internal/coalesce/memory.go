package coalesce

import (
	"context"
	"sync"
	"time"
)

type entry[T any] struct {
	value   T
	expires time.Time
}

// sweepInterval bounds how often Set scans for expired entries.
const sweepInterval = time.Minute

// MemoryCache is a process-local TTL cache. Expired entries are dropped on read and swept
// periodically on write, so keys that are never read again do not accumulate.
type MemoryCache[T any] struct {
	mu        sync.Mutex
	entries   map[string]entry[T]
	now       func() time.Time
	nextSweep time.Time
}

func NewMemoryCache[T any]() *MemoryCache[T] {
	return NewMemoryCacheWithClock[T](time.Now)
}

func NewMemoryCacheWithClock[T any](now func() time.Time) *MemoryCache[T] {
	return &MemoryCache[T]{entries: make(map[string]entry[T]), now: now}
}

func (c *MemoryCache[T]) Get(_ context.Context, key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		var zero T
		return zero, false
	}
	return e.value, true
}

func (c *MemoryCache[T]) Set(_ context.Context, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !now.Before(c.nextSweep) {
		c.sweep(now)
		c.nextSweep = now.Add(sweepInterval)
	}
	c.entries[key] = entry[T]{value: value, expires: now.Add(ttl)}
}

func (c *MemoryCache[T]) sweep(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}

// Len reports the number of stored entries, expired ones included until they are swept.
func (c *MemoryCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache[T]) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
