package coalesce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGroup_ConcurrentCallersShareOneProducer(t *testing.T) {
	g := New[[]string]("test", NewMemoryCache[[]string]())

	var calls atomic.Int32
	release := make(chan struct{})
	produce := func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		<-release
		return []string{"Open de Bilbao"}, nil
	}

	const callers = 20
	var started, done sync.WaitGroup
	results := make([][]string, callers)
	for i := 0; i < callers; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			v, err := g.Get(context.Background(), "123-2026-10-01", time.Hour, produce)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, []string{"Open de Bilbao"}, r)
	}
}

func TestGroup_FailuresAreNotCached(t *testing.T) {
	g := New[int]("test", NewMemoryCache[int]())
	ctx := context.Background()

	var calls int
	produce := func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 7, errors.New("upstream down")
		}
		return 42, nil
	}

	v, err := g.Get(ctx, "k", time.Hour, produce)
	require.Error(t, err)
	assert.Equal(t, 7, v, "partial value is returned with the error")

	v, err = g.Get(ctx, "k", time.Hour, produce)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = g.Get(ctx, "k", time.Hour, produce)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
}

func TestGroup_ExpiredEntryIsRecomputed(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	g := New[int]("test", NewMemoryCacheWithClock[int](clock.Now))
	ctx := context.Background()

	var calls int
	produce := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, _ := g.Get(ctx, "k", time.Hour, produce)
	assert.Equal(t, 1, v)

	clock.Advance(59 * time.Minute)
	v, _ = g.Get(ctx, "k", time.Hour, produce)
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute)
	v, _ = g.Get(ctx, "k", time.Hour, produce)
	assert.Equal(t, 2, v)
}

func TestGroup_ProducerSurvivesCallerCancellation(t *testing.T) {
	g := New[string]("test", NewMemoryCache[string]())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := g.Get(ctx, "k", time.Hour, func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestGroup_Forget(t *testing.T) {
	g := New[int]("test", NewMemoryCache[int]())
	ctx := context.Background()

	var calls int
	produce := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	_, _ = g.Get(ctx, "k", time.Hour, produce)
	g.Forget(ctx, "k")
	v, _ := g.Get(ctx, "k", time.Hour, produce)
	assert.Equal(t, 2, v)
}

func TestMemoryCache_NonPositiveTTLIsNotStored(t *testing.T) {
	c := NewMemoryCache[string]()
	c.Set(context.Background(), "k", "v", 0)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestMemoryCache_SweepsExpiredEntriesOnWrite(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	c := NewMemoryCacheWithClock[int](clock.Now)
	ctx := context.Background()

	for _, id := range []string{"profile:1", "profile:2", "profile:3"} {
		c.Set(ctx, id, 1800, 10*time.Minute)
	}
	require.Equal(t, 3, c.Len())

	clock.Advance(15 * time.Minute)
	c.Set(ctx, "profile:4", 1900, 10*time.Minute)

	assert.Equal(t, 1, c.Len(), "entries never read again are dropped")
	v, ok := c.Get(ctx, "profile:4")
	assert.True(t, ok)
	assert.Equal(t, 1900, v)
}
