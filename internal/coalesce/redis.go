package coalesce

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisCache shares cached values between processes. Values are stored as JSON.
// Redis failures degrade to cache misses.
type RedisCache[T any] struct {
	client redis.Cmdable
	prefix string
	logger zerolog.Logger
}

func NewRedisCache[T any](client redis.Cmdable, prefix string, logger zerolog.Logger) *RedisCache[T] {
	return &RedisCache[T]{client: client, prefix: prefix, logger: logger}
}

func (c *RedisCache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T

	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", c.prefix+key).Msg("redis get failed")
		return zero, false
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn().Err(err).Str("key", c.prefix+key).Msg("failed to decode cached value")
		return zero, false
	}
	return v, true
}

func (c *RedisCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", c.prefix+key).Msg("failed to encode cache value")
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", c.prefix+key).Msg("redis set failed")
	}
}

func (c *RedisCache[T]) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", c.prefix+key).Msg("redis delete failed")
	}
}
