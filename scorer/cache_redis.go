package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores scores in Redis as JSON integers
type RedisCache struct {
	rdb    redis.Cmdable
	prefix string
}

// RedisCacheOption configures a RedisCache
type RedisCacheOption func(*RedisCache)

// WithKeyPrefix namespaces every key, e.g. per environment
func WithKeyPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		c.prefix = strings.Trim(prefix, ":")
	}
}

// NewRedisCache wraps a go-redis client
func NewRedisCache(rdb redis.Cmdable, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{rdb: rdb}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(k CacheKey) string {
	if c.prefix == "" {
		return string(k)
	}
	return c.prefix + ":" + string(k)
}

// Get implements ResultCache
func (c *RedisCache) Get(ctx context.Context, key CacheKey) (int, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		slog.Debug("No cached score", "key", key)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &CacheReadError{Key: key, Err: err}
	}

	var score int
	if err := json.Unmarshal(raw, &score); err != nil {
		return 0, false, &CacheReadError{Key: key, Err: fmt.Errorf("decode cached score: %w", err)}
	}
	return score, true, nil
}

// Put implements ResultCache. A ttl <= 0 stores without expiry.
func (c *RedisCache) Put(ctx context.Context, key CacheKey, score int, ttl time.Duration) error {
	raw, err := json.Marshal(score)
	if err != nil {
		return &CacheWriteError{Key: key, Err: err}
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.rdb.Set(ctx, c.key(key), raw, ttl).Err(); err != nil {
		return &CacheWriteError{Key: key, Err: err}
	}
	return nil
}

// Ping checks connectivity to Redis
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
