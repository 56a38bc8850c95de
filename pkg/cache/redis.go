package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	// spell-checker: ignore gomodule redigo
	"github.com/gomodule/redigo/redis"
)

// RedisCache implements Cache interface backed by a Redis store.
type RedisCache struct {
	*redis.Pool
	prefix string
	ttl    time.Duration
}

type RedisCacheOption func(*RedisCache)

// Prepend prefix to every key written to or read from Redis.
func WithRedisKeyPrefix(prefix string) RedisCacheOption {
	return func(r *RedisCache) {
		r.prefix = prefix
	}
}

// Expire stored values after ttl; the default of zero keeps values until
// Redis evicts them.
func WithRedisTTL(ttl time.Duration) RedisCacheOption {
	return func(r *RedisCache) {
		r.ttl = ttl
	}
}

// Limit the number of idle connections kept in the pool.
func WithRedisMaxIdle(maxIdle int) RedisCacheOption {
	return func(r *RedisCache) {
		r.MaxIdle = maxIdle
	}
}

// Return a new Cache implementation using Redis.
func NewRedisCache(_ context.Context, endpoint string, options ...RedisCacheOption) *RedisCache {
	cache := &RedisCache{
		Pool: &redis.Pool{
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialContext(ctx, "tcp", endpoint)
			},
		},
	}
	for _, option := range options {
		option(cache)
	}
	return cache
}

// Returns the string value stored in Redis under key, if present, or an empty string.
func (r *RedisCache) GetValue(ctx context.Context, key string) (string, error) {
	conn, err := r.GetContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()

	value, err := redis.String(conn.Do("GET", r.prefix+key))
	if errors.Is(err, redis.ErrNil) {
		// A cache miss is *NOT* an error to propagate
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get value for key %s: %w", key, err)
	}
	return value, nil
}

// Store the string key:value pair in Redis.
func (r *RedisCache) SetValue(ctx context.Context, key string, value string) error {
	conn, err := r.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()
	args := redis.Args{}.Add(r.prefix+key, value)
	if r.ttl > 0 {
		args = args.Add("PX", r.ttl.Milliseconds())
	}
	if _, err = conn.Do("SET", args...); err != nil {
		return fmt.Errorf("failed to set value for key %s: %w", key, err)
	}
	return nil
}
