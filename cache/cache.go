// Package cache stores parsed tariff results so repeated lookups skip the
// browser.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cfetarifa/tariff"
)

const keyPrefix = "cfe:tarifa:"

// TariffCache looks results up by request. A miss is (nil, nil).
type TariffCache interface {
	Get(ctx context.Context, req tariff.Request) (*tariff.Result, error)
	Set(ctx context.Context, req tariff.Request, result *tariff.Result) error
}

// Key is the storage key for req.
func Key(req tariff.Request) string {
	return keyPrefix + req.Key()
}

// RedisCache keeps results as JSON with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to addr. The connection is checked with PING.
func NewRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, req tariff.Request) (*tariff.Result, error) {
	data, err := c.client.Get(ctx, Key(req)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var result tariff.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("cache decode: %w", err)
	}
	return &result, nil
}

func (c *RedisCache) Set(ctx context.Context, req tariff.Request, result *tariff.Result) error {
	// Estimates depend on the caller's consumption, not the schedule.
	stored := *result
	stored.Estimate = nil
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, Key(req), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, tariff.Request) (*tariff.Result, error) { return nil, nil }
func (Nop) Set(context.Context, tariff.Request, *tariff.Result) error   { return nil }
