// Package redis stores non-streaming backend responses in Redis, keyed by the
// normalized request.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidbz/sglang-relay/internal/domain"
	"github.com/davidbz/sglang-relay/internal/observability"
)

// Config contains response cache settings.
type Config struct {
	Enabled  bool          `env:"CACHE_ENABLED"  envDefault:"false"`
	Addr     string        `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB"       envDefault:"0"`
	TTL      time.Duration `env:"CACHE_TTL"      envDefault:"1h"`
}

// NewClient creates a Redis client from the cache settings.
func NewClient(config Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
}

// ResponseCache implements domain.ResponseCache on plain string keys.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResponseCache creates a new Redis response cache.
func NewResponseCache(client *redis.Client, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		client: client,
		ttl:    ttl,
	}
}

// Get returns the stored response, or domain.ErrCacheMiss.
func (c *ResponseCache) Get(ctx context.Context, key string) (json.RawMessage, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	observability.FromContext(ctx).Debug("response cache hit",
		observability.String("key", key),
		observability.Int("size", len(data)))

	return data, nil
}

// Set stores resp under key. A zero TTL keeps the entry until evicted.
func (c *ResponseCache) Set(ctx context.Context, key string, resp json.RawMessage) error {
	if err := c.client.Set(ctx, key, []byte(resp), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *ResponseCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}
