// Package cache provides a tiny Redis client wrapper for caching predictions
// by model and image digest
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "fundus:prediction:"

// Cache wraps a Redis client for prediction storage
type Cache struct {
	client *redis.Client
}

// New creates a new Cache instance connected to the specified Redis address
// If addr is empty, defaults to localhost:6379
func New(ctx context.Context, addr string) (*Cache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Cache{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Key returns the Redis key for a classifier cache key
func Key(key string) string {
	return keyPrefix + key
}

// SetPrediction stores a serialized prediction with the specified TTL
func (c *Cache) SetPrediction(ctx context.Context, key, data string, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache client is nil")
	}

	if err := c.client.Set(ctx, Key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set prediction %s: %w", key, err)
	}

	return nil
}

// GetPrediction retrieves a serialized prediction; a missing key yields ""
func (c *Cache) GetPrediction(ctx context.Context, key string) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("cache client is nil")
	}

	data, err := c.client.Get(ctx, Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get prediction %s: %w", key, err)
	}

	return data, nil
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache client is nil")
	}
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c != nil && c.client != nil {
		return c.client.Close()
	}
	return nil
}
