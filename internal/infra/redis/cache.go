// Package redis provides the pool snapshot cache. A latency aid only: the
// core stays correct when the cache is absent or stale, so every error here
// degrades to a store read instead of failing the operation.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/jackpotd/internal/core/domain"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	TTL      time.Duration `yaml:"ttl"`
}

// Cache implements the manager's pool snapshot cache on Redis.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache creates a new Redis cache client.
func NewCache(cfg Config) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Health checks the Redis connection.
func (c *Cache) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func poolKey(group domain.Group) string {
	return fmt.Sprintf("jackpot:pool:%s", group)
}

// GetPool returns a cached snapshot, or (nil, nil) on miss.
func (c *Cache) GetPool(ctx context.Context, group domain.Group) (*domain.Pool, error) {
	data, err := c.rdb.Get(ctx, poolKey(group)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get failed: %w", err)
	}

	var pool domain.Pool
	if err := json.Unmarshal(data, &pool); err != nil {
		// Corrupt entry, treat as a miss and let the next Set repair it.
		_ = c.rdb.Del(ctx, poolKey(group)).Err()
		return nil, nil
	}
	return &pool, nil
}

// SetPool stores a snapshot with the configured TTL.
func (c *Cache) SetPool(ctx context.Context, pool *domain.Pool) error {
	data, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("failed to marshal pool: %w", err)
	}
	if err := c.rdb.Set(ctx, poolKey(pool.Group), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Invalidate drops a group's snapshot after a successful mutation.
func (c *Cache) Invalidate(ctx context.Context, group domain.Group) error {
	if err := c.rdb.Del(ctx, poolKey(group)).Err(); err != nil {
		return fmt.Errorf("cache invalidate failed: %w", err)
	}
	return nil
}
