package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kri5t/antaeus/pkg/storage"
)

const dayMarkerPrefix = "antaeus:billing:day:"

// RedisClient records billed days so the scheduler survives restarts
type RedisClient struct {
	client *redis.Client
	config storage.Config
}

// NewRedisClient creates a new Redis client
func NewRedisClient(config storage.Config) (*RedisClient, error) {
	// Parse Redis URL or use default options
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Override with config values if provided
	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if config.DayMarkerTTL <= 0 {
		config.DayMarkerTTL = storage.DefaultConfig().DayMarkerTTL
	}

	return &RedisClient{
		client: client,
		config: config,
	}, nil
}

// Claim marks day as billed. It returns true only for the first claim of a
// day across every process sharing the Redis instance. Keys expire after the
// configured TTL so old days do not accumulate.
func (c *RedisClient) Claim(ctx context.Context, day string) (bool, error) {
	claimed, err := c.client.SetNX(ctx, dayMarkerPrefix+day, time.Now().UTC().Format(time.RFC3339), c.config.DayMarkerTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return claimed, nil
}

// Release forgets that day was billed, allowing it to trigger again
func (c *RedisClient) Release(ctx context.Context, day string) error {
	return c.client.Del(ctx, dayMarkerPrefix+day).Err()
}

// Ping checks Redis connectivity
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}
