// Package redis provides Redis database connectivity and operations.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"norelock.dev/listenify/bragi/internal/config"
	"norelock.dev/listenify/bragi/internal/utils"
)

// Client wraps the Redis client with app-specific functionality
type Client struct {
	client *redis.Client
	prefix string
	logger *utils.Logger
}

// NewClient connects to the first configured address and pings it.
func NewClient(cfg config.RedisConfig, logger *utils.Logger) (*Client, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("redis: no address configured")
	}

	opts := &redis.Options{
		Addr:         cfg.Addresses[0],
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.Database,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis", err, "addr", opts.Addr)
		_ = client.Close()
		return nil, err
	}

	logger.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return Wrap(client, cfg.KeyPrefix, logger), nil
}

// Wrap adapts an existing go-redis client, e.g. one pointed at a test server.
func Wrap(client *redis.Client, prefix string, logger *utils.Logger) *Client {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Client{client: client, prefix: prefix, logger: logger}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		c.logger.Error("Failed to close Redis connection", err)
		return err
	}
	c.logger.Info("Closed Redis connection")
	return nil
}

// Ping pings the Redis server
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Error("Failed to ping Redis", err)
		return err
	}
	return nil
}

// Get returns the value at key and whether it exists.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		c.logger.Error("Failed to get value from Redis", err, "key", key)
		return "", false, err
	}
	return value, true, nil
}

// Set sets a value in Redis with an optional expiration
func (c *Client) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	if err := c.client.Set(ctx, key, value, expiration).Err(); err != nil {
		c.logger.Error("Failed to set value in Redis", err, "key", key)
		return err
	}
	return nil
}

// Del deletes a key from Redis
func (c *Client) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Error("Failed to delete key from Redis", err, "key", key)
		return err
	}
	return nil
}

// Key namespaces key under the configured prefix.
func (c *Client) Key(namespace, key string) string {
	if c.prefix == "" {
		return FormatKey(namespace, key)
	}
	return FormatKey(c.prefix, FormatKey(namespace, key))
}

// FormatKey creates a namespaced Redis key
func FormatKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}
