// Package redis wraps the shared go-redis backend used by the response
// cache and the rate-limit counters when the gateway runs with more
// than one instance.
//
// Every call is bounded by a short timeout so a slow or unreachable
// store cannot stall the request pipeline; callers decide how to
// degrade when an error comes back.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// opTimeout bounds every store round trip.
const opTimeout = 2 * time.Second

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

func bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

// IncrWindow atomically increments a fixed-window counter and returns
// the post-increment count together with the time left in the window.
// The first increment of a window arms the key expiry, which is what
// resets the window; a key that somehow lost its TTL is re-armed so a
// counter can never get stuck.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ctx, cancel := bounded(ctx)
	defer cancel()

	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment window counter: %w", err)
	}

	ttl, err := c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read window ttl: %w", err)
	}

	if count == 1 || ttl < 0 {
		if err := c.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("failed to arm window expiry: %w", err)
		}
		ttl = window
	}

	return count, ttl, nil
}

// DecrWindow undoes one increment, flooring the counter at zero.
func (c *Client) DecrWindow(ctx context.Context, key string) error {
	ctx, cancel := bounded(ctx)
	defer cancel()

	val, err := c.rdb.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to decrement window counter: %w", err)
	}
	if val < 0 {
		return c.rdb.Incr(ctx, key).Err()
	}
	return nil
}

// Set stores raw bytes under a key with a TTL.
func (c *Client) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	ctx, cancel := bounded(ctx)
	defer cancel()
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// Get returns the bytes stored under a key. A missing key is not an
// error; it reports found=false.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := bounded(ctx)
	defer cancel()

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Del removes keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := bounded(ctx)
	defer cancel()
	return c.rdb.Del(ctx, keys...).Result()
}

// Keys scans for keys with the given prefix whose remainder contains
// the substring. An empty substring matches every prefixed key.
func (c *Client) Keys(ctx context.Context, prefix, substring string) ([]string, error) {
	ctx, cancel := bounded(ctx)
	defer cancel()

	iter := c.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		key := iter.Val()
		if substring == "" || strings.Contains(strings.TrimPrefix(key, prefix), substring) {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
