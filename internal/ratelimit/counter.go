// Package ratelimit implements the tiered fixed-window rate limiter of
// the request-shaping layer.
//
// Counting happens in a CounterStore, either process-local or backed by
// the shared redis client so limits hold across gateway instances.
// Policies (role, endpoint, anonymous, default) are declared as ordered
// tables, validated at startup, and applied by middleware; a store
// fault fails open so legitimate traffic is never rejected because the
// backend is down.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"clinic-gateway/internal/common/errors"
	"clinic-gateway/internal/redis"
)

// Window is the state of one fixed counting window.
type Window struct {
	Count int64
	Start time.Time
}

// ResetAt returns when the window rolls over.
func (w Window) ResetAt(period time.Duration) time.Time {
	return w.Start.Add(period)
}

// CounterStore is the pluggable window counter. Incr is atomic at the
// storage layer: two concurrent callers for the same key never observe
// the same pre-increment count.
type CounterStore interface {
	// Incr increments the counter for key, resetting it first if its
	// window has elapsed, and returns the resulting window state.
	Incr(ctx context.Context, key string, period time.Duration) (Window, error)

	// Decr undoes one increment, flooring the count at zero.
	Decr(ctx context.Context, key string) error
}

// LocalCounter is the process-private backend. Counts are lost on
// restart and not shared across instances.
type LocalCounter struct {
	mu      sync.Mutex
	windows map[string]*localWindow

	// now is injectable for window-rollover tests.
	now func() time.Time
}

type localWindow struct {
	count  int64
	start  time.Time
	period time.Duration
}

// NewLocalCounter creates an in-process counter store.
func NewLocalCounter() *LocalCounter {
	return &LocalCounter{
		windows: make(map[string]*localWindow),
		now:     time.Now,
	}
}

func (c *LocalCounter) Incr(ctx context.Context, key string, period time.Duration) (Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || now.Sub(w.start) >= w.period {
		w = &localWindow{count: 0, start: now, period: period}
		c.windows[key] = w
	}
	w.count++

	return Window{Count: w.count, Start: w.start}, nil
}

func (c *LocalCounter) Decr(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.windows[key]; ok && w.count > 0 {
		w.count--
	}
	return nil
}

// Sweep drops windows that rolled over, so idle keys do not accumulate.
// Called periodically by the janitor.
func (c *LocalCounter) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, w := range c.windows {
		if now.Sub(w.start) >= w.period {
			delete(c.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns how many windows are currently tracked.
func (c *LocalCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}

// RedisCounter is the shared backend: durable across restarts and
// visible to every gateway instance.
type RedisCounter struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCounter creates a redis-backed counter store.
func NewRedisCounter(client *redis.Client, keyPrefix string) *RedisCounter {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	return &RedisCounter{client: client, keyPrefix: keyPrefix}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, period time.Duration) (Window, error) {
	count, remaining, err := c.client.IncrWindow(ctx, c.keyPrefix+key, period)
	if err != nil {
		return Window{}, errors.ConnectionError("counter increment failed", err)
	}

	// The window started period-remaining ago; the key expiry carries
	// the rollover, so Start is derived rather than stored.
	start := time.Now().Add(remaining - period)
	return Window{Count: count, Start: start}, nil
}

func (c *RedisCounter) Decr(ctx context.Context, key string) error {
	if err := c.client.DecrWindow(ctx, c.keyPrefix+key); err != nil {
		return errors.ConnectionError("counter decrement failed", err)
	}
	return nil
}
