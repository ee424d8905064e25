// Package cache implements the response cache of the request-shaping
// layer: a TTL key/value store for serialized response payloads, the
// middleware that serves hits and captures misses, and the
// pattern-based invalidator triggered by mutating requests.
//
// Two backends are provided: a process-local store built on
// patrickmn/go-cache and a shared store built on the redis client. Both
// are best-effort; a backend fault degrades the cache to pass-through
// and never fails the request.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"clinic-gateway/internal/common/errors"
	"clinic-gateway/internal/redis"
)

// Entry is a cached response payload.
type Entry struct {
	Payload     []byte    `json:"payload"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	TTLSeconds  int       `json:"ttl_seconds"`
}

// Expired reports whether the entry is logically expired, regardless of
// whether the backing store has physically evicted it yet.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// ExpiresAt returns the instant the entry becomes stale.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// Store is the response-cache storage abstraction. A key addresses at
// most one live entry; Set overwrites.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error

	// Purge removes every key containing the substring and returns the
	// exact count removed.
	Purge(ctx context.Context, substring string) (int, error)

	// Clear removes all entries and returns how many were removed.
	Clear(ctx context.Context) (int, error)
}

// LocalStore is the process-private backend.
type LocalStore struct {
	cache *gocache.Cache
}

// NewLocalStore creates a local store whose janitor sweeps expired
// entries at the given interval.
func NewLocalStore(cleanupInterval time.Duration) *LocalStore {
	return &LocalStore{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (s *LocalStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	val, found := s.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	entry, ok := val.(*Entry)
	if !ok {
		return nil, false, nil
	}
	return entry, true, nil
}

func (s *LocalStore) Set(ctx context.Context, key string, entry *Entry) error {
	s.cache.Set(key, entry, time.Duration(entry.TTLSeconds)*time.Second)
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *LocalStore) Purge(ctx context.Context, substring string) (int, error) {
	removed := 0
	for key := range s.cache.Items() {
		if strings.Contains(key, substring) {
			s.cache.Delete(key)
			removed++
		}
	}
	return removed, nil
}

func (s *LocalStore) Clear(ctx context.Context) (int, error) {
	count := s.cache.ItemCount()
	s.cache.Flush()
	return count, nil
}

// RedisStore is the shared backend, visible to every gateway instance.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a shared store. Entries are JSON-marshaled
// under the given key prefix.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "cache:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, found, err := s.client.Get(ctx, s.keyPrefix+key)
	if err != nil {
		return nil, false, errors.ConnectionError("cache read failed", err)
	}
	if !found {
		return nil, false, nil
	}

	entry := &Entry{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, false, errors.SerializationError("cache entry decode failed", err)
	}
	return entry, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.SerializationError("cache entry encode failed", err)
	}

	ttl := time.Duration(entry.TTLSeconds) * time.Second
	if err := s.client.Set(ctx, s.keyPrefix+key, data, ttl); err != nil {
		return errors.ConnectionError("cache write failed", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Del(ctx, s.keyPrefix+key); err != nil {
		return errors.ConnectionError("cache delete failed", err)
	}
	return nil
}

func (s *RedisStore) Purge(ctx context.Context, substring string) (int, error) {
	keys, err := s.client.Keys(ctx, s.keyPrefix, substring)
	if err != nil {
		return 0, errors.ConnectionError("cache scan failed", err)
	}

	removed, err := s.client.Del(ctx, keys...)
	if err != nil {
		return 0, errors.ConnectionError("cache purge failed", err)
	}
	return int(removed), nil
}

func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	return s.Purge(ctx, "")
}
