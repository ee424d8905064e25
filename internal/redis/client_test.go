package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("requires config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("fails when server unreachable", func(t *testing.T) {
		client, err := NewClient(&Config{Address: "localhost:1"})
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("connects and reports healthy", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NoError(t, client.Health())
	})
}

func TestIncrWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("counts up within the window", func(t *testing.T) {
		client, _ := setupTestClient(t)

		for want := int64(1); want <= 5; want++ {
			count, remaining, err := client.IncrWindow(ctx, "w:key", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, want, count)
			assert.Greater(t, remaining, time.Duration(0))
		}
	})

	t.Run("resets after the window elapses", func(t *testing.T) {
		client, mr := setupTestClient(t)

		count, _, err := client.IncrWindow(ctx, "w:key", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		mr.FastForward(time.Minute + time.Second)

		count, remaining, err := client.IncrWindow(ctx, "w:key", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		assert.Equal(t, time.Minute, remaining)
	})

	t.Run("re-arms a key that lost its expiry", func(t *testing.T) {
		client, mr := setupTestClient(t)

		// Seed a counter with no TTL, as if the expiry was lost.
		require.NoError(t, mr.Set("w:key", "3"))

		count, remaining, err := client.IncrWindow(ctx, "w:key", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
		assert.Equal(t, time.Minute, remaining)
	})

	t.Run("surfaces backend errors", func(t *testing.T) {
		client, mr := setupTestClient(t)
		mr.Close()

		_, _, err := client.IncrWindow(ctx, "w:key", time.Minute)
		assert.Error(t, err)
	})
}

func TestDecrWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("undoes one increment", func(t *testing.T) {
		client, _ := setupTestClient(t)

		_, _, err := client.IncrWindow(ctx, "w:key", time.Minute)
		require.NoError(t, err)
		_, _, err = client.IncrWindow(ctx, "w:key", time.Minute)
		require.NoError(t, err)

		require.NoError(t, client.DecrWindow(ctx, "w:key"))

		count, _, err := client.IncrWindow(ctx, "w:key", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("floors at zero", func(t *testing.T) {
		client, _ := setupTestClient(t)

		require.NoError(t, client.DecrWindow(ctx, "w:fresh"))

		count, _, err := client.IncrWindow(ctx, "w:fresh", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestKeyValue(t *testing.T) {
	ctx := context.Background()

	t.Run("set and get round trip", func(t *testing.T) {
		client, _ := setupTestClient(t)

		require.NoError(t, client.Set(ctx, "kv:a", []byte("payload"), time.Minute))

		data, found, err := client.Get(ctx, "kv:a")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("payload"), data)
	})

	t.Run("missing key is not an error", func(t *testing.T) {
		client, _ := setupTestClient(t)

		data, found, err := client.Get(ctx, "kv:missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, data)
	})

	t.Run("entries expire with their ttl", func(t *testing.T) {
		client, mr := setupTestClient(t)

		require.NoError(t, client.Set(ctx, "kv:a", []byte("payload"), time.Second))
		mr.FastForward(2 * time.Second)

		_, found, err := client.Get(ctx, "kv:a")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("del reports how many existed", func(t *testing.T) {
		client, _ := setupTestClient(t)

		require.NoError(t, client.Set(ctx, "kv:a", []byte("1"), time.Minute))
		require.NoError(t, client.Set(ctx, "kv:b", []byte("2"), time.Minute))

		n, err := client.Del(ctx, "kv:a", "kv:b", "kv:missing")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("del with no keys is a no-op", func(t *testing.T) {
		client, _ := setupTestClient(t)

		n, err := client.Del(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("filters by prefix and substring", func(t *testing.T) {
		client, _ := setupTestClient(t)

		require.NoError(t, client.Set(ctx, "cache:/api/items", []byte("1"), time.Minute))
		require.NoError(t, client.Set(ctx, "cache:/api/users", []byte("2"), time.Minute))
		require.NoError(t, client.Set(ctx, "other:/api/items", []byte("3"), time.Minute))

		keys, err := client.Keys(ctx, "cache:", "/api/items")
		require.NoError(t, err)
		assert.Equal(t, []string{"cache:/api/items"}, keys)
	})

	t.Run("empty substring matches all prefixed keys", func(t *testing.T) {
		client, _ := setupTestClient(t)

		require.NoError(t, client.Set(ctx, "cache:a", []byte("1"), time.Minute))
		require.NoError(t, client.Set(ctx, "cache:b", []byte("2"), time.Minute))

		keys, err := client.Keys(ctx, "cache:", "")
		require.NoError(t, err)
		assert.Len(t, keys, 2)
	})
}
