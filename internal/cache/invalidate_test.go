package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T, store Store, keys ...string) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, store.Set(context.Background(), key, testEntry("x", 60)))
	}
}

func TestInvalidatorPurge(t *testing.T) {
	ctx := context.Background()

	t.Run("removes only keys containing the pattern", func(t *testing.T) {
		store := NewLocalStore(time.Minute)
		seedStore(t, store,
			"/api/appointments",
			"u-1:/api/appointments?day=mon",
			"/api/clinics",
		)

		removed, err := NewInvalidator(store).Purge(ctx, "/api/appointments")
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, found, err := store.Get(ctx, "/api/clinics")
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("empty pattern clears everything", func(t *testing.T) {
		store := NewLocalStore(time.Minute)
		seedStore(t, store, "/a", "/b", "/c")

		removed, err := NewInvalidator(store).Purge(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, ClearedAll, removed)

		for _, key := range []string{"/a", "/b", "/c"} {
			_, found, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.False(t, found)
		}
	})

	t.Run("unmatched pattern removes nothing", func(t *testing.T) {
		store := NewLocalStore(time.Minute)
		seedStore(t, store, "/api/clinics")

		removed, err := NewInvalidator(store).Purge(ctx, "/api/users")
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("store failure surfaces", func(t *testing.T) {
		_, err := NewInvalidator(faultyStore{}).Purge(ctx, "/api/items")
		assert.Error(t, err)
	})
}

func TestInvalidatorOnWrite(t *testing.T) {
	// awaitPurge builds an invalidator whose background purges report to
	// a channel so the test can wait for completion.
	type purgeResult struct {
		pattern string
		removed int
		err     error
	}
	awaitPurge := func(store Store) (*Invalidator, chan purgeResult) {
		done := make(chan purgeResult, 1)
		inv := NewInvalidator(store, WithPurgeObserver(func(pattern string, removed int, err error) {
			done <- purgeResult{pattern, removed, err}
		}))
		return inv, done
	}

	write := func(handler http.Handler, method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/appointments", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	t.Run("successful write purges matching entries", func(t *testing.T) {
		store := NewLocalStore(time.Minute)
		seedStore(t, store, "/api/appointments", "/api/clinics")

		inv, done := awaitPurge(store)
		handler := inv.OnWrite("/api/appointments")(okHandler)

		rr := write(handler, "POST")
		assert.Equal(t, http.StatusCreated, rr.Code)

		select {
		case result := <-done:
			require.NoError(t, result.err)
			assert.Equal(t, "/api/appointments", result.pattern)
			assert.Equal(t, 1, result.removed)
		case <-time.After(2 * time.Second):
			t.Fatal("background purge never completed")
		}

		_, found, err := store.Get(context.Background(), "/api/clinics")
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("response body writes through to the client", func(t *testing.T) {
		store := NewLocalStore(time.Minute)
		inv, done := awaitPurge(store)
		handler := inv.OnWrite("/api/appointments")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"success":true,"data":{"id":1}}`))
		}))

		rr := write(handler, "POST")
		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, `{"success":true,"data":{"id":1}}`, rr.Body.String())

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("background purge never completed")
		}
	})

	t.Run("failed write leaves the cache intact", func(t *testing.T) {
		store := NewLocalStore(time.Minute)
		seedStore(t, store, "/api/appointments")

		inv, done := awaitPurge(store)
		handler := inv.OnWrite("/api/appointments")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))

		write(handler, "POST")

		select {
		case <-done:
			t.Fatal("purge ran for a failed write")
		case <-time.After(100 * time.Millisecond):
		}

		_, found, err := store.Get(context.Background(), "/api/appointments")
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("reads pass through untouched", func(t *testing.T) {
		store := NewLocalStore(time.Minute)
		seedStore(t, store, "/api/appointments")

		inv, done := awaitPurge(store)
		handler := inv.OnWrite("/api/appointments")(okHandler)

		write(handler, "GET")

		select {
		case <-done:
			t.Fatal("purge ran for a read")
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("purge failure is absorbed, response unaffected", func(t *testing.T) {
		inv, done := awaitPurge(faultyStore{})
		handler := inv.OnWrite("/api/appointments")(okHandler)

		rr := write(handler, "POST")
		assert.Equal(t, http.StatusCreated, rr.Code)

		select {
		case result := <-done:
			assert.Error(t, result.err)
		case <-time.After(2 * time.Second):
			t.Fatal("background purge never completed")
		}
	})
}
