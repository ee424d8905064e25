package cache

import (
	"context"
	"net/http"
	"time"

	"clinic-gateway/internal/common/logging"
)

// ClearedAll is the sentinel returned by Purge when called without a
// pattern: the whole cache was flushed rather than a counted subset.
const ClearedAll = -1

// purgeTimeout bounds a background purge so it cannot hold a store
// connection indefinitely.
const purgeTimeout = 5 * time.Second

// Invalidator removes cache entries after successful mutating requests.
type Invalidator struct {
	store Store

	// observer, when set, is called after every background purge.
	// It exists for test observability only; production callers must
	// not depend on purge completion.
	observer func(pattern string, removed int, err error)
}

// InvalidatorOption configures an Invalidator.
type InvalidatorOption func(*Invalidator)

// WithPurgeObserver installs a hook invoked after each background
// purge completes.
func WithPurgeObserver(fn func(pattern string, removed int, err error)) InvalidatorOption {
	return func(inv *Invalidator) { inv.observer = fn }
}

// NewInvalidator creates an invalidator over the given store.
func NewInvalidator(store Store, opts ...InvalidatorOption) *Invalidator {
	inv := &Invalidator{store: store}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Purge removes every entry whose key contains the pattern as a
// substring and returns the exact count removed. An empty pattern
// clears the entire cache and returns ClearedAll.
func (inv *Invalidator) Purge(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		if _, err := inv.store.Clear(ctx); err != nil {
			return 0, err
		}
		return ClearedAll, nil
	}
	return inv.store.Purge(ctx, pattern)
}

// statusRecorder captures only the final status code; bodies pass
// through unbuffered.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// OnWrite returns a middleware that schedules a background purge of the
// pattern after any non-GET request finishes with a 2xx status. The
// purge is fire-and-forget: it runs after the response has been sent,
// is never retried, and may not complete before process exit.
func (inv *Invalidator) OnWrite(pattern string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= http.StatusOK && rec.statusCode < http.StatusMultipleChoices {
				go inv.purgeAsync(pattern)
			}
		})
	}
}

func (inv *Invalidator) purgeAsync(pattern string) {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	removed, err := inv.Purge(ctx, pattern)
	if err != nil {
		logging.Warn("background cache purge failed",
			logging.String("pattern", pattern),
			logging.Any("error", err))
	} else {
		logging.Debug("cache purged",
			logging.String("pattern", pattern),
			logging.Int("removed", removed))
	}

	if inv.observer != nil {
		inv.observer(pattern, removed, err)
	}
}
