package cache

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"clinic-gateway/internal/common/logging"
	"clinic-gateway/internal/identity"
	"clinic-gateway/internal/keys"
)

// BypassHeader is the explicit skip signal: a request carrying it never
// consults or populates the cache.
const BypassHeader = "X-Cache-Bypass"

// Config controls response caching behavior.
type Config struct {
	Duration             time.Duration // TTL for stored entries
	Public               bool          // whether anonymous responses are publicly cacheable
	MaxAge               int           // Cache-Control max-age seconds
	StaleWhileRevalidate int           // Cache-Control stale-while-revalidate seconds
	StaleIfError         int           // Cache-Control stale-if-error seconds
}

// DefaultConfig returns the caching defaults.
func DefaultConfig() Config {
	return Config{
		Duration:             5 * time.Minute,
		Public:               true,
		MaxAge:               300,
		StaleWhileRevalidate: 60,
		StaleIfError:         120,
	}
}

// responseRecorder captures the downstream status code and body while
// writing through to the client. onStatus, when set, runs once before
// the header is flushed, while response headers can still change.
type responseRecorder struct {
	http.ResponseWriter
	statusCode  int
	body        bytes.Buffer
	wroteHeader bool
	onStatus    func(code int, h http.Header)
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rec *responseRecorder) WriteHeader(code int) {
	if rec.wroteHeader {
		return
	}
	rec.wroteHeader = true
	rec.statusCode = code
	if rec.onStatus != nil {
		rec.onStatus(code, rec.Header())
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *responseRecorder) Write(p []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}
	rec.body.Write(p)
	return rec.ResponseWriter.Write(p)
}

// Middleware returns the response-cache middleware. Cacheable requests
// are served from the store when a live entry exists; otherwise the
// downstream handler runs and its completed 2xx response is stored.
// Store faults degrade to pass-through and are never surfaced.
func Middleware(store Store, cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass(r) {
				setNoStoreHeaders(w.Header())
				next.ServeHTTP(w, r)
				return
			}

			id, _ := identity.FromRequest(r)
			key := keys.Cache(r, id)

			entry, found, err := store.Get(r.Context(), key)
			if err != nil {
				logging.Warn("cache read failed, treating as miss",
					logging.String("key", key),
					logging.Any("error", err))
			}
			if found && !entry.Expired(time.Now()) {
				serveHit(w, entry, id, cfg)
				return
			}

			w.Header().Set("X-Cache", "MISS")

			// Cache headers wait for the downstream status: only a 2xx
			// is cacheable, everything else goes out as no-store.
			rec := newResponseRecorder(w)
			rec.onStatus = func(code int, h http.Header) {
				if code >= http.StatusOK && code < http.StatusMultipleChoices {
					setCacheHeaders(h, id, cfg, time.Now().Add(cfg.Duration))
				} else {
					setNoStoreHeaders(h)
				}
			}
			next.ServeHTTP(rec, r)
			if !rec.wroteHeader {
				rec.WriteHeader(http.StatusOK)
			}

			// A disconnected client means the payload may be truncated;
			// never store a partial entry.
			if r.Context().Err() != nil {
				return
			}
			if rec.statusCode < http.StatusOK || rec.statusCode >= http.StatusMultipleChoices {
				return
			}

			stored := &Entry{
				Payload:     rec.body.Bytes(),
				StatusCode:  rec.statusCode,
				ContentType: rec.Header().Get("Content-Type"),
				CreatedAt:   time.Now(),
				TTLSeconds:  int(cfg.Duration.Seconds()),
			}
			if err := store.Set(r.Context(), key, stored); err != nil {
				logging.Warn("cache write failed, response unaffected",
					logging.String("key", key),
					logging.Any("error", err))
			}
		})
	}
}

// bypass reports whether the request must skip the cache entirely:
// non-idempotent methods never touch it, and callers can opt out per
// request with the bypass header.
func bypass(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return true
	}
	return r.Header.Get(BypassHeader) != ""
}

func serveHit(w http.ResponseWriter, entry *Entry, id *identity.Identity, cfg Config) {
	h := w.Header()
	h.Set("X-Cache", "HIT")
	if entry.ContentType != "" {
		h.Set("Content-Type", entry.ContentType)
	}
	setCacheHeaders(h, id, cfg, entry.ExpiresAt())

	w.WriteHeader(entry.StatusCode)
	_, _ = w.Write(entry.Payload)
}

// setCacheHeaders synthesizes the Cache-Control contract for a
// cacheable response. Identity-bound responses are always private.
func setCacheHeaders(h http.Header, id *identity.Identity, cfg Config, expires time.Time) {
	visibility := "private"
	if cfg.Public && id == nil {
		visibility = "public"
	}
	h.Set("Cache-Control", fmt.Sprintf("%s, max-age=%d, stale-while-revalidate=%d, stale-if-error=%d",
		visibility, cfg.MaxAge, cfg.StaleWhileRevalidate, cfg.StaleIfError))
	h.Set("Expires", expires.UTC().Format(http.TimeFormat))
}

// setNoStoreHeaders marks a response as non-cacheable end to end.
func setNoStoreHeaders(h http.Header) {
	h.Set("Cache-Control", "private, no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}
