package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"clinic-gateway/internal/common/logging"
	"clinic-gateway/internal/identity"
	"clinic-gateway/internal/keys"
)

// rejection is the body returned with a 429.
type rejection struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// statusRecorder captures the final status code for skip-successful
// accounting.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// RoleMiddleware limits the identity dimension: anonymous traffic per
// origin, authenticated callers per role (falling back to the default
// policy for roles without an entry).
func (reg *Registry) RoleMiddleware() func(http.Handler) http.Handler {
	return reg.middleware(func(r *http.Request) (Policy, string, bool) {
		id, _ := identity.FromRequest(r)
		policy := reg.RolePolicy(id)
		if id == nil {
			return policy, keys.Anonymous(r), true
		}
		return policy, keys.Role(id.Role, id), true
	})
}

// EndpointMiddleware limits the endpoint dimension. Paths matching no
// declared prefix are not rate-limited by this dimension at all.
func (reg *Registry) EndpointMiddleware() func(http.Handler) http.Handler {
	return reg.middleware(func(r *http.Request) (Policy, string, bool) {
		policy, ok := reg.EndpointPolicy(r.URL.Path)
		if !ok {
			return Policy{}, "", false
		}
		id, _ := identity.FromRequest(r)
		return policy, keys.Endpoint(policy.Matcher, r, id), true
	})
}

// middleware builds one limiter dimension. Each request resolves to at
// most one policy here; a rejection writes the response and stops the
// chain, so dimensions stacked in series are each terminal.
func (reg *Registry) middleware(resolve func(*http.Request) (Policy, string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			policy, key, ok := resolve(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			win, err := reg.store.Incr(r.Context(), key, policy.Window)
			if err != nil {
				// Fail open: availability over strict enforcement. The
				// request is allowed and not counted.
				logging.Warn("counter store unavailable, failing open",
					logging.String("key", key),
					logging.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			remaining := int64(policy.Limit) - win.Count
			if remaining < 0 {
				remaining = 0
			}
			reset := win.ResetAt(policy.Window)
			setRateHeaders(w.Header(), policy, remaining, reset)

			if win.Count > int64(policy.Limit) {
				reject(w, policy, reset)
				return
			}

			if !policy.SkipSuccessful {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.statusCode < http.StatusBadRequest {
				if err := reg.store.Decr(r.Context(), key); err != nil {
					logging.Debug("skip-successful decrement failed",
						logging.String("key", key),
						logging.Any("error", err))
				}
			}
		})
	}
}

func setRateHeaders(h http.Header, policy Policy, remaining int64, reset time.Time) {
	switch {
	case policy.StandardHeaders:
		h.Set("RateLimit-Limit", fmt.Sprintf("%d", policy.Limit))
		h.Set("RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		h.Set("RateLimit-Reset", fmt.Sprintf("%d", secondsUntil(reset)))
	case policy.LegacyHeaders:
		h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", policy.Limit))
		h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))
	}
}

func reject(w http.ResponseWriter, policy Policy, reset time.Time) {
	if policy.LegacyHeaders {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secondsUntil(reset)))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rejection{Success: false, Message: policy.Message})
}

func secondsUntil(t time.Time) int64 {
	secs := int64(time.Until(t).Seconds())
	if secs < 0 {
		secs = 0
	}
	return secs
}
