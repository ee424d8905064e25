// Package keys derives the canonical storage keys used by the response
// cache and the rate limiters.
//
// Derivation is pure and deterministic: two repeats of the same request
// always map to the same key, and two semantically different requests
// never share one. Cache keys separate identities so personalized
// responses cannot leak across users; rate keys fold in the client
// network address so anonymous traffic is throttled per origin.
package keys

import (
	"net"
	"net/http"
	"strings"

	"clinic-gateway/internal/identity"
)

// Cache derives the response-cache key for a request. Anonymous
// requests share one key per URI (path plus query string);
// identity-bearing requests are keyed under the caller id.
func Cache(r *http.Request, id *identity.Identity) string {
	uri := r.URL.RequestURI()
	if id == nil {
		return uri
	}
	return id.ID + ":" + uri
}

// Role derives the counter key for the role dimension of an
// authenticated caller.
func Role(role string, id *identity.Identity) string {
	return "role:" + role + ":" + id.ID
}

// Anonymous derives the counter key for unauthenticated traffic,
// scoped to the calling origin.
func Anonymous(r *http.Request) string {
	return "anon:" + ClientIP(r)
}

// Endpoint derives the counter key for an endpoint-prefix policy. The
// caller component is the identity id when present, the client address
// otherwise.
func Endpoint(prefix string, r *http.Request, id *identity.Identity) string {
	if id != nil {
		return "endpoint:" + prefix + ":" + id.ID
	}
	return "endpoint:" + prefix + ":" + ClientIP(r)
}

// ClientIP resolves the originating client address: first hop of
// X-Forwarded-For, then X-Real-IP, then the connection remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr)); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
