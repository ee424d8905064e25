package keys

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"clinic-gateway/internal/identity"
)

func TestCache(t *testing.T) {
	t.Run("anonymous key is the request URI", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/items?page=2", nil)
		assert.Equal(t, "/api/items?page=2", Cache(r, nil))
	})

	t.Run("identity key is scoped to the caller", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/items", nil)
		id := &identity.Identity{ID: "u-1", Role: "patient"}
		assert.Equal(t, "u-1:/api/items", Cache(r, id))
	})

	t.Run("distinct identities never collide", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/items", nil)
		a := Cache(r, &identity.Identity{ID: "u-1"})
		b := Cache(r, &identity.Identity{ID: "u-2"})
		assert.NotEqual(t, a, b)
	})

	t.Run("deterministic for repeated requests", func(t *testing.T) {
		r1 := httptest.NewRequest("GET", "/api/items?q=x", nil)
		r2 := httptest.NewRequest("GET", "/api/items?q=x", nil)
		assert.Equal(t, Cache(r1, nil), Cache(r2, nil))
	})

	t.Run("query string distinguishes keys", func(t *testing.T) {
		r1 := httptest.NewRequest("GET", "/api/items", nil)
		r2 := httptest.NewRequest("GET", "/api/items?q=x", nil)
		assert.NotEqual(t, Cache(r1, nil), Cache(r2, nil))
	})
}

func TestRateKeys(t *testing.T) {
	t.Run("role key combines role and caller", func(t *testing.T) {
		id := &identity.Identity{ID: "u-9", Role: "admin"}
		assert.Equal(t, "role:admin:u-9", Role("admin", id))
	})

	t.Run("anonymous key is per origin", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/items", nil)
		r.RemoteAddr = "10.0.0.7:41234"
		assert.Equal(t, "anon:10.0.0.7", Anonymous(r))
	})

	t.Run("endpoint key uses identity when present", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/auth/login", nil)
		r.RemoteAddr = "10.0.0.7:41234"

		id := &identity.Identity{ID: "u-9"}
		assert.Equal(t, "endpoint:/api/auth/:u-9", Endpoint("/api/auth/", r, id))
		assert.Equal(t, "endpoint:/api/auth/:10.0.0.7", Endpoint("/api/auth/", r, nil))
	})
}

func TestClientIP(t *testing.T) {
	t.Run("prefers first X-Forwarded-For hop", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.5, 70.0.0.1")
		r.Header.Set("X-Real-IP", "198.51.100.1")
		assert.Equal(t, "203.0.113.5", ClientIP(r))
	})

	t.Run("falls back to X-Real-IP", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Real-IP", "198.51.100.1")
		assert.Equal(t, "198.51.100.1", ClientIP(r))
	})

	t.Run("falls back to remote address host", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "192.0.2.4:9999"
		assert.Equal(t, "192.0.2.4", ClientIP(r))
	})

	t.Run("unknown when nothing is available", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = ""
		assert.Equal(t, "unknown", ClientIP(r))
	})
}
