// Package identity extracts the caller identity consumed by the
// request-shaping layer.
//
// The gateway does not perform authorization. It only parses the bearer
// token an upstream issuer signed and attaches the resulting
// {id, role} pair to the request context; requests without a valid
// token proceed as anonymous.
package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"clinic-gateway/internal/common/logging"
)

// Identity is the caller identity attached by the upstream issuer.
type Identity struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type contextKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity attached to the context, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}

// FromRequest returns the identity attached to the request, if any.
func FromRequest(r *http.Request) (*Identity, bool) {
	return FromContext(r.Context())
}

// Claims are the token claims the gateway understands.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Middleware parses a Bearer token signed with the shared HMAC secret
// and attaches the identity to the request context. Absent, malformed
// or expired tokens are not an error here; the request simply stays
// anonymous and downstream policies treat it as such.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := parseBearer(r, secret); id != nil {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseBearer(r *http.Request, secret string) *Identity {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		logging.Debug("rejected bearer token, continuing anonymous",
			logging.String("path", r.URL.Path),
			logging.Any("error", err))
		return nil
	}

	if claims.Subject == "" {
		return nil
	}

	return &Identity{ID: claims.Subject, Role: claims.Role}
}
