package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const (
	ReasonTokenRevoked = "TOKEN_REVOKED"
	AdminKeyHeader     = "X-Admin-Key"
)

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Middleware authenticates bearer access tokens and stores the Principal in
// the request context.
func Middleware(service *Service, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "invalid authorization token")
			return
		}

		principal, err := service.Authenticate(r.Context(), tokenStr)
		if err != nil {
			if errors.Is(err, ErrTokenRevoked) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error":  "token revoked",
					"reason": ReasonTokenRevoked,
				})
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// AdminMiddleware guards operator endpoints with a static key. An empty key
// disables the endpoints.
func AdminMiddleware(apiKey string, next http.Handler) http.Handler {
	key := []byte(strings.TrimSpace(apiKey))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(key) == 0 {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		provided := []byte(strings.TrimSpace(r.Header.Get(AdminKeyHeader)))
		if subtle.ConstantTimeCompare(provided, key) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
