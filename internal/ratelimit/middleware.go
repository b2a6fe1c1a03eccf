package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

// IdentityFunc extracts the caller identity from a request.
type IdentityFunc func(r *http.Request) Identity

type Middleware struct {
	limiter  Limiter
	scope    string
	limit    Limit
	identify IdentityFunc
	timeout  time.Duration
}

func NewMiddleware(limiter Limiter, scope string, limit Limit, identify IdentityFunc, timeout time.Duration) *Middleware {
	return &Middleware{
		limiter:  limiter,
		scope:    scope,
		limit:    limit,
		identify: identify,
		timeout:  timeout,
	}
}

func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if m.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}

		dec := m.limiter.Consume(ctx, Key(m.scope, m.identify(r)), m.limit)
		WriteHeaders(w, dec)

		if !dec.OK {
			retrySeconds := int(math.Ceil(dec.RetryAfter.Seconds()))
			if retrySeconds < 1 {
				retrySeconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":          "too many requests",
				"retry_after_ms": dec.RetryAfter.Milliseconds(),
				"limit":          dec.Limit,
				"remaining":      dec.Remaining,
				"reset_at":       dec.ResetAt.UTC().Format(time.RFC3339),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func WriteHeaders(w http.ResponseWriter, dec Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
