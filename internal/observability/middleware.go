package observability

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
	wrote      bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.statusCode = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wrote = true
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

// RequestLoggingMiddleware tags each request with an X-Request-ID and logs
// one line per response. 5xx responses log at error level.
func RequestLoggingMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set(RequestIDHeader, requestID)
		}
		w.Header().Set(RequestIDHeader, requestID)

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		fields := map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      recorder.statusCode,
			"bytes":       recorder.bytes,
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          ClientIP(r),
			"request_id":  requestID,
		}
		if recorder.statusCode >= http.StatusInternalServerError {
			logger.Error("http_request", fields)
			return
		}
		logger.Info("http_request", fields)
	})
}

// RecoverMiddleware turns a handler panic into a 500 and reports it.
func RecoverMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			hub := sentry.CurrentHub().Clone()
			hub.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetRequest(r)
				scope.SetTag("request_id", r.Header.Get(RequestIDHeader))
				scope.SetExtra("stack", string(debug.Stack()))
			})
			hub.Recover(rec)

			logger.Error("panic_recovered", map[string]any{
				"path":       r.URL.Path,
				"method":     r.Method,
				"panic":      fmt.Sprint(rec),
				"request_id": r.Header.Get(RequestIDHeader),
			})

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		}()

		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of RemoteAddr, or "" when it is empty.
// Forwarding headers are ignored; use an IPResolver behind a proxy.
func ClientIP(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

// IPResolver derives the caller address for keying gates. With
// TrustedHops > 0 it reads X-Forwarded-For, skipping the entries appended
// by that many trusted proxies from the right; anything left of that hop is
// client supplied and never used. With TrustedHops == 0 it uses RemoteAddr.
type IPResolver struct {
	TrustedHops int
}

func (p IPResolver) ClientIP(r *http.Request) string {
	if p.TrustedHops <= 0 {
		return ClientIP(r)
	}

	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, part := range strings.Split(header, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	if len(hops) == 0 {
		return ClientIP(r)
	}

	// The nearest proxy is RemoteAddr itself, so TrustedHops-1 entries of
	// the header were written by the other trusted proxies.
	idx := len(hops) - p.TrustedHops
	if idx < 0 {
		idx = 0
	}
	return hops[idx]
}
