package csrf

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"github.com/Tietve/AI-saas-sub007/internal/observability"
)

const ReasonInvalidToken = "INVALID_CSRF_TOKEN"

// AllowList holds paths that skip verification. An entry ending in "/"
// matches every path under it; any other entry matches exactly.
type AllowList []string

func (a AllowList) Allows(path string) bool {
	for _, entry := range a {
		if strings.HasSuffix(entry, "/") {
			if strings.HasPrefix(path, entry) {
				return true
			}
			continue
		}
		if path == entry {
			return true
		}
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Middleware rejects state-changing requests that do not carry a valid token
// pair. The 403 body is deliberately the same for every failure.
func Middleware(verifier *Verifier, allow AllowList, metrics *observability.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutating(r.Method) || allow.Allows(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !verifier.VerifyRequest(r) {
			metrics.Decision(observability.GateCSRF, "rejected")
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error":  "forbidden",
				"reason": ReasonInvalidToken,
			})
			return
		}

		metrics.Decision(observability.GateCSRF, "allowed")
		next.ServeHTTP(w, r)
	})
}

type TokenHandler struct {
	verifier     *Verifier
	secureCookie bool
}

func NewTokenHandler(verifier *Verifier, secureCookie bool) *TokenHandler {
	return &TokenHandler{verifier: verifier, secureCookie: secureCookie}
}

// ServeHTTP issues a fresh token as a cookie and in the body.
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := h.verifier.Generate()
	if err != nil {
		sentry.CaptureException(err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to issue csrf token"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token.Value,
		Path:     "/",
		Expires:  token.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, token)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
