package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tietve/AI-saas-sub007/internal/kv"
)

func TestMiddleware_RejectsWithRetryMetadata(t *testing.T) {
	limiter, err := NewFixedWindow(kv.NewMemoryStore(), Limit{Limit: 1, Window: time.Minute}, nil, nil)
	require.NoError(t, err)

	identify := func(r *http.Request) Identity { return Identity{IP: "203.0.113.9"} }
	handler := NewMiddleware(limiter, "login", Limit{}, identify, time.Second).Wrap(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "too many requests", body["error"])
	assert.InDelta(t, 60000, body["retry_after_ms"], 1000)
	assert.EqualValues(t, 1, body["limit"])
}

func TestNew_SelectsBackend(t *testing.T) {
	defaults := Limit{Limit: 5, Window: time.Second}

	limiter, err := New("token_bucket", nil, defaults, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &TokenBucket{}, limiter)

	limiter, err = New("redis", kv.NewMemoryStore(), defaults, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &FixedWindow{}, limiter)

	_, err = New("fixed_window", nil, defaults, nil, nil)
	assert.Error(t, err)

	_, err = New("leaky", nil, defaults, nil, nil)
	assert.Error(t, err)
}
