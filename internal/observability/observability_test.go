package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf)

	logger.Warn("store_unavailable", map[string]any{"gate": GateLockout})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "store_unavailable", line["message"])
	assert.Equal(t, GateLockout, line["gate"])
	assert.NotEmpty(t, line["timestamp"])
}

func TestLogger_NilIsNoop(t *testing.T) {
	var logger *Logger
	assert.NotPanics(t, func() { logger.Error("x", nil) })
}

func TestMetrics_CountsDecisions(t *testing.T) {
	m := NewMetrics()
	m.Decision(GateQuota, "rejected")
	m.Decision(GateQuota, "rejected")
	m.StoreUnavailable(GateSession)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `gate_decisions_total{gate="quota",outcome="rejected"} 2`)
	assert.Contains(t, body, `gate_store_unavailable_total{gate="session"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Decision(GateCSRF, "rejected")
	m.StoreUnavailable(GateCSRF)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClientIP_IgnoresForwardedFor(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{name: "forwarded ignored", forwarded: "198.51.100.1", remoteAddr: "10.0.0.2:80", want: "10.0.0.2"},
		{name: "remote addr", remoteAddr: "203.0.113.9:4431", want: "203.0.113.9"},
		{name: "remote without port", remoteAddr: "203.0.113.9", want: "203.0.113.9"},
		{name: "nothing", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestIPResolver_TrustedHops(t *testing.T) {
	tests := []struct {
		name      string
		hops      int
		forwarded []string
		want      string
	}{
		{name: "untrusted uses remote", hops: 0, forwarded: []string{"198.51.100.1"}, want: "10.0.0.2"},
		{name: "one proxy takes right-most", hops: 1, forwarded: []string{"6.6.6.6, 198.51.100.1"}, want: "198.51.100.1"},
		{name: "two proxies", hops: 2, forwarded: []string{"6.6.6.6, 198.51.100.1, 10.1.1.1"}, want: "198.51.100.1"},
		{name: "split headers", hops: 2, forwarded: []string{"6.6.6.6, 198.51.100.1", "10.1.1.1"}, want: "198.51.100.1"},
		{name: "short chain", hops: 3, forwarded: []string{"198.51.100.1"}, want: "198.51.100.1"},
		{name: "no header", hops: 1, want: "10.0.0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.2:443"
			for _, v := range tt.forwarded {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, IPResolver{TrustedHops: tt.hops}.ClientIP(req))
		})
	}
}

func TestRequestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	handler := RequestLoggingMiddleware(NewLoggerTo(&buf), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/health"`)
}

func TestRecoverMiddleware(t *testing.T) {
	var buf bytes.Buffer
	handler := RecoverMiddleware(NewLoggerTo(&buf), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic_recovered")
}
