package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gate names used as metric labels.
const (
	GateRateLimit = "rate_limit"
	GateQuota     = "quota"
	GateLockout   = "lockout"
	GateSession   = "session"
	GateCSRF      = "csrf"
)

// Metrics counts admission decisions. Methods are safe on a nil receiver.
type Metrics struct {
	registry         *prometheus.Registry
	decisions        *prometheus.CounterVec
	storeUnavailable *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_decisions_total",
		Help: "Admission decisions by gate and outcome.",
	}, []string{"gate", "outcome"})

	storeUnavailable := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_store_unavailable_total",
		Help: "Gate calls that fell back to their fail-open or fail-closed default.",
	}, []string{"gate"})

	registry.MustRegister(decisions, storeUnavailable)

	return &Metrics{
		registry:         registry,
		decisions:        decisions,
		storeUnavailable: storeUnavailable,
	}
}

func (m *Metrics) Decision(gate, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(gate, outcome).Inc()
}

func (m *Metrics) StoreUnavailable(gate string) {
	if m == nil {
		return
	}
	m.storeUnavailable.WithLabelValues(gate).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
