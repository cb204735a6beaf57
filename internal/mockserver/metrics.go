package mockserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts what the mock server saw. Each server carries its own
// registry so tests can run servers side by side without collisions.
type Metrics struct {
	registry *prometheus.Registry

	Connections    prometheus.Counter
	Envelopes      *prometheus.CounterVec
	ScriptFailures prometheus.Counter
	AuthRejections prometheus.Counter
}

// NewMetrics builds and registers the server's collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rehearsal_connections_total",
			Help: "WebSocket connections accepted.",
		}),
		Envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rehearsal_envelopes_total",
			Help: "Envelopes processed, by type and direction.",
		}, []string{"type", "direction"}),
		ScriptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rehearsal_script_failures_total",
			Help: "Script reactions that returned an error.",
		}),
		AuthRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rehearsal_auth_rejections_total",
			Help: "WebSocket upgrades rejected for bad or missing tokens.",
		}),
	}
	m.registry.MustRegister(m.Connections, m.Envelopes, m.ScriptFailures, m.AuthRejections)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
