package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is registered on its own registry so that independent sessions do
// not collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry

	Notifications prometheus.Counter
	Malformed     prometheus.Counter
	Readings      prometheus.Counter
	Events        prometheus.Counter
	LinkErrors    *prometheus.CounterVec
	Phase         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pressuredash_notifications_total",
			Help: "Notifications received from the sensor link.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pressuredash_malformed_payloads_total",
			Help: "Notifications dropped because the payload could not be parsed.",
		}),
		Readings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pressuredash_readings_total",
			Help: "Readings recorded into the session log.",
		}),
		Events: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pressuredash_events_total",
			Help: "Event markers placed by the operator.",
		}),
		LinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pressuredash_link_errors_total",
			Help: "Failed transport operations by operation.",
		}, []string{"op"}),
		Phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pressuredash_phase",
			Help: "Dashboard phase: 0 disconnected, 1 connected, 2 streaming, 3 stopped.",
		}),
	}
	m.Registry.MustRegister(
		m.Notifications,
		m.Malformed,
		m.Readings,
		m.Events,
		m.LinkErrors,
		m.Phase,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
