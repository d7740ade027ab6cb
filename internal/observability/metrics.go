package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds server collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry            *prometheus.Registry
	ActiveSessions      prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	FramesTotal         *prometheus.CounterVec
	RequestsTotal       *prometheus.CounterVec
	SessionsClosedTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them in a fresh registry.
func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "plantws",
			Name:      "active_sessions",
			Help:      "Number of open WebSocket sessions",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plantws",
			Name:      "connections_total",
			Help:      "Total accepted connections",
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plantws",
			Name:      "frames_total",
			Help:      "Total WebSocket frames by direction and opcode",
		}, []string{"direction", "opcode"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plantws",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status",
		}, []string{"route", "status"}),
		SessionsClosedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plantws",
			Name:      "sessions_closed_total",
			Help:      "Total session terminations by cause",
		}, []string{"cause"}),
	}
	r.MustRegister(m.ActiveSessions, m.ConnectionsTotal, m.FramesTotal, m.RequestsTotal, m.SessionsClosedTotal)
	return m
}

// Registry returns the registry the collectors are registered in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SessionOpened counts a session that entered the open state.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

// SessionClosed counts a finished session. An empty cause is not labeled.
func (m *Metrics) SessionClosed(cause string) {
	if m != nil {
		m.ActiveSessions.Dec()
		if cause != "" {
			m.SessionsClosedTotal.WithLabelValues(cause).Inc()
		}
	}
}

// Frame counts a frame; direction is "in" or "out".
func (m *Metrics) Frame(direction, opcode string) {
	if m != nil {
		m.FramesTotal.WithLabelValues(direction, opcode).Inc()
	}
}

// Request counts a served request by route and response status.
func (m *Metrics) Request(route string, status int) {
	if m != nil {
		m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
}

// Connection counts an accepted connection.
func (m *Metrics) Connection() {
	if m != nil {
		m.ConnectionsTotal.Inc()
	}
}
