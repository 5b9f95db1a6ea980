// Package metrics holds the Prometheus collectors for a chatter server.
//
// A nil *Metrics is a valid no-op receiver so components can be built without
// a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatter"

// Rendezvous steps, used as the "step" label.
const (
	StepRequest  = "request"
	StepAccept   = "accept"
	StepPorts    = "ports"
	StepRejected = "rejected"
)

type Metrics struct {
	sessions    prometheus.Gauge
	connections *prometheus.CounterVec
	violations  prometheus.Counter
	dropped     prometheus.Counter
	broadcasts  prometheus.Counter
	rendezvous  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of open client sessions",
		}),

		connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections, by whether they were admitted or refused for capacity",
		}, []string{"result"}),

		violations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "Sessions torn down because of a protocol violation",
		}),

		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Outbound messages dropped because a session queue was full",
		}),

		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Public messages fanned out to all members",
		}),

		rendezvous: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rendezvous_steps_total",
			Help:      "Private channel handshake steps processed, by step",
		}, []string{"step"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
	m.connections.WithLabelValues("admitted").Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// ConnectionRefused counts a connection closed because the server was full.
func (m *Metrics) ConnectionRefused() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("refused").Inc()
}

func (m *Metrics) Violation() {
	if m == nil {
		return
	}
	m.violations.Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) Broadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

func (m *Metrics) Rendezvous(step string) {
	if m == nil {
		return
	}
	m.rendezvous.WithLabelValues(step).Inc()
}
