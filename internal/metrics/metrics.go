// Package metrics exposes the host's Prometheus collectors. A nil *Metrics
// is valid and records nothing, which keeps wiring optional in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles every collector the host registers.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	approvalsTotal  *prometheus.CounterVec
	approvalQueued  prometheus.Gauge
	sessionsActive  prometheus.Gauge
	bridgeChannels  prometheus.Gauge
	relayMessages   *prometheus.CounterVec
}

// New builds and registers the host collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "glide",
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Routed requests by method and outcome.",
		}, []string{"method", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "glide",
			Subsystem: "router",
			Name:      "request_duration_seconds",
			Help:      "Routing latency, human decision time included.",
			Buckets:   []float64{.005, .05, .5, 5, 30, 120, 300},
		}, []string{"method"}),
		approvalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "glide",
			Subsystem: "approval",
			Name:      "decisions_total",
			Help:      "Approval decisions by ticket kind and decision.",
		}, []string{"kind", "decision"}),
		approvalQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "glide",
			Subsystem: "approval",
			Name:      "queued",
			Help:      "Undecided approval tickets, the open one included.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "glide",
			Subsystem: "session",
			Name:      "active",
			Help:      "Active pairing sessions.",
		}),
		bridgeChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "glide",
			Subsystem: "bridge",
			Name:      "channels",
			Help:      "Attached bridge channels.",
		}),
		relayMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "glide",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Relay messages by direction.",
		}, []string{"direction"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.approvalsTotal,
		m.approvalQueued,
		m.sessionsActive,
		m.bridgeChannels,
		m.relayMessages,
	)
	return m
}

// Registry returns the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one routed request.
func (m *Metrics) ObserveRequest(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, outcome).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveDecision records one approval decision.
func (m *Metrics) ObserveDecision(kind string, approved bool) {
	if m == nil {
		return
	}
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	m.approvalsTotal.WithLabelValues(kind, decision).Inc()
}

// SetApprovalQueue records the gate's queue depth.
func (m *Metrics) SetApprovalQueue(depth int) {
	if m == nil {
		return
	}
	m.approvalQueued.Set(float64(depth))
}

// SetSessionsActive records the live session count.
func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// BridgeChannelOpened and BridgeChannelClosed track attached channels.
func (m *Metrics) BridgeChannelOpened() {
	if m == nil {
		return
	}
	m.bridgeChannels.Inc()
}

func (m *Metrics) BridgeChannelClosed() {
	if m == nil {
		return
	}
	m.bridgeChannels.Dec()
}

// ObserveRelayMessage counts relay traffic. Direction is "in" or "out".
func (m *Metrics) ObserveRelayMessage(direction string) {
	if m == nil {
		return
	}
	m.relayMessages.WithLabelValues(direction).Inc()
}
