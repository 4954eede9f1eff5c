package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics carries the server's connection and dispatch counters. Create
// one with NewMetrics; passing a nil registerer yields working but
// unregistered collectors, which keeps the hot path free of nil checks.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	FramesIn            prometheus.Counter
	FramesOut           prometheus.Counter
	HandshakeFailures   prometheus.Counter
	DispatchErrors      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamrpc",
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted since start.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamrpc",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Connections currently in the active state.",
		}),
		FramesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamrpc",
			Subsystem: "server",
			Name:      "frames_in_total",
			Help:      "Frames received across all connections.",
		}),
		FramesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamrpc",
			Subsystem: "server",
			Name:      "frames_out_total",
			Help:      "Frames written across all connections.",
		}),
		HandshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamrpc",
			Subsystem: "server",
			Name:      "handshake_failures_total",
			Help:      "Connections rejected during handshake.",
		}),
		DispatchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamrpc",
			Subsystem: "server",
			Name:      "dispatch_errors_total",
			Help:      "Requests that resolved to an error result.",
		}),
	}
}
