// Package metrics provides Prometheus instrumentation for the chat relay.
// It exposes gauges for connection counts, counters for message outcomes,
// and histograms for persistence latency and broadcast fan-out size.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts message envelopes by outcome: "persisted",
	// "dropped" (unjoined or empty), "rejected" (validation), "failed"
	// (store error), or "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of message envelopes processed",
	}, []string{"outcome"})

	// InsertLatency records message store insert latency in seconds.
	InsertLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_insert_latency_seconds",
		Help:    "Message persistence latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// BroadcastFanout records how many local recipients each broadcast reached.
	BroadcastFanout = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_broadcast_fanout",
		Help:    "Number of local connections reached per broadcast",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
	})

	// RoomsActive tracks the number of rooms with at least one joined connection.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms_active",
		Help: "Current number of rooms with joined connections",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		InsertLatency,
		BroadcastFanout,
		RoomsActive,
	)
}

// NewInsertTimer returns a timer that observes into InsertLatency when
// ObserveDuration is called.
func NewInsertTimer() *prometheus.Timer {
	return prometheus.NewTimer(InsertLatency)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
