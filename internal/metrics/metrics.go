// Package metrics provides Prometheus instrumentation for the coordination
// core. It exposes gauges for connection, queue and pairing counts, counters
// for message throughput, and a histogram for match wait time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections tracks the current number of active WebSocket connections.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "veilmeet_connections",
		Help: "Current number of active WebSocket connections",
	})

	// QueueSize tracks the current number of sessions waiting in the
	// matchmaking queue, labeled by tier.
	QueueSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "veilmeet_queue_size",
		Help: "Current number of sessions in the matchmaking queue",
	}, []string{"tier"})

	// ActivePairings tracks the current number of active pairings.
	ActivePairings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "veilmeet_active_pairings",
		Help: "Current number of active pairings",
	})

	// MessagesTotal counts relayed payloads, labeled by type: "chat",
	// "signal", "blocked".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veilmeet_messages_total",
		Help: "Total number of relayed payloads",
	}, []string{"type"}) // type = "chat", "signal", "blocked"

	// SearchPollsTotal counts matchmaking poll iterations across all search
	// drivers.
	SearchPollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veilmeet_search_polls_total",
		Help: "Total number of matchmaking poll iterations",
	})

	// MatchWait records the time from find-match to match-found.
	MatchWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "veilmeet_match_wait_seconds",
		Help:    "Time from find-match to match-found",
		Buckets: []float64{.5, 1, 2, 5, 10, 15, 20, 30, 60},
	})
)

func init() {
	prometheus.MustRegister(
		Connections,
		QueueSize,
		ActivePairings,
		MessagesTotal,
		SearchPollsTotal,
		MatchWait,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
