// Package metrics provides Prometheus instrumentation for Kestrel.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsTotal counts processed transactions by category.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "transactions_total",
			Help:      "Total transactions processed by category.",
		},
		[]string{"category"},
	)

	// FailuresTotal counts recorded transaction failures.
	FailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "failures_total",
		Help:      "Total failed transaction reports recorded.",
	})

	// AlertsTotal counts emitted alerts by severity.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "alerts_total",
			Help:      "Total alerts emitted by severity.",
		},
		[]string{"severity"},
	)

	// FindingsTotal counts pattern findings by kind.
	FindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "findings_total",
			Help:      "Total pattern findings by kind.",
		},
		[]string{"kind"},
	)

	// RiskScore observes the final score of each processed transaction.
	RiskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Name:      "risk_score",
		Help:      "Distribution of final transaction risk scores.",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	// ScoringDuration observes end-to-end scoring latency.
	ScoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Name:      "scoring_duration_seconds",
		Help:      "Time to record and score a transaction in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// AIBlendDegradedTotal counts oracle calls that fell back to rule scores.
	AIBlendDegradedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "ai_blend_degraded_total",
		Help:      "Total scorings where the oracle failed and rule scores were used alone.",
	})

	// RateLimitedTotal counts requests rejected by the ingest rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by the rate limiter.",
	})

	// TrackedAddresses tracks the number of addresses in the history store.
	TrackedAddresses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kestrel",
		Name:      "tracked_addresses",
		Help:      "Number of addresses currently tracked in the history store.",
	})

	// WebSocketClients tracks connected alert stream clients.
	WebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kestrel",
		Name:      "websocket_clients",
		Help:      "Number of currently connected alert stream clients.",
	})
)

func init() {
	prometheus.MustRegister(
		TransactionsTotal,
		FailuresTotal,
		AlertsTotal,
		FindingsTotal,
		RiskScore,
		ScoringDuration,
		AIBlendDegradedTotal,
		RateLimitedTotal,
		TrackedAddresses,
		WebSocketClients,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
