package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsProcessed tracks routed items per outcome
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sifter_items_processed_total",
			Help: "Total number of work items routed, by outcome",
		},
		[]string{"outcome"},
	)

	// ClaimsTotal tracks batch claims against the queue API
	ClaimsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sifter_claims_total",
			Help: "Total number of batch claim calls",
		},
	)

	// QueueAPIErrors tracks failed queue API calls per operation
	QueueAPIErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sifter_queue_api_errors_total",
			Help: "Total number of failed queue API calls",
		},
		[]string{"op"},
	)

	// FetchLatency tracks profile fetch latency
	FetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sifter_fetch_latency_seconds",
			Help:    "Profile fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BansTotal tracks detected soft bans
	BansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sifter_bans_total",
			Help: "Total number of detected soft bans",
		},
	)

	// CooldownLevel tracks the current escalation level
	CooldownLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sifter_cooldown_level",
			Help: "Current cooldown escalation level",
		},
	)

	// ConsecutiveTimeouts tracks the worker's running timeout streak
	ConsecutiveTimeouts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sifter_consecutive_timeouts",
			Help: "Consecutive profile fetch timeouts",
		},
	)

	// MarkerFailures tracks best-effort processed-marker failures
	MarkerFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sifter_marker_failures_total",
			Help: "Total number of failed processed-marker notifications",
		},
	)

	// DBConnectionPoolUsage tracks journal DB pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sifter_db_connection_pool_usage",
			Help: "Journal database connection pool usage percentage",
		},
	)
)
