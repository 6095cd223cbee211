package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed tracks events routed through a processor, by outcome
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_events_processed_total",
			Help: "Total number of events processed",
		},
		[]string{"event_type", "outcome"},
	)

	// BatchesCommitted tracks committed pages per event type
	BatchesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_batches_committed_total",
			Help: "Total number of event pages committed",
		},
		[]string{"event_type"},
	)

	// BatchesFailed tracks pages rolled back because the store failed
	BatchesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_batches_failed_total",
			Help: "Total number of event pages rolled back",
		},
		[]string{"event_type"},
	)

	// BatchSize tracks the number of events per page
	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_batch_size",
			Help:    "Number of events per committed page",
			Buckets: []float64{1, 5, 10, 20, 30, 40, 50},
		},
		[]string{"event_type"},
	)

	// PollDuration tracks one full poll cycle (fetch plus commit)
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_poll_duration_seconds",
			Help:    "Poll cycle latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	// PollsSkipped tracks ticks dropped because a poll was still in flight
	PollsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_polls_skipped_total",
			Help: "Total number of polls skipped due to an in-flight poll",
		},
		[]string{"event_type"},
	)

	// RPCCallsTotal tracks upstream RPC calls
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"method"},
	)

	// RPCErrorsTotal tracks failed upstream RPC attempts
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"method", "error_type"},
	)

	// RPCLatency tracks upstream RPC latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// DeadLettersUnresolved tracks the current unresolved dead-letter count
	DeadLettersUnresolved = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_dead_letters_unresolved",
			Help: "Number of unresolved dead-letter entries",
		},
	)

	// DeadLettersExhausted tracks unresolved entries past the retry ceiling
	DeadLettersExhausted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_dead_letters_exhausted",
			Help: "Number of unresolved dead-letter entries that will not be retried again",
		},
	)

	// DeadLetterRetries tracks dead-letter retry attempts, by outcome
	DeadLetterRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_dead_letter_retries_total",
			Help: "Total number of dead-letter retry attempts",
		},
		[]string{"event_type", "outcome"},
	)

	// CursorLagSeconds tracks how old the cursor of each event type is
	CursorLagSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_cursor_lag_seconds",
			Help: "Seconds since the cursor was last advanced",
		},
		[]string{"event_type"},
	)

	// CaughtUp is 1 when the cursor sits at the newest upstream event
	CaughtUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_caught_up",
			Help: "Whether the event type has consumed the latest upstream event",
		},
		[]string{"event_type"},
	)

	// Running is 1 while the indexer is running
	Running = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_running",
			Help: "Whether the indexer is running",
		},
	)

	// SignalsTotal tracks emitted observability signals
	SignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_signals_total",
			Help: "Total number of observability signals emitted",
		},
		[]string{"kind"},
	)

	// SignalsDropped tracks signals dropped because a sink was saturated
	SignalsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_signals_dropped_total",
			Help: "Total number of signals dropped by the dispatcher",
		},
	)

	// DBConnectionPoolUsage tracks connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_db_connection_pool_usage_percent",
			Help: "Percentage of database connections in use",
		},
	)
)
