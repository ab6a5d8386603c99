package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ContributionsTotal tracks accepted contributions per group
	ContributionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackpot_contributions_total",
			Help: "Total number of accepted contributions",
		},
		[]string{"group"},
	)

	// ContributionAmount tracks contributed cents per group
	ContributionAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackpot_contribution_cents_total",
			Help: "Total contributed amount in minor currency units",
		},
		[]string{"group"},
	)

	// WinsTotal tracks paid wins per group
	WinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackpot_wins_total",
			Help: "Total number of paid jackpot wins",
		},
		[]string{"group"},
	)

	// WinAmount tracks paid-out cents per group
	WinAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackpot_win_cents_total",
			Help: "Total paid-out amount in minor currency units",
		},
		[]string{"group"},
	)

	// OperationLatency tracks end-to-end operation latency
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jackpot_operation_latency_seconds",
			Help:    "Operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// OperationErrors tracks classified failures per operation and code
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackpot_operation_errors_total",
			Help: "Total number of failed operations",
		},
		[]string{"operation", "code"},
	)

	// RetriesTotal tracks retry attempts per operation
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackpot_retries_total",
			Help: "Total number of retry attempts",
		},
		[]string{"operation"},
	)

	// VersionConflicts tracks optimistic lock conflicts per group
	VersionConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackpot_version_conflicts_total",
			Help: "Total number of optimistic version conflicts",
		},
		[]string{"group"},
	)

	// BreakerState exposes the circuit breaker state per operation type
	// (0 = closed, 1 = half-open, 2 = open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jackpot_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"operation"},
	)

	// BreakerRejections tracks fast-failed calls while a breaker is open
	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackpot_breaker_rejections_total",
			Help: "Total number of calls rejected by an open circuit breaker",
		},
		[]string{"operation"},
	)

	// AuditDropped tracks audit events dropped due to a full buffer
	AuditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jackpot_audit_dropped_total",
			Help: "Total number of audit events dropped",
		},
	)

	// PoolBalance exposes the current pool balance per group
	PoolBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jackpot_pool_balance_cents",
			Help: "Current pool balance in minor currency units",
		},
		[]string{"group"},
	)

	// CacheHits tracks pool snapshot cache hits and misses
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackpot_cache_requests_total",
			Help: "Pool cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// DBConnectionPoolUsage tracks database connection pool utilization
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jackpot_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
