package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksScheduled tracks tasks created by campaign starts, by initial status
	TasksScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_tasks_scheduled_total",
			Help: "Total number of email tasks created",
		},
		[]string{"status"},
	)

	// SlotsExhausted counts recipients left unscheduled because both days were full
	SlotsExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailflow_slots_exhausted_total",
			Help: "Recipients not scheduled because the daily cap was reached",
		},
	)

	// DeliveryAttempts tracks transport attempts by outcome
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_delivery_attempts_total",
			Help: "Total number of delivery attempts",
		},
		[]string{"outcome", "class"},
	)

	// SendLatency tracks provider send latency
	SendLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailflow_send_latency_seconds",
			Help:    "Provider send latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RetriesScheduled counts re-armed tasks per error class
	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_retries_scheduled_total",
			Help: "Total number of deferred retries",
		},
		[]string{"class"},
	)

	// DeadLetters counts quarantined tasks per error class
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_dead_letters_total",
			Help: "Total number of dead-lettered tasks",
		},
		[]string{"class"},
	)

	// BreakerTrips counts campaigns paused by the failure breaker
	BreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailflow_breaker_trips_total",
			Help: "Total number of campaigns paused by the failure breaker",
		},
	)

	// Responses tracks inbound replies by match outcome
	Responses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_responses_total",
			Help: "Inbound replies by match outcome",
		},
		[]string{"outcome"},
	)

	// FollowUpsCancelled counts tasks cancelled by the reply cascade
	FollowUpsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailflow_follow_ups_cancelled_total",
			Help: "Queued tasks cancelled because the recipient replied",
		},
	)

	// TasksByStatus is the last observed queue composition
	TasksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailflow_tasks",
			Help: "Email tasks per status at the last health check",
		},
		[]string{"status"},
	)

	// HealthStatus is 0 healthy, 1 degraded, 2 unhealthy
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailflow_health_status",
			Help: "Aggregate health: 0 healthy, 1 degraded, 2 unhealthy",
		},
	)

	// AlertsEmitted counts alerts by severity
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_alerts_total",
			Help: "Alerts emitted by severity",
		},
		[]string{"severity"},
	)

	// DuplicateWebhooks counts webhook deliveries dropped by the dedup guard
	DuplicateWebhooks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailflow_duplicate_webhooks_total",
			Help: "Inbound webhook deliveries dropped as duplicates",
		},
	)

	// DBConnectionPoolUsage tracks the percentage of open connections used
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailflow_db_connection_pool_usage",
			Help: "Percentage of DB connection pool in use",
		},
	)
)
