// Package telemetry defines the engine's Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_jobs_total",
			Help: "Total capture jobs reaching a lifecycle state, labeled by processor and status.",
		},
		[]string{"processor", "status"},
	)

	jobRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_job_retries_total",
			Help: "Total retry schedules, labeled by processor.",
		},
		[]string{"processor"},
	)

	pendingJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capture_pending_jobs",
			Help: "Pending queue depth per processor, sampled by the rebalancer.",
		},
		[]string{"processor"},
	)

	rebalanceMigrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capture_rebalance_migrations_total",
			Help: "Jobs migrated between processors by the rebalancer.",
		},
	)

	budgetCallsMade = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capture_budget_calls_made",
			Help: "API calls recorded against the current hourly window, per credential.",
		},
		[]string{"credential"},
	)

	budgetDeferralsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_budget_deferrals_total",
			Help: "Dispatches deferred because the hourly budget was exhausted.",
		},
		[]string{"credential"},
	)

	budgetPacerDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capture_budget_pacer_delay_seconds",
			Help:    "Histogram of pacer wait durations before dispatch.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"credential"},
	)

	rolloutPercentage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capture_rollout_percentage",
			Help: "Current rollout percentage per feature.",
		},
		[]string{"feature"},
	)

	rolloutRollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_rollout_rollbacks_total",
			Help: "Automatic rollbacks triggered by the rollout monitor.",
		},
		[]string{"feature"},
	)

	suppressedRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capture_suppressed_requests_total",
			Help: "Capture requests suppressed by the webhook freshness gate.",
		},
	)
)

// CountJob records a job reaching a lifecycle state.
func CountJob(processor, status string) {
	jobsTotal.WithLabelValues(processor, status).Inc()
}

// CountRetry records a scheduled retry.
func CountRetry(processor string) {
	jobRetriesTotal.WithLabelValues(processor).Inc()
}

// SetPendingDepth records the sampled pending depth for a processor.
func SetPendingDepth(processor string, depth int) {
	pendingJobs.WithLabelValues(processor).Set(float64(depth))
}

// CountMigration records one rebalancer migration.
func CountMigration() {
	rebalanceMigrationsTotal.Inc()
}

// SetBudgetCalls records the current window usage for a credential.
func SetBudgetCalls(credential string, calls int64) {
	budgetCallsMade.WithLabelValues(credential).Set(float64(calls))
}

// CountBudgetDeferral records a dispatch deferred on budget exhaustion.
func CountBudgetDeferral(credential string) {
	budgetDeferralsTotal.WithLabelValues(credential).Inc()
}

// ObservePacerDelay records a pacer wait before dispatch.
func ObservePacerDelay(credential string, d time.Duration) {
	budgetPacerDelaySeconds.WithLabelValues(credential).Observe(d.Seconds())
}

// SetRolloutPercentage records the live rollout percentage for a feature.
func SetRolloutPercentage(feature string, pct int) {
	rolloutPercentage.WithLabelValues(feature).Set(float64(pct))
}

// CountRollback records an automatic rollback.
func CountRollback(feature string) {
	rolloutRollbacksTotal.WithLabelValues(feature).Inc()
}

// CountSuppressed records a freshness-gate suppression.
func CountSuppressed() {
	suppressedRequestsTotal.Inc()
}
