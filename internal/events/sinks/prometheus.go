package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/repo-capture-engine/internal/events"
)

// PrometheusSink exports lifecycle-stream metrics. It owns its collectors so
// tests can register against a private registry.
type PrometheusSink struct {
	jobsCreated    *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec
	jobRuntime     *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	suppressions   prometheus.Counter
	rolloutChanges prometheus.Counter
	migrations     prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_events_jobs_created_total",
			Help: "Jobs created, partitioned by processor.",
		}, []string{"processor"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_events_jobs_finished_total",
			Help: "Jobs reaching completed or terminal failure, partitioned by processor and result.",
		}, []string{"processor", "result"}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capture_events_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"processor", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_events_retries_total",
			Help: "Retry schedules observed on the event stream.",
		}, []string{"processor"}),
		suppressions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_events_suppressions_total",
			Help: "Requests suppressed by the freshness gate.",
		}),
		rolloutChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_events_rollout_changes_total",
			Help: "Rollout configuration changes observed.",
		}),
		migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_events_rebalance_moves_total",
			Help: "Jobs moved between processors by the rebalancer.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsCreated,
		s.jobsCompleted,
		s.jobRuntime,
		s.retries,
		s.suppressions,
		s.rolloutChanges,
		s.migrations,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	proc := string(evt.Processor)
	switch evt.Kind {
	case events.KindJobCreated:
		s.jobsCreated.WithLabelValues(proc).Inc()
	case events.KindJobCompleted:
		s.jobsCompleted.WithLabelValues(proc, "success").Inc()
		s.observeRuntime(evt, "success")
	case events.KindJobAbandoned:
		s.jobsCompleted.WithLabelValues(proc, "permanent_failure").Inc()
		s.observeRuntime(evt, "permanent_failure")
	case events.KindJobRetried:
		s.retries.WithLabelValues(proc).Inc()
	case events.KindRequestSuppressed:
		s.suppressions.Inc()
	case events.KindRolloutChanged:
		s.rolloutChanges.Inc()
	case events.KindRebalanceMoved:
		s.migrations.Inc()
	}
}

func (s *PrometheusSink) observeRuntime(evt events.Event, result string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(string(evt.Processor), result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
