// Package events defines the lifecycle event stream consumed by monitoring.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// Kind denotes the type of lifecycle milestone carried by an Event.
type Kind string

// Supported event kinds.
const (
	KindJobCreated        Kind = "JOB_CREATED"
	KindJobStarted        Kind = "JOB_STARTED"
	KindJobCompleted      Kind = "JOB_COMPLETED"
	KindJobFailed         Kind = "JOB_FAILED"
	KindJobRetried        Kind = "JOB_RETRIED"
	KindJobAbandoned      Kind = "JOB_ABANDONED"
	KindRequestSuppressed Kind = "REQUEST_SUPPRESSED"
	KindRolloutChanged    Kind = "ROLLOUT_CHANGED"
	KindRebalanceMoved    Kind = "REBALANCE_MOVED"
)

// Event captures a single orchestration milestone. Sinks must treat it as
// immutable.
type Event struct {
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Kind denotes which milestone occurred.
	Kind Kind `json:"kind"`
	// JobID identifies the job for job-scoped kinds.
	JobID string `json:"job_id,omitempty"`
	// RepositoryID scopes the event to a tracked repository.
	RepositoryID string `json:"repository_id,omitempty"`
	// JobType is set on job-scoped events.
	JobType capture.JobType `json:"job_type,omitempty"`
	// Processor is the capability the job is assigned to.
	Processor capture.Processor `json:"processor,omitempty"`
	// Status is the job's state after the transition.
	Status capture.JobStatus `json:"status,omitempty"`
	// Attempts counts executions so far.
	Attempts int `json:"attempts,omitempty"`
	// Dur captures execution latency for completions and failures.
	Dur time.Duration `json:"dur,omitempty"`
	// Note carries low-volume context: error text, rollback reason.
	Note string `json:"note,omitempty"`
	// Feature and Percent describe rollout changes.
	Feature string `json:"feature,omitempty"`
	Percent int    `json:"percent,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindJobCreated, KindJobStarted, KindJobCompleted,
		KindJobFailed, KindJobRetried, KindJobAbandoned:
		if e.JobID == "" {
			return fmt.Errorf("%s requires job id", e.Kind)
		}
	case KindRequestSuppressed:
		if e.RepositoryID == "" {
			return errors.New("suppression requires repository id")
		}
	case KindRolloutChanged:
		if e.Feature == "" {
			return errors.New("rollout change requires feature")
		}
	case KindRebalanceMoved:
		if e.JobID == "" {
			return errors.New("rebalance move requires job id")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
