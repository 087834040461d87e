package capture

import (
	"context"
	"time"
)

// JobStore persists capture jobs. Implementations must support the
// conditional status update used by ClaimJob so two claimers can never both
// win the same job.
type JobStore interface {
	// CreateJob inserts a new pending job. Returns ErrDuplicateJob when a
	// non-terminal job with the same JobKey already exists.
	CreateJob(ctx context.Context, job CaptureJob) error
	GetJob(ctx context.Context, jobID string) (CaptureJob, error)
	// FindActiveJob returns the non-terminal job for a key, or ErrNotFound.
	FindActiveJob(ctx context.Context, key JobKey) (CaptureJob, error)
	// ClaimJob compare-and-swaps status from `from` to processing, stamps
	// startedAt and increments attempts. Returns ErrClaimLost when another
	// claimer moved the job first.
	ClaimJob(ctx context.Context, jobID string, from JobStatus, startedAt time.Time) (CaptureJob, error)
	// UpdateJobStatus records a transition plus progress and error text.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, progress JobProgress, at time.Time) error
	// ScheduleRetry moves a failed job to retry_pending with its next attempt time.
	ScheduleRetry(ctx context.Context, jobID string, nextRetryAt time.Time, errText string) error
	// ListDueRetries returns retry_pending jobs with nextRetryAt <= now.
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]CaptureJob, error)
	// CountPending returns the pending-queue depth for a processor.
	CountPending(ctx context.Context, p Processor) (int, error)
	// ListPending returns still-pending jobs for a processor, oldest first.
	ListPending(ctx context.Context, p Processor, limit int) ([]CaptureJob, error)
	// ReassignProcessor moves a job between processors only while it is
	// still pending; any other state returns ErrClaimLost.
	ReassignProcessor(ctx context.Context, jobID string, from, to Processor) error
	// OutcomeCounts reports completed and failed totals for jobs on a
	// processor that reached a terminal-or-failed state since the cutoff.
	OutcomeCounts(ctx context.Context, p Processor, since time.Time) (completed int, failed int, err error)
}

// RepositoryStore persists tracked repositories.
type RepositoryStore interface {
	GetRepository(ctx context.Context, id string) (Repository, error)
	SaveRepository(ctx context.Context, repo Repository) error
	// UpdateClassification records a classifier verdict; only the classifier
	// calls this.
	UpdateClassification(ctx context.Context, id string, tier SizeTier, metrics RepoMetrics, at time.Time) error
	// ListDueClassification returns repositories whose sizeCalculatedAt is
	// older than the cutoff for their priority tier.
	ListDueClassification(ctx context.Context, highPriorityBefore, othersBefore time.Time, limit int) ([]Repository, error)
}

// RateWindowStore persists hourly budget windows per credential.
type RateWindowStore interface {
	LoadWindow(ctx context.Context, credential string, hourBucket time.Time) (RateWindow, error)
	SaveWindow(ctx context.Context, window RateWindow) error
}

// RolloutStore persists rollout configuration.
type RolloutStore interface {
	GetConfig(ctx context.Context, feature string) (RolloutConfig, error)
	SaveConfig(ctx context.Context, cfg RolloutConfig) error
}

// ActivitySource is the external version-control data source.
type ActivitySource interface {
	// FetchActivity pulls activity items for a job and reports how many API
	// calls it spent so the budget tracker stays accurate.
	FetchActivity(ctx context.Context, repo Repository, job CaptureJob) (ActivityResult, error)
	// FetchMetrics returns the classifier's metrics snapshot.
	FetchMetrics(ctx context.Context, repo Repository) (RepoMetrics, error)
}

// ProcessorCapability executes a claimed job. The realtime capability runs
// with a short SLA; the bulk capability may take much longer. Both report
// consumed API calls through the result.
type ProcessorCapability interface {
	Execute(ctx context.Context, job CaptureJob) (ExecutionResult, error)
}

// Queue provides enqueue/dequeue wake-up semantics for claimers.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (seam for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
