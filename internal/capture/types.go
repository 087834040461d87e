// Package capture defines core types shared across the orchestration engine.
package capture

import (
	"fmt"
	"time"
)

// SizeTier is the coarse activity-volume bucket assigned to a repository.
type SizeTier string

// Size tiers ordered from smallest to largest.
const (
	SizeSmall  SizeTier = "small"
	SizeMedium SizeTier = "medium"
	SizeLarge  SizeTier = "large"
	SizeXL     SizeTier = "xl"
)

// Rank returns the ordinal position of the tier, small first.
func (t SizeTier) Rank() int {
	switch t {
	case SizeSmall:
		return 0
	case SizeMedium:
		return 1
	case SizeLarge:
		return 2
	case SizeXL:
		return 3
	default:
		return -1
	}
}

// TierFromRank converts an ordinal back to a tier, clamping to valid bounds.
func TierFromRank(rank int) SizeTier {
	switch {
	case rank <= 0:
		return SizeSmall
	case rank == 1:
		return SizeMedium
	case rank == 2:
		return SizeLarge
	default:
		return SizeXL
	}
}

// PriorityTier is the operator-assigned importance of a repository.
type PriorityTier string

// Priority tiers.
const (
	PriorityHigh   PriorityTier = "high"
	PriorityMedium PriorityTier = "medium"
	PriorityLow    PriorityTier = "low"
)

// TriggerSource records what produced a capture request.
type TriggerSource string

// Trigger sources.
const (
	TriggerManual    TriggerSource = "manual"
	TriggerAutomatic TriggerSource = "automatic"
	TriggerScheduled TriggerSource = "scheduled"
)

// ActivityLevel is a coarse recent-activity signal used by the scorer.
type ActivityLevel string

// Activity levels.
const (
	ActivityVeryActive ActivityLevel = "very_active"
	ActivityActive     ActivityLevel = "active"
	ActivityLow        ActivityLevel = "low"
)

// JobType enumerates the kinds of capture work the engine schedules.
type JobType string

// Job types.
const (
	JobTypeSync           JobType = "sync"
	JobTypeDetailFetch    JobType = "detail_fetch"
	JobTypeReviewFetch    JobType = "review_fetch"
	JobTypeCommentFetch   JobType = "comment_fetch"
	JobTypeCommitAnalysis JobType = "commit_analysis"
	JobTypeClassification JobType = "classification"
)

// JobTypes lists every job type; routing tables are validated against it.
func JobTypes() []JobType {
	return []JobType{
		JobTypeSync,
		JobTypeDetailFetch,
		JobTypeReviewFetch,
		JobTypeCommentFetch,
		JobTypeCommitAnalysis,
		JobTypeClassification,
	}
}

// Processor identifies which execution capability runs a job.
type Processor string

// Processor kinds.
const (
	ProcessorRealtime Processor = "realtime"
	ProcessorBulk     Processor = "bulk"
)

// Other returns the opposite processor.
func (p Processor) Other() Processor {
	if p == ProcessorRealtime {
		return ProcessorBulk
	}
	return ProcessorRealtime
}

// JobStatus represents the lifecycle state of a capture job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending          JobStatus = "pending"
	JobStatusProcessing       JobStatus = "processing"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusFailed           JobStatus = "failed"
	JobStatusRetryPending     JobStatus = "retry_pending"
	JobStatusPermanentFailure JobStatus = "permanent_failure"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusPermanentFailure
}

// RepoMetrics is the multi-metric snapshot the classifier votes on.
type RepoMetrics struct {
	Stars              int  `json:"stars"`
	Forks              int  `json:"forks"`
	MonthlyPRs         int  `json:"monthly_prs"`
	MonthlyCommits     int  `json:"monthly_commits"`
	ActiveContributors int  `json:"active_contributors"`
	DocsHeavy          bool `json:"docs_heavy,omitempty"`
	Mirror             bool `json:"mirror,omitempty"`
}

// Repository is the orchestration engine's view of a tracked repository.
type Repository struct {
	ID                 string       `json:"id"`
	Owner              string       `json:"owner"`
	Name               string       `json:"name"`
	SizeTier           SizeTier     `json:"size_tier"`
	PriorityTier       PriorityTier `json:"priority_tier"`
	Metrics            RepoMetrics  `json:"metrics"`
	SizeCalculatedAt   time.Time    `json:"size_calculated_at"`
	WebhookEnabled     bool         `json:"webhook_enabled"`
	LastWebhookEventAt *time.Time   `json:"last_webhook_event_at,omitempty"`
}

// FullName returns the owner/name form used in logs and source calls.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// JobKey uniquely identifies a job for duplicate suppression.
type JobKey struct {
	Type         JobType `json:"job_type"`
	RepositoryID string  `json:"repository_id"`
	ResourceID   string  `json:"resource_id"`
}

func (k JobKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Type, k.RepositoryID, k.ResourceID)
}

// JobProgress tracks per-item completion counts for a job.
type JobProgress struct {
	TotalItems     int `json:"total_items"`
	ProcessedItems int `json:"processed_items"`
	FailedItems    int `json:"failed_items"`
}

// CaptureJob is the persisted record for a unit of capture work.
type CaptureJob struct {
	ID            string        `json:"id"`
	RepositoryID  string        `json:"repository_id"`
	Type          JobType       `json:"job_type"`
	ResourceID    string        `json:"resource_id"`
	Processor     Processor     `json:"processor"`
	Status        JobStatus     `json:"status"`
	PriorityScore int           `json:"priority_score"`
	TriggerSource TriggerSource `json:"trigger_source"`
	Attempts      int           `json:"attempts"`
	MaxAttempts   int           `json:"max_attempts"`
	Metadata      Metadata      `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	NextRetryAt   *time.Time    `json:"next_retry_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	Progress      JobProgress   `json:"progress"`
}

// Key returns the duplicate-suppression key for the job.
func (j CaptureJob) Key() JobKey {
	return JobKey{Type: j.Type, RepositoryID: j.RepositoryID, ResourceID: j.ResourceID}
}

// RateWindow is the hourly call-budget bucket for one API credential.
type RateWindow struct {
	Credential string    `json:"credential"`
	HourBucket time.Time `json:"hour_bucket"`
	CallsMade  int64     `json:"calls_made"`
	ResetAt    time.Time `json:"reset_at"`
}

// RolloutConfig gates what fraction of repositories use the bulk routing path.
type RolloutConfig struct {
	FeatureName           string    `json:"feature_name"`
	RolloutPercentage     int       `json:"rollout_percentage"`
	Strategy              string    `json:"strategy"`
	EmergencyStop         bool      `json:"emergency_stop"`
	AutoRollbackEnabled   bool      `json:"auto_rollback_enabled"`
	MaxErrorRatePercent   float64   `json:"max_error_rate_percent"`
	MonitoringWindowHours int       `json:"monitoring_window_hours"`
	LastChangeReason      string    `json:"last_change_reason,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// CaptureRequest is the input to the intake pipeline from any trigger path.
type CaptureRequest struct {
	RepositoryID string        `json:"repository_id"`
	Type         JobType       `json:"job_type"`
	ResourceID   string        `json:"resource_id"`
	Trigger      TriggerSource `json:"trigger_source"`
	BatchSize    int           `json:"batch_size"`
	DataAge      time.Duration `json:"data_age"`
	Metadata     Metadata      `json:"-"`
}

// ActivityResult is what the external data source reports for a fetch.
type ActivityResult struct {
	Items        int
	APICallsUsed int
}

// ExecutionResult is returned by a processor capability after running a job.
type ExecutionResult struct {
	Progress     JobProgress
	APICallsUsed int
}

// QueueItem wakes a claimer for a persisted job.
type QueueItem struct {
	JobID     string
	Processor Processor
	Enqueued  int64
}
