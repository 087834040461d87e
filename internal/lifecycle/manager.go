// Package lifecycle owns every job status transition. Claimers, the API
// surface and the scheduler all go through the Manager so the state
// machine has a single author.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
	"github.com/JakeFAU/repo-capture-engine/internal/events"
	"github.com/JakeFAU/repo-capture-engine/internal/telemetry"
)

// Config tunes the retry backoff schedule.
type Config struct {
	// BaseBackoff is the delay before the first retry (default 1m).
	BaseBackoff time.Duration
	// MaxBackoff caps the exponential schedule (default 30m).
	MaxBackoff time.Duration
	// DefaultMaxAttempts is the retry budget for jobs that carry none
	// (default 3). The initial execution does not count against it.
	DefaultMaxAttempts int
}

func (c *Config) applyDefaults() {
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Minute
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Minute
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 3
	}
}

// Manager applies job state transitions against the store and reports
// them on the event stream.
type Manager struct {
	cfg     Config
	jobs    capture.JobStore
	queue   capture.Queue
	clock   capture.Clock
	emitter events.Emitter
	logger  *zap.Logger
}

// NewManager wires the state machine dependencies.
func NewManager(cfg Config, jobs capture.JobStore, queue capture.Queue, clock capture.Clock, emitter events.Emitter, logger *zap.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		jobs:    jobs,
		queue:   queue,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
	}
}

// Backoff returns the delay before the next attempt. attempts counts
// executions performed so far, so the first retry waits one base unit.
func (m *Manager) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := m.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= m.cfg.MaxBackoff {
			return m.cfg.MaxBackoff
		}
	}
	if delay > m.cfg.MaxBackoff {
		delay = m.cfg.MaxBackoff
	}
	return delay
}

// Claim moves a job from the given status into processing, stamping the
// start time and incrementing the attempt counter. A lost race surfaces
// as ErrClaimLost and changes nothing; the attempt belongs to the winner.
func (m *Manager) Claim(ctx context.Context, jobID string, from capture.JobStatus) (capture.CaptureJob, error) {
	now := m.clock.Now()
	job, err := m.jobs.ClaimJob(ctx, jobID, from, now)
	if err != nil {
		return capture.CaptureJob{}, err
	}
	m.emit(events.Event{
		TS:           now,
		Kind:         events.KindJobStarted,
		JobID:        job.ID,
		RepositoryID: job.RepositoryID,
		JobType:      job.Type,
		Processor:    job.Processor,
		Status:       job.Status,
		Attempts:     job.Attempts,
	})
	return job, nil
}

// Complete marks a processing job as completed.
func (m *Manager) Complete(ctx context.Context, job capture.CaptureJob, progress capture.JobProgress) error {
	now := m.clock.Now()
	if err := m.jobs.UpdateJobStatus(ctx, job.ID, capture.JobStatusCompleted, "", progress, now); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	telemetry.CountJob(string(job.Processor), string(capture.JobStatusCompleted))
	m.emit(events.Event{
		TS:           now,
		Kind:         events.KindJobCompleted,
		JobID:        job.ID,
		RepositoryID: job.RepositoryID,
		JobType:      job.Type,
		Processor:    job.Processor,
		Status:       capture.JobStatusCompleted,
		Attempts:     job.Attempts,
		Dur:          m.runtime(job, now),
	})
	return nil
}

// Fail records a failed execution and decides what happens next:
// permanent errors abandon the job immediately, transient errors earn a
// retry on the exponential schedule until the retry budget runs out
// (maxAttempts counts retries, so the initial execution is free), and
// system errors retry on the base delay without counting against the
// budget, because they indicate our own infrastructure failed rather
// than the job.
func (m *Manager) Fail(ctx context.Context, job capture.CaptureJob, execErr error, progress capture.JobProgress) error {
	class := capture.Classify(execErr)
	errText := ""
	if execErr != nil {
		errText = execErr.Error()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = m.cfg.DefaultMaxAttempts
	}

	switch class {
	case capture.ClassPermanent:
		return m.abandon(ctx, job, errText, progress, "permanent error")
	case capture.ClassSystem:
		return m.scheduleRetry(ctx, job, m.cfg.BaseBackoff, errText, progress)
	default:
		// Attempts counts executions, incremented at claim. The failure of
		// execution N schedules retry N while N <= maxAttempts, so a budget
		// of three yields delays of 1m, 2m and 4m before the job is
		// abandoned on its fourth failure.
		if job.Attempts > maxAttempts {
			return m.abandon(ctx, job, errText, progress, "attempts exhausted")
		}
		return m.scheduleRetry(ctx, job, m.Backoff(job.Attempts), errText, progress)
	}
}

// ForceRetry is the operator override: it puts a failed or abandoned job
// back on the retry schedule immediately. Jobs currently processing
// cannot be forced.
func (m *Manager) ForceRetry(ctx context.Context, jobID string) error {
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case capture.JobStatusProcessing:
		return fmt.Errorf("%w: job %s is processing", capture.ErrInvalidInput, jobID)
	case capture.JobStatusCompleted:
		return fmt.Errorf("%w: job %s already completed", capture.ErrInvalidInput, jobID)
	}
	now := m.clock.Now()
	if err := m.jobs.ScheduleRetry(ctx, jobID, now, "operator force retry"); err != nil {
		return fmt.Errorf("force retry job %s: %w", jobID, err)
	}
	m.logger.Info("job force-retried", zap.String("job_id", jobID))
	m.emit(events.Event{
		TS:           now,
		Kind:         events.KindJobRetried,
		JobID:        job.ID,
		RepositoryID: job.RepositoryID,
		JobType:      job.Type,
		Processor:    job.Processor,
		Status:       capture.JobStatusRetryPending,
		Attempts:     job.Attempts,
		Note:         "operator force retry",
	})
	return nil
}

// ReleaseDueRetries moves retry_pending jobs whose time has come back to
// pending and wakes a claimer for each. Returns the number released.
func (m *Manager) ReleaseDueRetries(ctx context.Context, limit int) (int, error) {
	now := m.clock.Now()
	due, err := m.jobs.ListDueRetries(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due retries: %w", err)
	}
	released := 0
	for _, job := range due {
		if err := m.jobs.UpdateJobStatus(ctx, job.ID, capture.JobStatusPending, job.LastError, job.Progress, now); err != nil {
			m.logger.Warn("failed to release retry",
				zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		item := capture.QueueItem{JobID: job.ID, Processor: job.Processor, Enqueued: now.UnixNano()}
		if err := m.queue.Enqueue(ctx, item); err != nil {
			// The job stays pending; the next poll or a depth scan will
			// pick it up.
			m.logger.Warn("failed to enqueue released retry",
				zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		released++
	}
	return released, nil
}

func (m *Manager) abandon(ctx context.Context, job capture.CaptureJob, errText string, progress capture.JobProgress, reason string) error {
	now := m.clock.Now()
	if err := m.jobs.UpdateJobStatus(ctx, job.ID, capture.JobStatusPermanentFailure, errText, progress, now); err != nil {
		return fmt.Errorf("abandon job %s: %w", job.ID, err)
	}
	telemetry.CountJob(string(job.Processor), string(capture.JobStatusPermanentFailure))
	m.logger.Warn("job abandoned",
		zap.String("job_id", job.ID),
		zap.String("reason", reason),
		zap.Int("attempts", job.Attempts),
		zap.String("error", errText))
	m.emit(events.Event{
		TS:           now,
		Kind:         events.KindJobAbandoned,
		JobID:        job.ID,
		RepositoryID: job.RepositoryID,
		JobType:      job.Type,
		Processor:    job.Processor,
		Status:       capture.JobStatusPermanentFailure,
		Attempts:     job.Attempts,
		Dur:          m.runtime(job, now),
		Note:         reason,
	})
	return nil
}

func (m *Manager) scheduleRetry(ctx context.Context, job capture.CaptureJob, delay time.Duration, errText string, progress capture.JobProgress) error {
	now := m.clock.Now()
	nextRetryAt := now.Add(delay)
	// Persist progress first so a retry resumes from where it stopped.
	if err := m.jobs.UpdateJobStatus(ctx, job.ID, capture.JobStatusFailed, errText, progress, now); err != nil {
		return fmt.Errorf("record failure for job %s: %w", job.ID, err)
	}
	if err := m.jobs.ScheduleRetry(ctx, job.ID, nextRetryAt, errText); err != nil {
		return fmt.Errorf("schedule retry for job %s: %w", job.ID, err)
	}
	telemetry.CountRetry(string(job.Processor))
	m.logger.Info("job retry scheduled",
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.Attempts),
		zap.Duration("delay", delay))
	m.emit(events.Event{
		TS:           now,
		Kind:         events.KindJobRetried,
		JobID:        job.ID,
		RepositoryID: job.RepositoryID,
		JobType:      job.Type,
		Processor:    job.Processor,
		Status:       capture.JobStatusRetryPending,
		Attempts:     job.Attempts,
		Note:         errText,
	})
	return nil
}

func (m *Manager) runtime(job capture.CaptureJob, now time.Time) time.Duration {
	if job.StartedAt == nil {
		return 0
	}
	d := now.Sub(*job.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

func (m *Manager) emit(evt events.Event) {
	if m.emitter != nil {
		m.emitter.Emit(evt)
	}
}
