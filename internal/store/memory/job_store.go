// Package memory provides in-memory store implementations for
// development and testing. All stores are safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// JobStore keeps capture jobs in a map guarded by a mutex. The claim
// path mirrors the conditional UPDATE the Postgres store issues, so the
// race behavior matches production.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]capture.CaptureJob
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]capture.CaptureJob)}
}

// CreateJob inserts a pending job, enforcing duplicate suppression on the
// job key across non-terminal jobs.
func (s *JobStore) CreateJob(_ context.Context, job capture.CaptureJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return capture.ErrDuplicateJob
	}
	key := job.Key()
	for _, existing := range s.jobs {
		if existing.Key() == key && !existing.Status.Terminal() {
			return capture.ErrDuplicateJob
		}
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (capture.CaptureJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return capture.CaptureJob{}, capture.ErrNotFound
	}
	return job, nil
}

// FindActiveJob returns the non-terminal job for a key, or ErrNotFound.
func (s *JobStore) FindActiveJob(_ context.Context, key capture.JobKey) (capture.CaptureJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.Key() == key && !job.Status.Terminal() {
			return job, nil
		}
	}
	return capture.CaptureJob{}, capture.ErrNotFound
}

// ClaimJob compare-and-swaps the job from `from` to processing, stamping
// startedAt and incrementing attempts.
func (s *JobStore) ClaimJob(_ context.Context, jobID string, from capture.JobStatus, startedAt time.Time) (capture.CaptureJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return capture.CaptureJob{}, capture.ErrNotFound
	}
	if job.Status != from {
		return capture.CaptureJob{}, capture.ErrClaimLost
	}
	job.Status = capture.JobStatusProcessing
	ts := startedAt
	job.StartedAt = &ts
	job.Attempts++
	s.jobs[jobID] = job
	return job, nil
}

// UpdateJobStatus records a transition plus progress and error text.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status capture.JobStatus, errText string, progress capture.JobProgress, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return capture.ErrNotFound
	}
	job.Status = status
	job.LastError = errText
	job.Progress = progress
	if status.Terminal() {
		ts := at
		job.CompletedAt = &ts
	}
	if status != capture.JobStatusRetryPending {
		job.NextRetryAt = nil
	}
	s.jobs[jobID] = job
	return nil
}

// ScheduleRetry moves a job to retry_pending with its next attempt time.
func (s *JobStore) ScheduleRetry(_ context.Context, jobID string, nextRetryAt time.Time, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return capture.ErrNotFound
	}
	job.Status = capture.JobStatusRetryPending
	ts := nextRetryAt
	job.NextRetryAt = &ts
	job.LastError = errText
	s.jobs[jobID] = job
	return nil
}

// ListDueRetries returns retry_pending jobs whose retry time has passed,
// oldest retry time first.
func (s *JobStore) ListDueRetries(_ context.Context, now time.Time, limit int) ([]capture.CaptureJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []capture.CaptureJob
	for _, job := range s.jobs {
		if job.Status == capture.JobStatusRetryPending && job.NextRetryAt != nil && !job.NextRetryAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// CountPending returns the pending-queue depth for a processor.
func (s *JobStore) CountPending(_ context.Context, p capture.Processor) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, job := range s.jobs {
		if job.Processor == p && job.Status == capture.JobStatusPending {
			count++
		}
	}
	return count, nil
}

// ListPending returns still-pending jobs for a processor, oldest first.
func (s *JobStore) ListPending(_ context.Context, p capture.Processor, limit int) ([]capture.CaptureJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []capture.CaptureJob
	for _, job := range s.jobs {
		if job.Processor == p && job.Status == capture.JobStatusPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// ReassignProcessor moves a job between processors only while pending.
func (s *JobStore) ReassignProcessor(_ context.Context, jobID string, from, to capture.Processor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return capture.ErrNotFound
	}
	if job.Status != capture.JobStatusPending || job.Processor != from {
		return capture.ErrClaimLost
	}
	job.Processor = to
	s.jobs[jobID] = job
	return nil
}

// OutcomeCounts reports completed and failure totals for a processor since
// the cutoff. Failures include scheduled retries and permanent failures so
// the rollback monitor sees every failed execution.
func (s *JobStore) OutcomeCounts(_ context.Context, p capture.Processor, since time.Time) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	completed, failed := 0, 0
	for _, job := range s.jobs {
		if job.Processor != p {
			continue
		}
		switch job.Status {
		case capture.JobStatusCompleted:
			if job.CompletedAt != nil && !job.CompletedAt.Before(since) {
				completed++
			}
		case capture.JobStatusPermanentFailure:
			if job.CompletedAt != nil && !job.CompletedAt.Before(since) {
				failed++
			}
		case capture.JobStatusFailed, capture.JobStatusRetryPending:
			// Bound in-flight failures by their retry stamp (falling back
			// to the last execution start) so stale ones outside the
			// monitoring window do not skew the error rate.
			t := job.NextRetryAt
			if t == nil {
				t = job.StartedAt
			}
			if t != nil && !t.Before(since) {
				failed++
			}
		}
	}
	return completed, failed, nil
}
