package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// Duplicate suppression relies on a partial unique index over the job key
// for non-terminal jobs:
//
//	CREATE UNIQUE INDEX capture_jobs_active_key ON capture_jobs
//	    (job_type, repository_id, resource_id)
//	    WHERE status NOT IN ('completed', 'permanent_failure');
const jobColumns = `id, repository_id, job_type, resource_id, processor, status,
	priority_score, trigger_source, attempts, max_attempts, metadata,
	created_at, started_at, completed_at, next_retry_at, last_error,
	total_items, processed_items, failed_items`

// JobStore persists capture jobs in Postgres.
type JobStore struct {
	pool  querier
	table string
}

// NewJobStore connects a pool and returns a JobStore.
func NewJobStore(ctx context.Context, cfg Config, table string) (*JobStore, error) {
	table, err := checkTable(table, "capture_jobs")
	if err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(pool querier, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "capture_jobs")
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new pending job. The partial unique index converts
// concurrent duplicate creates into ErrDuplicateJob.
func (s *JobStore) CreateJob(ctx context.Context, job capture.CaptureJob) error {
	if job.ID == "" {
		return fmt.Errorf("%w: job id is required", capture.ErrInvalidInput)
	}
	var metadata []byte
	if job.Metadata != nil {
		var err error
		metadata, err = capture.MarshalMetadata(job.Metadata)
		if err != nil {
			return err
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, repository_id, job_type, resource_id, processor, status,
	priority_score, trigger_source, attempts, max_attempts, metadata,
	created_at, total_items, processed_items, failed_items
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`, s.table)
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.RepositoryID,
		string(job.Type),
		job.ResourceID,
		string(job.Processor),
		string(job.Status),
		job.PriorityScore,
		string(job.TriggerSource),
		job.Attempts,
		job.MaxAttempts,
		metadata,
		job.CreatedAt,
		job.Progress.TotalItems,
		job.Progress.ProcessedItems,
		job.Progress.FailedItems,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return capture.ErrDuplicateJob
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (capture.CaptureJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return capture.CaptureJob{}, capture.ErrNotFound
		}
		return capture.CaptureJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindActiveJob returns the non-terminal job for a key, or ErrNotFound.
func (s *JobStore) FindActiveJob(ctx context.Context, key capture.JobKey) (capture.CaptureJob, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE job_type = $1 AND repository_id = $2 AND resource_id = $3
  AND status NOT IN ('completed', 'permanent_failure')
LIMIT 1`, jobColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, string(key.Type), key.RepositoryID, key.ResourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return capture.CaptureJob{}, capture.ErrNotFound
		}
		return capture.CaptureJob{}, fmt.Errorf("find active job: %w", err)
	}
	return job, nil
}

// ClaimJob performs the conditional claim update. The WHERE clause on the
// prior status guarantees a single winner per claim race.
func (s *JobStore) ClaimJob(ctx context.Context, jobID string, from capture.JobStatus, startedAt time.Time) (capture.CaptureJob, error) {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'processing', started_at = $3, attempts = attempts + 1
WHERE id = $1 AND status = $2
RETURNING %s`, s.table, jobColumns)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID, string(from), startedAt))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return capture.CaptureJob{}, fmt.Errorf("claim job: %w", err)
	}
	// Lost race or unknown id; look up to distinguish.
	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return capture.CaptureJob{}, getErr
	}
	return capture.CaptureJob{}, capture.ErrClaimLost
}

// UpdateJobStatus records a transition plus progress and error text.
// completed_at is stamped only on terminal statuses; next_retry_at is
// cleared on any non-retry transition.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status capture.JobStatus, errText string, progress capture.JobProgress, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = $2,
    last_error = $3,
    total_items = $4,
    processed_items = $5,
    failed_items = $6,
    completed_at = CASE WHEN $2 IN ('completed', 'permanent_failure') THEN $7 ELSE completed_at END,
    next_retry_at = CASE WHEN $2 = 'retry_pending' THEN next_retry_at ELSE NULL END
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		jobID,
		string(status),
		errText,
		progress.TotalItems,
		progress.ProcessedItems,
		progress.FailedItems,
		at,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return capture.ErrNotFound
	}
	return nil
}

// ScheduleRetry moves a job to retry_pending with its next attempt time.
func (s *JobStore) ScheduleRetry(ctx context.Context, jobID string, nextRetryAt time.Time, errText string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'retry_pending', next_retry_at = $2, last_error = $3
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, nextRetryAt, errText)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return capture.ErrNotFound
	}
	return nil
}

// ListDueRetries returns retry_pending jobs whose retry time has passed.
func (s *JobStore) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]capture.CaptureJob, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE status = 'retry_pending' AND next_retry_at <= $1
ORDER BY next_retry_at
LIMIT $2`, jobColumns, s.table)
	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due retries: %w", err)
	}
	return scanJobs(rows)
}

// CountPending returns the pending-queue depth for a processor.
func (s *JobStore) CountPending(ctx context.Context, p capture.Processor) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE processor = $1 AND status = 'pending'`, s.table)
	var count int
	if err := s.pool.QueryRow(ctx, query, string(p)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

// ListPending returns still-pending jobs for a processor, oldest first.
func (s *JobStore) ListPending(ctx context.Context, p capture.Processor, limit int) ([]capture.CaptureJob, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE processor = $1 AND status = 'pending'
ORDER BY created_at
LIMIT $2`, jobColumns, s.table)
	rows, err := s.pool.Query(ctx, query, string(p), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return scanJobs(rows)
}

// ReassignProcessor moves a job between processors only while pending.
func (s *JobStore) ReassignProcessor(ctx context.Context, jobID string, from, to capture.Processor) error {
	query := fmt.Sprintf(`
UPDATE %s
SET processor = $3
WHERE id = $1 AND processor = $2 AND status = 'pending'`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("reassign processor: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return getErr
	}
	return capture.ErrClaimLost
}

// OutcomeCounts reports completed and failure totals for jobs on a
// processor since the cutoff. In-flight failures are bounded by their
// retry stamp so stale ones outside the window do not count.
func (s *JobStore) OutcomeCounts(ctx context.Context, p capture.Processor, since time.Time) (int, int, error) {
	query := fmt.Sprintf(`
SELECT
	COUNT(*) FILTER (WHERE status = 'completed' AND completed_at >= $2),
	COUNT(*) FILTER (WHERE (status = 'permanent_failure' AND completed_at >= $2)
		OR (status IN ('failed', 'retry_pending')
			AND COALESCE(next_retry_at, started_at) >= $2))
FROM %s
WHERE processor = $1`, s.table)
	var completed, failed int
	if err := s.pool.QueryRow(ctx, query, string(p), since).Scan(&completed, &failed); err != nil {
		return 0, 0, fmt.Errorf("outcome counts: %w", err)
	}
	return completed, failed, nil
}

func scanJob(row pgx.Row) (capture.CaptureJob, error) {
	var (
		job      capture.CaptureJob
		jobType  string
		proc     string
		status   string
		trigger  string
		metadata []byte
	)
	err := row.Scan(
		&job.ID,
		&job.RepositoryID,
		&jobType,
		&job.ResourceID,
		&proc,
		&status,
		&job.PriorityScore,
		&trigger,
		&job.Attempts,
		&job.MaxAttempts,
		&metadata,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.NextRetryAt,
		&job.LastError,
		&job.Progress.TotalItems,
		&job.Progress.ProcessedItems,
		&job.Progress.FailedItems,
	)
	if err != nil {
		return capture.CaptureJob{}, err
	}
	job.Type = capture.JobType(jobType)
	job.Processor = capture.Processor(proc)
	job.Status = capture.JobStatus(status)
	job.TriggerSource = capture.TriggerSource(trigger)
	if len(metadata) > 0 {
		m, err := capture.UnmarshalMetadata(metadata)
		if err != nil {
			return capture.CaptureJob{}, err
		}
		job.Metadata = m
	}
	return job, nil
}

func scanJobs(rows pgx.Rows) ([]capture.CaptureJob, error) {
	defer rows.Close()
	var jobs []capture.CaptureJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}
