package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

var jobColumnNames = []string{
	"id", "repository_id", "job_type", "resource_id", "processor", "status",
	"priority_score", "trigger_source", "attempts", "max_attempts", "metadata",
	"created_at", "started_at", "completed_at", "next_retry_at", "last_error",
	"total_items", "processed_items", "failed_items",
}

func jobRow(t *testing.T, job capture.CaptureJob) *pgxmock.Rows {
	t.Helper()
	var metadata []byte
	if job.Metadata != nil {
		var err error
		metadata, err = capture.MarshalMetadata(job.Metadata)
		require.NoError(t, err)
	}
	return pgxmock.NewRows(jobColumnNames).AddRow(
		job.ID, job.RepositoryID, string(job.Type), job.ResourceID,
		string(job.Processor), string(job.Status), job.PriorityScore,
		string(job.TriggerSource), job.Attempts, job.MaxAttempts, metadata,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.NextRetryAt,
		job.LastError, job.Progress.TotalItems, job.Progress.ProcessedItems,
		job.Progress.FailedItems,
	)
}

func testJob(now time.Time) capture.CaptureJob {
	return capture.CaptureJob{
		ID:            "job-uuid",
		RepositoryID:  "repo-1",
		Type:          capture.JobTypeSync,
		Processor:     capture.ProcessorRealtime,
		Status:        capture.JobStatusPending,
		PriorityScore: 90,
		TriggerSource: capture.TriggerManual,
		MaxAttempts:   3,
		Metadata:      &capture.SyncMetadata{WindowDays: 30},
		CreatedAt:     now,
	}
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "capture_jobs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	job := testJob(now)
	metadata, err := capture.MarshalMetadata(job.Metadata)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO capture_jobs").
		WithArgs(
			job.ID, job.RepositoryID, "sync", "", "realtime", "pending",
			90, "manual", 0, 3, metadata, now, 0, 0, 0,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "capture_jobs")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO capture_jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = store.CreateJob(context.Background(), testJob(time.Now().UTC()))
	require.ErrorIs(t, err, capture.ErrDuplicateJob)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJobReturnsUpdatedRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "capture_jobs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	claimed := testJob(now)
	claimed.Status = capture.JobStatusProcessing
	claimed.Attempts = 1
	claimed.StartedAt = &now

	mock.ExpectQuery("UPDATE capture_jobs").
		WithArgs("job-uuid", "pending", now).
		WillReturnRows(jobRow(t, claimed))

	got, err := store.ClaimJob(context.Background(), "job-uuid", capture.JobStatusPending, now)
	require.NoError(t, err)
	require.Equal(t, capture.JobStatusProcessing, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.Metadata)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJobLostRace(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "capture_jobs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	taken := testJob(now)
	taken.Status = capture.JobStatusProcessing

	// No row matches the conditional update, then the follow-up lookup
	// finds the job already claimed elsewhere.
	mock.ExpectQuery("UPDATE capture_jobs").
		WithArgs("job-uuid", "pending", now).
		WillReturnRows(pgxmock.NewRows(jobColumnNames))
	mock.ExpectQuery("SELECT (.+) FROM capture_jobs WHERE id").
		WithArgs("job-uuid").
		WillReturnRows(jobRow(t, taken))

	_, err = store.ClaimJob(context.Background(), "job-uuid", capture.JobStatusPending, now)
	require.ErrorIs(t, err, capture.ErrClaimLost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "capture_jobs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE capture_jobs").
		WithArgs("missing", "completed", "", 0, 0, 0, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateJobStatus(context.Background(), "missing", capture.JobStatusCompleted, "", capture.JobProgress{}, now)
	require.ErrorIs(t, err, capture.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueRetriesScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "capture_jobs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	retryAt := now.Add(-time.Minute)
	job := testJob(now)
	job.Status = capture.JobStatusRetryPending
	job.NextRetryAt = &retryAt

	mock.ExpectQuery("SELECT (.+) FROM capture_jobs").
		WithArgs(now, 10).
		WillReturnRows(jobRow(t, job))

	due, err := store.ListDueRetries(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, capture.JobStatusRetryPending, due[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomeCounts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "capture_jobs")
	require.NoError(t, err)

	since := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT").
		WithArgs("bulk", since).
		WillReturnRows(pgxmock.NewRows([]string{"completed", "failed"}).AddRow(40, 2))

	completed, failed, err := store.OutcomeCounts(context.Background(), capture.ProcessorBulk, since)
	require.NoError(t, err)
	require.Equal(t, 40, completed)
	require.Equal(t, 2, failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewJobStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStoreWithPool(mock, "bad;table")
	require.Error(t, err)
}
