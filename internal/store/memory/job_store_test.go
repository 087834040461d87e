package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

func newJob(id, repoID string, jt capture.JobType, resource string) capture.CaptureJob {
	return capture.CaptureJob{
		ID:           id,
		RepositoryID: repoID,
		Type:         jt,
		ResourceID:   resource,
		Processor:    capture.ProcessorRealtime,
		Status:       capture.JobStatusPending,
		MaxAttempts:  3,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestCreateJobSuppressesDuplicates(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", "r1", capture.JobTypeSync, "")))

	// Same key while the first job is still active.
	err := store.CreateJob(ctx, newJob("j2", "r1", capture.JobTypeSync, ""))
	require.ErrorIs(t, err, capture.ErrDuplicateJob)

	// Different resource is a different key.
	require.NoError(t, store.CreateJob(ctx, newJob("j3", "r1", capture.JobTypeDetailFetch, "42")))

	// After the first job reaches a terminal state the key frees up.
	require.NoError(t, store.UpdateJobStatus(ctx, "j1", capture.JobStatusCompleted, "", capture.JobProgress{}, time.Now().UTC()))
	require.NoError(t, store.CreateJob(ctx, newJob("j4", "r1", capture.JobTypeSync, "")))
}

func TestClaimJobSingleWinner(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, newJob("j1", "r1", capture.JobTypeSync, "")))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ClaimJob(ctx, "j1", capture.JobStatusPending, time.Now().UTC())
			if err == nil {
				wins.Add(1)
			} else if !errors.Is(err, capture.ErrClaimLost) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, capture.JobStatusProcessing, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.StartedAt)
}

func TestScheduleRetryAndListDue(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateJob(ctx, newJob(id, "r-"+id, capture.JobTypeSync, "")))
	}
	require.NoError(t, store.ScheduleRetry(ctx, "a", now.Add(-2*time.Minute), "transient"))
	require.NoError(t, store.ScheduleRetry(ctx, "b", now.Add(-1*time.Minute), "transient"))
	require.NoError(t, store.ScheduleRetry(ctx, "c", now.Add(10*time.Minute), "transient"))

	due, err := store.ListDueRetries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "a", due[0].ID)
	require.Equal(t, "b", due[1].ID)

	job, err := store.GetJob(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, capture.JobStatusRetryPending, job.Status)
	require.Equal(t, "transient", job.LastError)
}

func TestReassignProcessorOnlyWhilePending(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := newJob("j1", "r1", capture.JobTypeSync, "")
	job.Processor = capture.ProcessorBulk
	require.NoError(t, store.CreateJob(ctx, job))

	require.NoError(t, store.ReassignProcessor(ctx, "j1", capture.ProcessorBulk, capture.ProcessorRealtime))
	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, capture.ProcessorRealtime, got.Processor)

	_, err = store.ClaimJob(ctx, "j1", capture.JobStatusPending, time.Now().UTC())
	require.NoError(t, err)
	err = store.ReassignProcessor(ctx, "j1", capture.ProcessorRealtime, capture.ProcessorBulk)
	require.ErrorIs(t, err, capture.ErrClaimLost)
}

func TestPendingCountsPerProcessor(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	for i, proc := range []capture.Processor{
		capture.ProcessorRealtime, capture.ProcessorRealtime, capture.ProcessorBulk,
	} {
		job := newJob(string(rune('a'+i)), "r"+string(rune('a'+i)), capture.JobTypeSync, "")
		job.Processor = proc
		require.NoError(t, store.CreateJob(ctx, job))
	}

	rt, err := store.CountPending(ctx, capture.ProcessorRealtime)
	require.NoError(t, err)
	require.Equal(t, 2, rt)
	bulk, err := store.CountPending(ctx, capture.ProcessorBulk)
	require.NoError(t, err)
	require.Equal(t, 1, bulk)

	pending, err := store.ListPending(ctx, capture.ProcessorRealtime, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestOutcomeCounts(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	now := time.Now().UTC()

	complete := func(id string) {
		require.NoError(t, store.CreateJob(ctx, newJob(id, "r-"+id, capture.JobTypeSync, "")))
		_, err := store.ClaimJob(ctx, id, capture.JobStatusPending, now)
		require.NoError(t, err)
		require.NoError(t, store.UpdateJobStatus(ctx, id, capture.JobStatusCompleted, "", capture.JobProgress{}, now))
	}
	complete("ok1")
	complete("ok2")

	require.NoError(t, store.CreateJob(ctx, newJob("bad", "r-bad", capture.JobTypeSync, "")))
	_, err := store.ClaimJob(ctx, "bad", capture.JobStatusPending, now)
	require.NoError(t, err)
	require.NoError(t, store.UpdateJobStatus(ctx, "bad", capture.JobStatusPermanentFailure, "boom", capture.JobProgress{}, now))

	// Pending retries count only when their retry stamp falls inside the
	// window; stale ones from earlier hours are ignored.
	retry := func(id string, at time.Time) {
		require.NoError(t, store.CreateJob(ctx, newJob(id, "r-"+id, capture.JobTypeSync, "")))
		_, err := store.ClaimJob(ctx, id, capture.JobStatusPending, at)
		require.NoError(t, err)
		require.NoError(t, store.ScheduleRetry(ctx, id, at.Add(time.Minute), "boom"))
	}
	retry("stale-retry", now.Add(-3*time.Hour))
	retry("fresh-retry", now)

	completed, failed, err := store.OutcomeCounts(ctx, capture.ProcessorRealtime, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, completed)
	require.Equal(t, 2, failed)
}
