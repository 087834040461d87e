package intake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
	"github.com/JakeFAU/repo-capture-engine/internal/classify"
	"github.com/JakeFAU/repo-capture-engine/internal/events"
	"github.com/JakeFAU/repo-capture-engine/internal/freshness"
	"github.com/JakeFAU/repo-capture-engine/internal/id/uuid"
	queuememory "github.com/JakeFAU/repo-capture-engine/internal/queue/memory"
	"github.com/JakeFAU/repo-capture-engine/internal/routing"
	storememory "github.com/JakeFAU/repo-capture-engine/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeSource struct {
	metrics capture.RepoMetrics
	err     error
	calls   int
}

func (s *fakeSource) FetchActivity(context.Context, capture.Repository, capture.CaptureJob) (capture.ActivityResult, error) {
	return capture.ActivityResult{}, s.err
}

func (s *fakeSource) FetchMetrics(context.Context, capture.Repository) (capture.RepoMetrics, error) {
	s.calls++
	return s.metrics, s.err
}

type staticEligibility struct{ eligible bool }

func (s staticEligibility) IsEligible(capture.Repository) bool { return s.eligible }

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type testRig struct {
	service *Service
	repos   *storememory.RepositoryStore
	jobs    *storememory.JobStore
	queue   *queuememory.Queue
	clock   *fakeClock
	source  *fakeSource
	emitter *recordingEmitter
}

func newRig(t *testing.T, bulkEligible bool) *testRig {
	t.Helper()
	repos := storememory.NewRepositoryStore()
	jobs := storememory.NewJobStore()
	queue := queuememory.NewQueue(64)
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	source := &fakeSource{}
	emitter := &recordingEmitter{}
	classifier := classify.New(classify.DefaultConfig(), repos, source, clock, nil)
	router := routing.New(routing.DefaultConfig(), staticEligibility{eligible: bulkEligible})
	gate := freshness.New(24*time.Hour, clock)
	service := NewService(Config{}, repos, jobs, queue, router, gate, classifier, clock, uuid.New(), emitter, nil)
	return &testRig{
		service: service, repos: repos, jobs: jobs, queue: queue,
		clock: clock, source: source, emitter: emitter,
	}
}

func (r *testRig) seedRepo(t *testing.T, repo capture.Repository) {
	t.Helper()
	if repo.SizeCalculatedAt.IsZero() {
		repo.SizeCalculatedAt = r.clock.Now().Add(-time.Hour)
	}
	require.NoError(t, r.repos.SaveRepository(context.Background(), repo))
}

// A manual request for a small batch on a high-priority repository lands
// on the realtime path with a 90 score.
func TestSubmitManualHighPrioritySmallRepo(t *testing.T) {
	t.Parallel()

	rig := newRig(t, true)
	rig.seedRepo(t, capture.Repository{
		ID: "repo-1", Owner: "acme", Name: "cli",
		SizeTier: capture.SizeSmall, PriorityTier: capture.PriorityHigh,
	})

	decision, err := rig.service.Submit(context.Background(), capture.CaptureRequest{
		RepositoryID: "repo-1",
		Type:         capture.JobTypeSync,
		Trigger:      capture.TriggerManual,
		BatchSize:    3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, decision.JobID)
	require.Equal(t, capture.ProcessorRealtime, decision.Processor)
	require.Equal(t, 90, decision.Score)

	job, err := rig.jobs.GetJob(context.Background(), decision.JobID)
	require.NoError(t, err)
	require.Equal(t, capture.JobStatusPending, job.Status)
	require.Equal(t, 90, job.PriorityScore)
	require.Equal(t, 1, rig.queue.Depth())
	require.Equal(t, []events.Kind{events.KindJobCreated}, rig.emitter.kinds())
}

// A scheduled backfill of an extra-large repository goes bulk when the
// repository is in the rollout cohort.
func TestSubmitScheduledBackfillXLRepo(t *testing.T) {
	t.Parallel()

	rig := newRig(t, true)
	rig.seedRepo(t, capture.Repository{
		ID: "repo-xl", Owner: "acme", Name: "monolith",
		SizeTier: capture.SizeXL, PriorityTier: capture.PriorityLow,
	})

	decision, err := rig.service.Submit(context.Background(), capture.CaptureRequest{
		RepositoryID: "repo-xl",
		Type:         capture.JobTypeSync,
		Trigger:      capture.TriggerScheduled,
		BatchSize:    200,
		DataAge:      48 * time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, capture.ProcessorBulk, decision.Processor)
	require.Equal(t, 25, decision.Score)
}

// The same request routes realtime when the repository is outside the
// rollout cohort.
func TestSubmitRolloutGateForcesRealtime(t *testing.T) {
	t.Parallel()

	rig := newRig(t, false)
	rig.seedRepo(t, capture.Repository{
		ID: "repo-xl", Owner: "acme", Name: "monolith",
		SizeTier: capture.SizeXL, PriorityTier: capture.PriorityLow,
	})

	decision, err := rig.service.Submit(context.Background(), capture.CaptureRequest{
		RepositoryID: "repo-xl",
		Type:         capture.JobTypeSync,
		Trigger:      capture.TriggerScheduled,
		BatchSize:    200,
		DataAge:      48 * time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, capture.ProcessorRealtime, decision.Processor)
}

func TestSubmitSuppressedByFreshWebhook(t *testing.T) {
	t.Parallel()

	rig := newRig(t, true)
	recent := rig.clock.Now().Add(-2 * time.Hour)
	rig.seedRepo(t, capture.Repository{
		ID: "repo-hooked", Owner: "acme", Name: "svc",
		SizeTier: capture.SizeMedium, PriorityTier: capture.PriorityMedium,
		WebhookEnabled: true, LastWebhookEventAt: &recent,
	})

	decision, err := rig.service.Submit(context.Background(), capture.CaptureRequest{
		RepositoryID: "repo-hooked",
		Type:         capture.JobTypeSync,
		Trigger:      capture.TriggerAutomatic,
	})
	require.NoError(t, err)
	require.True(t, decision.Suppressed)
	require.Empty(t, decision.JobID)
	require.Equal(t, 0, rig.queue.Depth())
	require.Equal(t, []events.Kind{events.KindRequestSuppressed}, rig.emitter.kinds())

	// The same request triggered manually bypasses the gate.
	decision, err = rig.service.Submit(context.Background(), capture.CaptureRequest{
		RepositoryID: "repo-hooked",
		Type:         capture.JobTypeSync,
		Trigger:      capture.TriggerManual,
	})
	require.NoError(t, err)
	require.False(t, decision.Suppressed)
	require.NotEmpty(t, decision.JobID)
}

func TestSubmitDuplicateReturnsExistingJob(t *testing.T) {
	t.Parallel()

	rig := newRig(t, true)
	rig.seedRepo(t, capture.Repository{
		ID: "repo-1", Owner: "acme", Name: "cli",
		SizeTier: capture.SizeSmall, PriorityTier: capture.PriorityHigh,
	})

	req := capture.CaptureRequest{
		RepositoryID: "repo-1",
		Type:         capture.JobTypeSync,
		Trigger:      capture.TriggerManual,
	}
	first, err := rig.service.Submit(context.Background(), req)
	require.NoError(t, err)
	second, err := rig.service.Submit(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.JobID, second.ExistingJobID)
	require.Equal(t, 1, rig.queue.Depth())
}

func TestSubmitReclassifiesStaleRepository(t *testing.T) {
	t.Parallel()

	rig := newRig(t, true)
	// Metrics now vote large; the stored tier is stale small.
	rig.source.metrics = capture.RepoMetrics{
		Stars: 60_000, Forks: 12_000, MonthlyPRs: 600,
		MonthlyCommits: 2_500, ActiveContributors: 250,
	}
	rig.seedRepo(t, capture.Repository{
		ID: "repo-stale", Owner: "acme", Name: "grown",
		SizeTier: capture.SizeSmall, PriorityTier: capture.PriorityLow,
		SizeCalculatedAt: rig.clock.Now().Add(-30 * 24 * time.Hour),
	})

	decision, err := rig.service.Submit(context.Background(), capture.CaptureRequest{
		RepositoryID: "repo-stale",
		Type:         capture.JobTypeSync,
		Trigger:      capture.TriggerScheduled,
		DataAge:      48 * time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, 1, rig.source.calls)
	// XL tier routes bulk and scores with the xl size points.
	require.Equal(t, capture.ProcessorBulk, decision.Processor)

	repo, err := rig.repos.GetRepository(context.Background(), "repo-stale")
	require.NoError(t, err)
	require.Equal(t, capture.SizeXL, repo.SizeTier)
	require.Equal(t, rig.clock.Now(), repo.SizeCalculatedAt)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	rig := newRig(t, true)
	rig.seedRepo(t, capture.Repository{ID: "repo-1", Owner: "acme", Name: "cli"})

	cases := []struct {
		name string
		req  capture.CaptureRequest
	}{
		{"missing repository", capture.CaptureRequest{Type: capture.JobTypeSync, Trigger: capture.TriggerManual}},
		{"unknown job type", capture.CaptureRequest{RepositoryID: "repo-1", Type: "mystery", Trigger: capture.TriggerManual}},
		{"unknown trigger", capture.CaptureRequest{RepositoryID: "repo-1", Type: capture.JobTypeSync, Trigger: "cron"}},
		{"negative batch", capture.CaptureRequest{RepositoryID: "repo-1", Type: capture.JobTypeSync, Trigger: capture.TriggerManual, BatchSize: -1}},
		{"metadata required", capture.CaptureRequest{RepositoryID: "repo-1", Type: capture.JobTypeDetailFetch, ResourceID: "42", Trigger: capture.TriggerManual}},
		{"metadata type mismatch", capture.CaptureRequest{
			RepositoryID: "repo-1", Type: capture.JobTypeSync, Trigger: capture.TriggerManual,
			Metadata: &capture.CommentFetchMetadata{Number: 7},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rig.service.Submit(context.Background(), tc.req)
			require.ErrorIs(t, err, capture.ErrInvalidInput)
		})
	}
}

func TestSweepClassifications(t *testing.T) {
	t.Parallel()

	rig := newRig(t, true)
	stale := rig.clock.Now().Add(-30 * 24 * time.Hour)
	rig.seedRepo(t, capture.Repository{
		ID: "repo-a", Owner: "acme", Name: "a",
		PriorityTier: capture.PriorityLow, SizeCalculatedAt: stale,
	})
	rig.seedRepo(t, capture.Repository{
		ID: "repo-b", Owner: "acme", Name: "b",
		PriorityTier: capture.PriorityHigh, SizeCalculatedAt: stale,
	})
	rig.seedRepo(t, capture.Repository{
		ID: "repo-fresh", Owner: "acme", Name: "fresh",
		PriorityTier: capture.PriorityLow, SizeCalculatedAt: rig.clock.Now().Add(-time.Hour),
	})

	submitted, err := rig.service.SweepClassifications(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, submitted)

	// The sweep is idempotent while the jobs stay active.
	submitted, err = rig.service.SweepClassifications(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 0, submitted)
}
