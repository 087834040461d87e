// Package intake runs the request pipeline: classify-if-stale, the
// freshness gate, scoring, routing, duplicate-suppressed persistence and
// the claimer wake-up.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
	"github.com/JakeFAU/repo-capture-engine/internal/classify"
	"github.com/JakeFAU/repo-capture-engine/internal/events"
	"github.com/JakeFAU/repo-capture-engine/internal/freshness"
	"github.com/JakeFAU/repo-capture-engine/internal/routing"
	"github.com/JakeFAU/repo-capture-engine/internal/scoring"
	"github.com/JakeFAU/repo-capture-engine/internal/telemetry"
)

// Config tunes the pipeline.
type Config struct {
	// MaxAttempts stamps new jobs (default 3).
	MaxAttempts int
	// ClassifyStandard and ClassifyHighPriority are the reclassification
	// cadences (defaults 7 days and 24h).
	ClassifyStandard     time.Duration
	ClassifyHighPriority time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.ClassifyStandard <= 0 {
		c.ClassifyStandard = 7 * 24 * time.Hour
	}
	if c.ClassifyHighPriority <= 0 {
		c.ClassifyHighPriority = 24 * time.Hour
	}
}

// Decision reports what the pipeline did with a request.
type Decision struct {
	// JobID is set when a new job was persisted.
	JobID string
	// Processor is the routing verdict for created jobs.
	Processor capture.Processor
	// Score is the computed urgency for created jobs.
	Score int
	// Suppressed is true when the freshness gate dropped the request.
	Suppressed bool
	// Duplicate is true when an active job already covers the key;
	// ExistingJobID points at it.
	Duplicate     bool
	ExistingJobID string
}

// Service is the single entry point for every trigger path (API, webhook
// backfill, scheduler).
type Service struct {
	cfg        Config
	repos      capture.RepositoryStore
	jobs       capture.JobStore
	queue      capture.Queue
	router     *routing.Router
	gate       *freshness.Gate
	classifier *classify.Classifier
	clock      capture.Clock
	ids        capture.IDGenerator
	emitter    events.Emitter
	logger     *zap.Logger
}

// NewService wires the pipeline.
func NewService(
	cfg Config,
	repos capture.RepositoryStore,
	jobs capture.JobStore,
	queue capture.Queue,
	router *routing.Router,
	gate *freshness.Gate,
	classifier *classify.Classifier,
	clock capture.Clock,
	ids capture.IDGenerator,
	emitter events.Emitter,
	logger *zap.Logger,
) *Service {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:        cfg,
		repos:      repos,
		jobs:       jobs,
		queue:      queue,
		router:     router,
		gate:       gate,
		classifier: classifier,
		clock:      clock,
		ids:        ids,
		emitter:    emitter,
		logger:     logger,
	}
}

// Submit runs one request through the pipeline.
func (s *Service) Submit(ctx context.Context, req capture.CaptureRequest) (Decision, error) {
	if err := s.validate(&req); err != nil {
		return Decision{}, err
	}
	repo, err := s.repos.GetRepository(ctx, req.RepositoryID)
	if err != nil {
		return Decision{}, fmt.Errorf("load repository %s: %w", req.RepositoryID, err)
	}

	// A stale size tier would feed the scorer and router bad input, so
	// reclassify inline first. Classification requests skip this; the job
	// itself is the reclassification.
	if req.Type != capture.JobTypeClassification && s.classifier != nil &&
		classify.Due(repo, s.clock.Now(), s.cfg.ClassifyStandard, s.cfg.ClassifyHighPriority) {
		tier, err := s.classifier.Reclassify(ctx, repo)
		if err != nil {
			s.logger.Warn("inline reclassification failed",
				zap.String("repo", repo.FullName()), zap.Error(err))
		} else {
			repo.SizeTier = tier
		}
	}

	if s.gate.Suppress(repo, req) {
		telemetry.CountSuppressed()
		s.emit(events.Event{
			TS:           s.clock.Now(),
			Kind:         events.KindRequestSuppressed,
			RepositoryID: repo.ID,
			JobType:      req.Type,
			Note:         "webhook data fresh",
		})
		return Decision{Suppressed: true}, nil
	}

	score := scoring.Score(repo.PriorityTier, repo.SizeTier, req.Trigger, scoring.ActivityFromMetrics(repo.Metrics))
	processor := s.router.Route(repo, req)

	id, err := s.ids.NewID()
	if err != nil {
		return Decision{}, fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := capture.CaptureJob{
		ID:            id,
		RepositoryID:  repo.ID,
		Type:          req.Type,
		ResourceID:    req.ResourceID,
		Processor:     processor,
		Status:        capture.JobStatusPending,
		PriorityScore: score,
		TriggerSource: req.Trigger,
		MaxAttempts:   s.cfg.MaxAttempts,
		Metadata:      req.Metadata,
		CreatedAt:     now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		if errors.Is(err, capture.ErrDuplicateJob) {
			existing, findErr := s.jobs.FindActiveJob(ctx, job.Key())
			if findErr != nil {
				return Decision{Duplicate: true}, nil
			}
			return Decision{Duplicate: true, ExistingJobID: existing.ID}, nil
		}
		return Decision{}, fmt.Errorf("persist job: %w", err)
	}

	telemetry.CountJob(string(processor), string(capture.JobStatusPending))
	s.emit(events.Event{
		TS:           now,
		Kind:         events.KindJobCreated,
		JobID:        job.ID,
		RepositoryID: repo.ID,
		JobType:      job.Type,
		Processor:    processor,
		Status:       capture.JobStatusPending,
	})

	item := capture.QueueItem{JobID: job.ID, Processor: processor, Enqueued: now.UnixNano()}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		// The job is persisted; a queue hiccup only delays pickup until
		// the next pending sweep.
		s.logger.Warn("wake-up enqueue failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	s.logger.Info("capture job created",
		zap.String("job_id", job.ID),
		zap.String("repo", repo.FullName()),
		zap.String("job_type", string(job.Type)),
		zap.String("processor", string(processor)),
		zap.Int("score", score))
	return Decision{JobID: job.ID, Processor: processor, Score: score}, nil
}

// SweepClassifications submits scheduled classification requests for
// repositories whose tier has gone stale. Returns how many were submitted.
func (s *Service) SweepClassifications(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now()
	due, err := s.repos.ListDueClassification(ctx,
		now.Add(-s.cfg.ClassifyHighPriority),
		now.Add(-s.cfg.ClassifyStandard),
		limit)
	if err != nil {
		return 0, fmt.Errorf("list due classifications: %w", err)
	}
	submitted := 0
	for _, repo := range due {
		decision, err := s.Submit(ctx, capture.CaptureRequest{
			RepositoryID: repo.ID,
			Type:         capture.JobTypeClassification,
			Trigger:      capture.TriggerScheduled,
			Metadata:     capture.DefaultMetadata(capture.JobTypeClassification),
		})
		if err != nil {
			s.logger.Warn("classification submit failed",
				zap.String("repo", repo.FullName()), zap.Error(err))
			continue
		}
		if decision.JobID != "" {
			submitted++
		}
	}
	return submitted, nil
}

func (s *Service) validate(req *capture.CaptureRequest) error {
	if req.RepositoryID == "" {
		return fmt.Errorf("%w: repository id is required", capture.ErrInvalidInput)
	}
	known := false
	for _, jt := range capture.JobTypes() {
		if req.Type == jt {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: unknown job type %q", capture.ErrInvalidInput, req.Type)
	}
	switch req.Trigger {
	case capture.TriggerManual, capture.TriggerAutomatic, capture.TriggerScheduled:
	default:
		return fmt.Errorf("%w: unknown trigger source %q", capture.ErrInvalidInput, req.Trigger)
	}
	if req.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must be >= 0", capture.ErrInvalidInput)
	}
	if req.DataAge < 0 {
		return fmt.Errorf("%w: data age must be >= 0", capture.ErrInvalidInput)
	}
	if req.Metadata == nil {
		req.Metadata = capture.DefaultMetadata(req.Type)
	}
	if req.Metadata == nil {
		return fmt.Errorf("%w: job type %q requires metadata", capture.ErrInvalidInput, req.Type)
	}
	if req.Metadata.JobType() != req.Type {
		return fmt.Errorf("%w: metadata is for %q, request is %q", capture.ErrInvalidInput, req.Metadata.JobType(), req.Type)
	}
	return req.Metadata.Validate()
}

func (s *Service) emit(evt events.Event) {
	if s.emitter != nil {
		s.emitter.Emit(evt)
	}
}
