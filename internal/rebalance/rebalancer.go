// Package rebalance moves pending work between processors when one
// queue runs far ahead of the other.
package rebalance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
	"github.com/JakeFAU/repo-capture-engine/internal/events"
	"github.com/JakeFAU/repo-capture-engine/internal/telemetry"
)

// Config tunes skew detection and migration size.
type Config struct {
	// SkewRatio triggers a rebalance when one pending depth exceeds the
	// other by this factor (default 3.0).
	SkewRatio float64
	// MigrationBatch bounds how many jobs move per pass (default 25).
	MigrationBatch int
	// MinPending is the depth below which skew is ignored; tiny queues
	// flap without it (default 20).
	MinPending int
}

func (c *Config) applyDefaults() {
	if c.SkewRatio <= 1 {
		c.SkewRatio = 3.0
	}
	if c.MigrationBatch <= 0 {
		c.MigrationBatch = 25
	}
	if c.MinPending <= 0 {
		c.MinPending = 20
	}
}

// Rebalancer inspects pending depths and migrates still-pending jobs from
// the overloaded processor to the idle one. Only jobs for medium-tier
// repositories migrate: small ones drain fast wherever they sit, and
// large or xl work must not land on the realtime path.
type Rebalancer struct {
	cfg     Config
	jobs    capture.JobStore
	repos   capture.RepositoryStore
	queue   capture.Queue
	clock   capture.Clock
	emitter events.Emitter
	logger  *zap.Logger
}

// New constructs a Rebalancer.
func New(cfg Config, jobs capture.JobStore, repos capture.RepositoryStore, queue capture.Queue, clock capture.Clock, emitter events.Emitter, logger *zap.Logger) *Rebalancer {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rebalancer{
		cfg:     cfg,
		jobs:    jobs,
		repos:   repos,
		queue:   queue,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
	}
}

// Rebalance runs one pass and returns how many jobs moved. A job that is
// claimed mid-migration is skipped, not retried; the claim wins.
func (r *Rebalancer) Rebalance(ctx context.Context) (int, error) {
	realtime, err := r.jobs.CountPending(ctx, capture.ProcessorRealtime)
	if err != nil {
		return 0, fmt.Errorf("count realtime pending: %w", err)
	}
	bulk, err := r.jobs.CountPending(ctx, capture.ProcessorBulk)
	if err != nil {
		return 0, fmt.Errorf("count bulk pending: %w", err)
	}
	telemetry.SetPendingDepth(string(capture.ProcessorRealtime), realtime)
	telemetry.SetPendingDepth(string(capture.ProcessorBulk), bulk)

	from, fromDepth, toDepth := capture.ProcessorRealtime, realtime, bulk
	if bulk > realtime {
		from, fromDepth, toDepth = capture.ProcessorBulk, bulk, realtime
	}
	if fromDepth < r.cfg.MinPending || !skewed(fromDepth, toDepth, r.cfg.SkewRatio) {
		return 0, nil
	}

	// List a wider window than the batch so the tier filter still finds
	// enough candidates.
	pending, err := r.jobs.ListPending(ctx, from, r.cfg.MigrationBatch*4)
	if err != nil {
		return 0, fmt.Errorf("list pending for %s: %w", from, err)
	}
	to := from.Other()
	moved := 0
	now := r.clock.Now()
	for _, job := range pending {
		if moved >= r.cfg.MigrationBatch {
			break
		}
		if !r.migratable(ctx, job) {
			continue
		}
		if err := r.jobs.ReassignProcessor(ctx, job.ID, from, to); err != nil {
			if errors.Is(err, capture.ErrClaimLost) || errors.Is(err, capture.ErrNotFound) {
				continue
			}
			r.logger.Warn("reassign failed",
				zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		moved++
		telemetry.CountMigration()
		if r.emitter != nil {
			r.emitter.Emit(events.Event{
				TS:           now,
				Kind:         events.KindRebalanceMoved,
				JobID:        job.ID,
				RepositoryID: job.RepositoryID,
				JobType:      job.Type,
				Processor:    to,
				Status:       capture.JobStatusPending,
			})
		}
		// Fresh wake-up for the new processor; a stale one from the old
		// assignment is dropped at claim time.
		if r.queue != nil {
			item := capture.QueueItem{JobID: job.ID, Processor: to, Enqueued: now.UnixNano()}
			if err := r.queue.Enqueue(ctx, item); err != nil {
				r.logger.Warn("wake-up enqueue failed after migration",
					zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}
	if moved > 0 {
		r.logger.Info("rebalanced pending jobs",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Int("moved", moved),
			zap.Int("from_depth", fromDepth),
			zap.Int("to_depth", toDepth))
	}
	return moved, nil
}

// migratable reports whether a pending job is safe to move. A repository
// that cannot be loaded stays where it is.
func (r *Rebalancer) migratable(ctx context.Context, job capture.CaptureJob) bool {
	repo, err := r.repos.GetRepository(ctx, job.RepositoryID)
	if err != nil {
		if !errors.Is(err, capture.ErrNotFound) {
			r.logger.Warn("repository lookup failed during rebalance",
				zap.String("job_id", job.ID),
				zap.String("repository_id", job.RepositoryID),
				zap.Error(err))
		}
		return false
	}
	return repo.SizeTier == capture.SizeMedium
}

func skewed(high, low int, ratio float64) bool {
	if low == 0 {
		return high > 0
	}
	return float64(high)/float64(low) > ratio
}
