// Package worker implements the claimer pool that turns queued wake-ups
// into executed jobs.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
	"github.com/JakeFAU/repo-capture-engine/internal/lifecycle"
	"github.com/JakeFAU/repo-capture-engine/internal/ratebudget"
)

// Config controls pool behavior.
type Config struct {
	// Claimers is the number of concurrent claim loops (default 4).
	Claimers int
	// RequeueDelay is how long a budget-deferred wake-up waits before
	// going back on the queue (default 5s).
	RequeueDelay time.Duration
	// CallEstimates overrides the per-jobtype API call estimates used for
	// budget admission.
	CallEstimates map[capture.JobType]int
}

func defaultCallEstimates() map[capture.JobType]int {
	return map[capture.JobType]int{
		capture.JobTypeSync:           10,
		capture.JobTypeDetailFetch:    3,
		capture.JobTypeReviewFetch:    2,
		capture.JobTypeCommentFetch:   2,
		capture.JobTypeCommitAnalysis: 5,
		capture.JobTypeClassification: 1,
	}
}

// Pool consumes queue items, admits them against the rate budget, claims
// the job and executes it on the matching capability.
type Pool struct {
	cfg          Config
	queue        capture.Queue
	jobs         capture.JobStore
	manager      *lifecycle.Manager
	budget       *ratebudget.Tracker
	pacer        *ratebudget.Pacer
	capabilities map[capture.Processor]capture.ProcessorCapability
	logger       *zap.Logger
}

// NewPool constructs a Pool.
func NewPool(
	cfg Config,
	queue capture.Queue,
	jobs capture.JobStore,
	manager *lifecycle.Manager,
	budget *ratebudget.Tracker,
	pacer *ratebudget.Pacer,
	capabilities map[capture.Processor]capture.ProcessorCapability,
	logger *zap.Logger,
) *Pool {
	if cfg.Claimers <= 0 {
		cfg.Claimers = 4
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = 5 * time.Second
	}
	if cfg.CallEstimates == nil {
		cfg.CallEstimates = defaultCallEstimates()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:          cfg,
		queue:        queue,
		jobs:         jobs,
		manager:      manager,
		budget:       budget,
		pacer:        pacer,
		capabilities: capabilities,
		logger:       logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Claimers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.claimLoop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) claimLoop(ctx context.Context, id int) {
	logger := p.logger.With(zap.Int("claimer", id))
	for {
		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, capture.ErrQueueClosed) {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		p.processItem(ctx, logger, item)
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Pool) processItem(ctx context.Context, logger *zap.Logger, item capture.QueueItem) {
	job, err := p.jobs.GetJob(ctx, item.JobID)
	if err != nil {
		if !errors.Is(err, capture.ErrNotFound) {
			logger.Warn("job lookup failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
		return
	}
	// Stale wake-up: the job moved on (rebalanced, claimed elsewhere,
	// force-handled). Drop it without touching state.
	if job.Status != capture.JobStatusPending {
		return
	}

	estimate := p.estimate(job.Type)
	if p.budget != nil && !p.budget.CanDispatch(estimate) {
		// The job record stays pending; wait out the deferral and wake a
		// claimer again.
		logger.Debug("budget deferral",
			zap.String("job_id", job.ID),
			zap.Int("estimate", estimate))
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.RequeueDelay):
		}
		if err := p.queue.Enqueue(ctx, item); err != nil &&
			ctx.Err() == nil && !errors.Is(err, capture.ErrQueueClosed) {
			logger.Warn("requeue after deferral failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	capability, ok := p.capabilities[job.Processor]
	if !ok {
		logger.Error("no capability for processor",
			zap.String("job_id", job.ID),
			zap.String("processor", string(job.Processor)))
		return
	}

	if p.pacer != nil && p.budget != nil {
		if err := p.pacer.Wait(ctx, p.budget.Window().Credential, estimate); err != nil {
			return
		}
	}

	claimed, err := p.manager.Claim(ctx, job.ID, capture.JobStatusPending)
	if err != nil {
		// A lost claim consumed nothing: another claimer owns the job.
		if !errors.Is(err, capture.ErrClaimLost) && !errors.Is(err, capture.ErrNotFound) {
			logger.Warn("claim failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	result, execErr := capability.Execute(ctx, claimed)
	if p.budget != nil && result.APICallsUsed > 0 {
		p.budget.RecordUsage(ctx, result.APICallsUsed)
	}
	if execErr != nil {
		if err := p.manager.Fail(ctx, claimed, execErr, result.Progress); err != nil {
			logger.Error("failure transition failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}
	if err := p.manager.Complete(ctx, claimed, result.Progress); err != nil {
		logger.Error("completion transition failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (p *Pool) estimate(t capture.JobType) int {
	if n, ok := p.cfg.CallEstimates[t]; ok && n > 0 {
		return n
	}
	return 1
}
