// Package routing assigns scored jobs to a processor capability.
package routing

import (
	"time"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// Config tunes the routing rules.
type Config struct {
	// SmallBatchMax is the item-count ceiling for the realtime path.
	SmallBatchMax int
	// BulkBatchMin is the item count at which work always goes bulk.
	BulkBatchMin int
	// FreshDataAge is the requested-data-age boundary for realtime routing.
	FreshDataAge time.Duration
}

// DefaultConfig returns the production routing thresholds.
func DefaultConfig() Config {
	return Config{
		SmallBatchMax: 10,
		BulkBatchMin:  50,
		FreshDataAge:  24 * time.Hour,
	}
}

// EligibilityChecker decides whether a repository is in the bulk rollout
// cohort. Satisfied by the rollout controller.
type EligibilityChecker interface {
	IsEligible(repo capture.Repository) bool
}

// Router picks a processor for each job at enqueue time. It never mutates
// job state; the decision is fixed for the job's lifetime (the rebalancer
// alone may later move still-pending jobs).
type Router struct {
	cfg     Config
	rollout EligibilityChecker
}

// New constructs a Router.
func New(cfg Config, rollout EligibilityChecker) *Router {
	if cfg.SmallBatchMax <= 0 {
		cfg.SmallBatchMax = 10
	}
	if cfg.BulkBatchMin <= 0 {
		cfg.BulkBatchMin = 50
	}
	if cfg.FreshDataAge <= 0 {
		cfg.FreshDataAge = 24 * time.Hour
	}
	return &Router{cfg: cfg, rollout: rollout}
}

// Route applies the ordered rules, first match wins, then the rollout gate:
// repositories outside the bulk cohort always run realtime.
func (r *Router) Route(repo capture.Repository, req capture.CaptureRequest) capture.Processor {
	decision := r.baseRoute(repo, req)
	if decision == capture.ProcessorBulk && r.rollout != nil && !r.rollout.IsEligible(repo) {
		return capture.ProcessorRealtime
	}
	return decision
}

func (r *Router) baseRoute(repo capture.Repository, req capture.CaptureRequest) capture.Processor {
	switch {
	case req.Trigger == capture.TriggerManual && req.BatchSize <= r.cfg.SmallBatchMax:
		return capture.ProcessorRealtime
	case req.DataAge < r.cfg.FreshDataAge && req.BatchSize <= r.cfg.SmallBatchMax:
		return capture.ProcessorRealtime
	case req.BatchSize > r.cfg.BulkBatchMin,
		req.DataAge >= r.cfg.FreshDataAge,
		repo.SizeTier == capture.SizeLarge,
		repo.SizeTier == capture.SizeXL:
		return capture.ProcessorBulk
	default:
		return capture.ProcessorRealtime
	}
}

