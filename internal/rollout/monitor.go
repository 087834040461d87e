package rollout

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
	"github.com/JakeFAU/repo-capture-engine/internal/telemetry"
)

// MonitorConfig tunes the auto-rollback check.
type MonitorConfig struct {
	// MinSample is the terminal-outcome count below which the error rate
	// is too noisy to act on (default 20).
	MinSample int
}

// Monitor watches bulk-path outcomes and rolls the cohort back to zero
// when the error rate breaches the configured ceiling. Rolling back sets
// the percentage to zero, which also disarms the monitor until an
// operator ramps again, so the rollback fires exactly once per incident.
type Monitor struct {
	cfg        MonitorConfig
	controller *Controller
	jobs       capture.JobStore
	clock      capture.Clock
	logger     *zap.Logger
}

// NewMonitor constructs a Monitor.
func NewMonitor(cfg MonitorConfig, controller *Controller, jobs capture.JobStore, clock capture.Clock, logger *zap.Logger) *Monitor {
	if cfg.MinSample <= 0 {
		cfg.MinSample = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:        cfg,
		controller: controller,
		jobs:       jobs,
		clock:      clock,
		logger:     logger,
	}
}

// CheckOnce evaluates the bulk error rate over the monitoring window and
// rolls back if it breaches the ceiling. Returns true when a rollback was
// performed.
func (m *Monitor) CheckOnce(ctx context.Context) (bool, error) {
	cfg := m.controller.Snapshot()
	if !cfg.AutoRollbackEnabled || cfg.RolloutPercentage <= 0 || cfg.EmergencyStop {
		return false, nil
	}
	since := m.clock.Now().Add(-monitoringWindow(cfg))
	completed, failed, err := m.jobs.OutcomeCounts(ctx, capture.ProcessorBulk, since)
	if err != nil {
		return false, fmt.Errorf("bulk outcome counts: %w", err)
	}
	total := completed + failed
	if total < m.cfg.MinSample {
		return false, nil
	}
	errorRate := float64(failed) / float64(total) * 100
	if errorRate <= cfg.MaxErrorRatePercent {
		return false, nil
	}

	reason := fmt.Sprintf("auto-rollback: bulk error rate %.1f%% over %d outcomes exceeds %.1f%%",
		errorRate, total, cfg.MaxErrorRatePercent)
	m.logger.Error("rollout auto-rollback triggered",
		zap.String("feature", cfg.FeatureName),
		zap.Float64("error_rate", errorRate),
		zap.Int("completed", completed),
		zap.Int("failed", failed))
	if err := m.controller.SetRollout(ctx, 0, reason); err != nil {
		return false, fmt.Errorf("roll back %s: %w", cfg.FeatureName, err)
	}
	telemetry.CountRollback(cfg.FeatureName)
	return true, nil
}
