// Package rollout gates the bulk routing path behind a percentage-based
// cohort and watches it for elevated error rates.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
	"github.com/JakeFAU/repo-capture-engine/internal/events"
	"github.com/JakeFAU/repo-capture-engine/internal/telemetry"
)

// DefaultFeature names the routing rollout every deployment carries.
const DefaultFeature = "bulk_processing_v2"

// Config tunes the controller.
type Config struct {
	// Feature is the rollout's persisted name (default DefaultFeature).
	Feature string
	// MaxErrorRatePercent and MonitoringWindowHours seed a fresh config
	// when none is persisted yet (defaults 5.0 and 1).
	MaxErrorRatePercent   float64
	MonitoringWindowHours int
}

func (c *Config) applyDefaults() {
	if c.Feature == "" {
		c.Feature = DefaultFeature
	}
	if c.MaxErrorRatePercent <= 0 {
		c.MaxErrorRatePercent = 5.0
	}
	if c.MonitoringWindowHours <= 0 {
		c.MonitoringWindowHours = 1
	}
}

// Controller caches rollout config and answers cohort membership. The
// cache refreshes on a scheduler cadence so config changes land within
// one interval on every instance.
type Controller struct {
	cfg     Config
	store   capture.RolloutStore
	clock   capture.Clock
	emitter events.Emitter
	logger  *zap.Logger

	mu     sync.RWMutex
	cached capture.RolloutConfig
}

// NewController loads persisted config, seeding a disabled rollout when
// none exists.
func NewController(ctx context.Context, cfg Config, store capture.RolloutStore, clock capture.Clock, emitter events.Emitter, logger *zap.Logger) (*Controller, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		cfg:     cfg,
		store:   store,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
	}
	persisted, err := store.GetConfig(ctx, cfg.Feature)
	switch {
	case err == nil:
		c.cached = persisted
	case errors.Is(err, capture.ErrNotFound):
		c.cached = capture.RolloutConfig{
			FeatureName:           cfg.Feature,
			RolloutPercentage:     0,
			Strategy:              "percentage",
			AutoRollbackEnabled:   true,
			MaxErrorRatePercent:   cfg.MaxErrorRatePercent,
			MonitoringWindowHours: cfg.MonitoringWindowHours,
			UpdatedAt:             clock.Now(),
		}
		if err := store.SaveConfig(ctx, c.cached); err != nil {
			return nil, fmt.Errorf("seed rollout config: %w", err)
		}
	default:
		return nil, fmt.Errorf("load rollout config: %w", err)
	}
	telemetry.SetRolloutPercentage(cfg.Feature, c.cached.RolloutPercentage)
	return c, nil
}

// Refresh reloads the cached config from the store.
func (c *Controller) Refresh(ctx context.Context) error {
	persisted, err := c.store.GetConfig(ctx, c.cfg.Feature)
	if err != nil {
		return fmt.Errorf("refresh rollout config: %w", err)
	}
	c.mu.Lock()
	c.cached = persisted
	c.mu.Unlock()
	telemetry.SetRolloutPercentage(c.cfg.Feature, persisted.RolloutPercentage)
	return nil
}

// Snapshot returns the cached config.
func (c *Controller) Snapshot() capture.RolloutConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached
}

// IsEligible reports whether the repository belongs to the bulk cohort.
// Bucketing hashes the repository id, so a repository's membership is
// stable across restarts and the cohort only grows as the percentage
// rises. An emergency stop empties the cohort regardless of percentage.
func (c *Controller) IsEligible(repo capture.Repository) bool {
	cfg := c.Snapshot()
	if cfg.EmergencyStop || cfg.RolloutPercentage <= 0 {
		return false
	}
	if cfg.RolloutPercentage >= 100 {
		return true
	}
	return bucket(repo.ID) < cfg.RolloutPercentage
}

// SetRollout persists a new percentage and refreshes the cache.
func (c *Controller) SetRollout(ctx context.Context, percentage int, reason string) error {
	if percentage < 0 || percentage > 100 {
		return fmt.Errorf("%w: rollout percentage must be in [0,100], got %d", capture.ErrInvalidInput, percentage)
	}
	return c.update(ctx, reason, func(cfg *capture.RolloutConfig) bool {
		if cfg.RolloutPercentage == percentage {
			return false
		}
		cfg.RolloutPercentage = percentage
		return true
	})
}

// EmergencyStop forces every repository off the bulk path. Idempotent.
func (c *Controller) EmergencyStop(ctx context.Context, reason string) error {
	return c.update(ctx, reason, func(cfg *capture.RolloutConfig) bool {
		if cfg.EmergencyStop {
			return false
		}
		cfg.EmergencyStop = true
		return true
	})
}

// Resume lifts an emergency stop. Idempotent.
func (c *Controller) Resume(ctx context.Context, reason string) error {
	return c.update(ctx, reason, func(cfg *capture.RolloutConfig) bool {
		if !cfg.EmergencyStop {
			return false
		}
		cfg.EmergencyStop = false
		return true
	})
}

func (c *Controller) update(ctx context.Context, reason string, mutate func(*capture.RolloutConfig) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.cached
	if !mutate(&next) {
		return nil
	}
	now := c.clock.Now()
	next.LastChangeReason = reason
	next.UpdatedAt = now
	if err := c.store.SaveConfig(ctx, next); err != nil {
		return fmt.Errorf("save rollout config: %w", err)
	}
	c.cached = next
	telemetry.SetRolloutPercentage(c.cfg.Feature, next.RolloutPercentage)
	c.logger.Info("rollout config changed",
		zap.String("feature", next.FeatureName),
		zap.Int("percentage", next.RolloutPercentage),
		zap.Bool("emergency_stop", next.EmergencyStop),
		zap.String("reason", reason))
	if c.emitter != nil {
		c.emitter.Emit(events.Event{
			TS:      now,
			Kind:    events.KindRolloutChanged,
			Feature: next.FeatureName,
			Percent: next.RolloutPercentage,
			Note:    reason,
		})
	}
	return nil
}

// bucket maps a repository id onto [0,100).
func bucket(repoID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(repoID))
	return int(h.Sum32() % 100)
}

// monitoringWindow converts the config's window to a duration.
func monitoringWindow(cfg capture.RolloutConfig) time.Duration {
	hours := cfg.MonitoringWindowHours
	if hours <= 0 {
		hours = 1
	}
	return time.Duration(hours) * time.Hour
}
