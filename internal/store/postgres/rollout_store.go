package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// RolloutStore persists rollout configuration rows keyed by feature name.
type RolloutStore struct {
	pool  querier
	table string
}

// NewRolloutStore connects a pool and returns a RolloutStore.
func NewRolloutStore(ctx context.Context, cfg Config, table string) (*RolloutStore, error) {
	table, err := checkTable(table, "rollout_configs")
	if err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RolloutStore{pool: pool, table: table}, nil
}

// NewRolloutStoreWithPool constructs a store from an existing pool.
func NewRolloutStoreWithPool(pool querier, table string) (*RolloutStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "rollout_configs")
	if err != nil {
		return nil, err
	}
	return &RolloutStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RolloutStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetConfig returns the persisted config for a feature, or ErrNotFound.
func (s *RolloutStore) GetConfig(ctx context.Context, feature string) (capture.RolloutConfig, error) {
	query := fmt.Sprintf(`
SELECT feature_name, rollout_percentage, strategy, emergency_stop,
	auto_rollback_enabled, max_error_rate_percent, monitoring_window_hours,
	last_change_reason, updated_at
FROM %s
WHERE feature_name = $1`, s.table)
	var cfg capture.RolloutConfig
	err := s.pool.QueryRow(ctx, query, feature).Scan(
		&cfg.FeatureName,
		&cfg.RolloutPercentage,
		&cfg.Strategy,
		&cfg.EmergencyStop,
		&cfg.AutoRollbackEnabled,
		&cfg.MaxErrorRatePercent,
		&cfg.MonitoringWindowHours,
		&cfg.LastChangeReason,
		&cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return capture.RolloutConfig{}, capture.ErrNotFound
		}
		return capture.RolloutConfig{}, fmt.Errorf("get rollout config: %w", err)
	}
	return cfg, nil
}

// SaveConfig upserts the config row.
func (s *RolloutStore) SaveConfig(ctx context.Context, cfg capture.RolloutConfig) error {
	if cfg.FeatureName == "" {
		return fmt.Errorf("%w: feature name is required", capture.ErrInvalidInput)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	feature_name, rollout_percentage, strategy, emergency_stop,
	auto_rollback_enabled, max_error_rate_percent, monitoring_window_hours,
	last_change_reason, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (feature_name) DO UPDATE SET
	rollout_percentage = EXCLUDED.rollout_percentage,
	strategy = EXCLUDED.strategy,
	emergency_stop = EXCLUDED.emergency_stop,
	auto_rollback_enabled = EXCLUDED.auto_rollback_enabled,
	max_error_rate_percent = EXCLUDED.max_error_rate_percent,
	monitoring_window_hours = EXCLUDED.monitoring_window_hours,
	last_change_reason = EXCLUDED.last_change_reason,
	updated_at = EXCLUDED.updated_at`, s.table)
	_, err := s.pool.Exec(ctx, query,
		cfg.FeatureName,
		cfg.RolloutPercentage,
		cfg.Strategy,
		cfg.EmergencyStop,
		cfg.AutoRollbackEnabled,
		cfg.MaxErrorRatePercent,
		cfg.MonitoringWindowHours,
		cfg.LastChangeReason,
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save rollout config: %w", err)
	}
	return nil
}
