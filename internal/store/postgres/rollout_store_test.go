package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

func TestGetConfigScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRolloutStoreWithPool(mock, "rollout_configs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT feature_name, rollout_percentage").
		WithArgs("bulk_processing_v2").
		WillReturnRows(pgxmock.NewRows([]string{
			"feature_name", "rollout_percentage", "strategy", "emergency_stop",
			"auto_rollback_enabled", "max_error_rate_percent", "monitoring_window_hours",
			"last_change_reason", "updated_at",
		}).AddRow("bulk_processing_v2", 25, "percentage", false, true, 5.0, 1, "ramp", now))

	cfg, err := store.GetConfig(context.Background(), "bulk_processing_v2")
	require.NoError(t, err)
	require.Equal(t, 25, cfg.RolloutPercentage)
	require.True(t, cfg.AutoRollbackEnabled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveConfigUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRolloutStoreWithPool(mock, "rollout_configs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	cfg := capture.RolloutConfig{
		FeatureName:           "bulk_processing_v2",
		RolloutPercentage:     50,
		Strategy:              "percentage",
		AutoRollbackEnabled:   true,
		MaxErrorRatePercent:   5,
		MonitoringWindowHours: 1,
		LastChangeReason:      "ramp to 50",
		UpdatedAt:             now,
	}
	mock.ExpectExec("INSERT INTO rollout_configs").
		WithArgs(cfg.FeatureName, cfg.RolloutPercentage, cfg.Strategy, cfg.EmergencyStop,
			cfg.AutoRollbackEnabled, cfg.MaxErrorRatePercent, cfg.MonitoringWindowHours,
			cfg.LastChangeReason, cfg.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveConfig(context.Background(), cfg))
	require.NoError(t, mock.ExpectationsWereMet())
}
