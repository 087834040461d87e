package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

type stubRollout struct{ eligible bool }

func (s stubRollout) IsEligible(capture.Repository) bool { return s.eligible }

func TestRoute_ManualSmallBatchGoesRealtime(t *testing.T) {
	t.Parallel()

	r := New(DefaultConfig(), stubRollout{eligible: true})
	repo := capture.Repository{SizeTier: capture.SizeXL}
	req := capture.CaptureRequest{
		Trigger:   capture.TriggerManual,
		BatchSize: 5,
		DataAge:   10 * 24 * time.Hour,
	}
	// Manual small-batch wins even on an xl repository requesting old data.
	require.Equal(t, capture.ProcessorRealtime, r.Route(repo, req))
}

func TestRoute_FreshSmallBatchGoesRealtime(t *testing.T) {
	t.Parallel()

	r := New(DefaultConfig(), stubRollout{eligible: true})
	repo := capture.Repository{SizeTier: capture.SizeSmall}
	req := capture.CaptureRequest{
		Trigger:   capture.TriggerAutomatic,
		BatchSize: 8,
		DataAge:   time.Hour,
	}
	require.Equal(t, capture.ProcessorRealtime, r.Route(repo, req))
}

func TestRoute_BulkConditions(t *testing.T) {
	t.Parallel()

	r := New(DefaultConfig(), stubRollout{eligible: true})

	// Large batch.
	req := capture.CaptureRequest{Trigger: capture.TriggerScheduled, BatchSize: 200, DataAge: time.Hour}
	require.Equal(t, capture.ProcessorBulk, r.Route(capture.Repository{SizeTier: capture.SizeSmall}, req))

	// Old data.
	req = capture.CaptureRequest{Trigger: capture.TriggerScheduled, BatchSize: 20, DataAge: 48 * time.Hour}
	require.Equal(t, capture.ProcessorBulk, r.Route(capture.Repository{SizeTier: capture.SizeSmall}, req))

	// Large tier.
	req = capture.CaptureRequest{Trigger: capture.TriggerScheduled, BatchSize: 20, DataAge: time.Hour}
	require.Equal(t, capture.ProcessorBulk, r.Route(capture.Repository{SizeTier: capture.SizeLarge}, req))
	require.Equal(t, capture.ProcessorBulk, r.Route(capture.Repository{SizeTier: capture.SizeXL}, req))
}

func TestRoute_DefaultIsRealtime(t *testing.T) {
	t.Parallel()

	r := New(DefaultConfig(), stubRollout{eligible: true})
	// Batch between small-batch max and bulk min, fresh data, medium tier:
	// no rule matches, default applies.
	req := capture.CaptureRequest{Trigger: capture.TriggerAutomatic, BatchSize: 20, DataAge: time.Hour}
	require.Equal(t, capture.ProcessorRealtime, r.Route(capture.Repository{SizeTier: capture.SizeMedium}, req))
}

func TestRoute_RolloutGateForcesRealtime(t *testing.T) {
	t.Parallel()

	r := New(DefaultConfig(), stubRollout{eligible: false})
	repo := capture.Repository{SizeTier: capture.SizeXL}
	req := capture.CaptureRequest{Trigger: capture.TriggerScheduled, BatchSize: 200, DataAge: 10 * 24 * time.Hour}
	require.Equal(t, capture.ProcessorRealtime, r.Route(repo, req))

	// Eligible cohort keeps the bulk decision.
	r = New(DefaultConfig(), stubRollout{eligible: true})
	require.Equal(t, capture.ProcessorBulk, r.Route(repo, req))
}

func TestRoute_EndToEndScenarios(t *testing.T) {
	t.Parallel()

	r := New(DefaultConfig(), stubRollout{eligible: true})

	// Small high-priority manual capture, 5 items, hour-old data.
	small := capture.Repository{SizeTier: capture.SizeSmall, PriorityTier: capture.PriorityHigh}
	req := capture.CaptureRequest{Trigger: capture.TriggerManual, BatchSize: 5, DataAge: time.Hour}
	require.Equal(t, capture.ProcessorRealtime, r.Route(small, req))

	// XL low-priority scheduled backfill, 200 items, ten-day-old data.
	xl := capture.Repository{SizeTier: capture.SizeXL, PriorityTier: capture.PriorityLow}
	req = capture.CaptureRequest{Trigger: capture.TriggerScheduled, BatchSize: 200, DataAge: 10 * 24 * time.Hour}
	require.Equal(t, capture.ProcessorBulk, r.Route(xl, req))
}
