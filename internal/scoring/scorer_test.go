package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

func TestScore_BoundsForAllInputs(t *testing.T) {
	t.Parallel()

	priorities := []capture.PriorityTier{capture.PriorityHigh, capture.PriorityMedium, capture.PriorityLow, ""}
	sizes := []capture.SizeTier{capture.SizeSmall, capture.SizeMedium, capture.SizeLarge, capture.SizeXL, ""}
	triggers := []capture.TriggerSource{capture.TriggerManual, capture.TriggerAutomatic, capture.TriggerScheduled, ""}
	activities := []capture.ActivityLevel{capture.ActivityVeryActive, capture.ActivityActive, capture.ActivityLow, ""}

	for _, p := range priorities {
		for _, s := range sizes {
			for _, tr := range triggers {
				for _, a := range activities {
					got := Score(p, s, tr, a)
					require.GreaterOrEqual(t, got, 0)
					require.LessOrEqual(t, got, 100)
					require.Equal(t, got, Score(p, s, tr, a), "score must be deterministic")
				}
			}
		}
	}
}

func TestScore_MonotonicPerDimension(t *testing.T) {
	t.Parallel()

	// Priority, others held fixed.
	high := Score(capture.PriorityHigh, capture.SizeMedium, capture.TriggerAutomatic, capture.ActivityActive)
	med := Score(capture.PriorityMedium, capture.SizeMedium, capture.TriggerAutomatic, capture.ActivityActive)
	low := Score(capture.PriorityLow, capture.SizeMedium, capture.TriggerAutomatic, capture.ActivityActive)
	require.Greater(t, high, med)
	require.Greater(t, med, low)

	// Size is inverse: smaller tiers score strictly higher.
	small := Score(capture.PriorityMedium, capture.SizeSmall, capture.TriggerAutomatic, capture.ActivityActive)
	large := Score(capture.PriorityMedium, capture.SizeLarge, capture.TriggerAutomatic, capture.ActivityActive)
	xl := Score(capture.PriorityMedium, capture.SizeXL, capture.TriggerAutomatic, capture.ActivityActive)
	require.Greater(t, small, med)
	require.Greater(t, med, large)
	require.Greater(t, large, xl)

	// Trigger source.
	manual := Score(capture.PriorityMedium, capture.SizeMedium, capture.TriggerManual, capture.ActivityActive)
	auto := Score(capture.PriorityMedium, capture.SizeMedium, capture.TriggerAutomatic, capture.ActivityActive)
	sched := Score(capture.PriorityMedium, capture.SizeMedium, capture.TriggerScheduled, capture.ActivityActive)
	require.Greater(t, manual, auto)
	require.Greater(t, auto, sched)

	// Activity.
	very := Score(capture.PriorityMedium, capture.SizeMedium, capture.TriggerAutomatic, capture.ActivityVeryActive)
	active := Score(capture.PriorityMedium, capture.SizeMedium, capture.TriggerAutomatic, capture.ActivityActive)
	quiet := Score(capture.PriorityMedium, capture.SizeMedium, capture.TriggerAutomatic, capture.ActivityLow)
	require.Greater(t, very, active)
	require.Greater(t, active, quiet)
}

func TestScore_KnownScenarios(t *testing.T) {
	t.Parallel()

	// Small high-priority manual job sits at the top of the range.
	got := Score(capture.PriorityHigh, capture.SizeSmall, capture.TriggerManual, capture.ActivityVeryActive)
	require.Equal(t, 100, got)

	got = Score(capture.PriorityHigh, capture.SizeSmall, capture.TriggerManual, capture.ActivityLow)
	require.Equal(t, 90, got)

	// XL low-priority scheduled job lands in the 10-25 band.
	got = Score(capture.PriorityLow, capture.SizeXL, capture.TriggerScheduled, capture.ActivityLow)
	require.Equal(t, 25, got)
}

func TestActivityFromMetrics(t *testing.T) {
	t.Parallel()

	require.Equal(t, capture.ActivityVeryActive,
		ActivityFromMetrics(capture.RepoMetrics{MonthlyPRs: 150, MonthlyCommits: 80}))
	require.Equal(t, capture.ActivityActive,
		ActivityFromMetrics(capture.RepoMetrics{MonthlyPRs: 20, MonthlyCommits: 15}))
	require.Equal(t, capture.ActivityLow,
		ActivityFromMetrics(capture.RepoMetrics{MonthlyPRs: 2}))
}
