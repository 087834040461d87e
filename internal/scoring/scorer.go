// Package scoring computes the 0-100 urgency score for capture jobs.
package scoring

import "github.com/JakeFAU/repo-capture-engine/internal/capture"

// Weight tables. Size contributes inversely with tier: smaller jobs finish
// faster, so they win ties on the other factors.
var (
	priorityPoints = map[capture.PriorityTier]int{
		capture.PriorityHigh:   40,
		capture.PriorityMedium: 20,
		capture.PriorityLow:    10,
	}
	sizePoints = map[capture.SizeTier]int{
		capture.SizeSmall:  30,
		capture.SizeMedium: 22,
		capture.SizeLarge:  15,
		capture.SizeXL:     10,
	}
	triggerPoints = map[capture.TriggerSource]int{
		capture.TriggerManual:    20,
		capture.TriggerAutomatic: 10,
		capture.TriggerScheduled: 5,
	}
	activityPoints = map[capture.ActivityLevel]int{
		capture.ActivityVeryActive: 10,
		capture.ActivityActive:     5,
	}
)

// Score sums the four weighted inputs and clamps to [0,100]. It is pure and
// deterministic; unknown enum values contribute zero points.
func Score(
	priority capture.PriorityTier,
	size capture.SizeTier,
	trigger capture.TriggerSource,
	activity capture.ActivityLevel,
) int {
	total := priorityPoints[priority] +
		sizePoints[size] +
		triggerPoints[trigger] +
		activityPoints[activity]
	if total < 0 {
		return 0
	}
	if total > 100 {
		return 100
	}
	return total
}

// ActivityFromMetrics derives the scorer's activity signal from the
// classifier's metrics snapshot.
func ActivityFromMetrics(m capture.RepoMetrics) capture.ActivityLevel {
	monthly := m.MonthlyPRs + m.MonthlyCommits
	switch {
	case monthly >= 200:
		return capture.ActivityVeryActive
	case monthly >= 30:
		return capture.ActivityActive
	default:
		return capture.ActivityLow
	}
}
