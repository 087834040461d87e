// Package classify assigns repositories a size tier from metric signals.
package classify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// Thresholds are the four-tier boundaries per metric. A metric votes for the
// largest tier whose lower bound it meets.
type Thresholds struct {
	// Values index by tier rank: [medium, large, xl] lower bounds.
	Stars        [3]int
	Forks        [3]int
	MonthlyPRs   [3]int
	Commits      [3]int
	Contributors [3]int
}

// DefaultThresholds mirror the documented ranges (stars <1k / 1k-10k /
// 10k-50k / >50k, and proportional bands for the other metrics).
func DefaultThresholds() Thresholds {
	return Thresholds{
		Stars:        [3]int{1_000, 10_000, 50_000},
		Forks:        [3]int{200, 2_000, 10_000},
		MonthlyPRs:   [3]int{30, 150, 500},
		Commits:      [3]int{100, 500, 2_000},
		Contributors: [3]int{10, 50, 200},
	}
}

// Config tunes the classifier's vote and edge-case heuristics.
type Config struct {
	Thresholds Thresholds
	// MinQuorum is the vote count required to accept the winning tier.
	MinQuorum int
	// DocsHeavyStarFloor promotes docs-heavy repos classified small.
	DocsHeavyStarFloor int
	// MonorepoCommitFloor and MonorepoRatio flag commit-heavy monorepos.
	MonorepoCommitFloor int
	MonorepoRatio       int
	// AbandonedStarFloor and AbandonedPRCeil flag popular-but-dormant repos.
	AbandonedStarFloor int
	AbandonedPRCeil    int
	// InternalToolPRFloor and InternalToolStarCeil flag busy low-star repos.
	InternalToolPRFloor  int
	InternalToolStarCeil int
}

// DefaultConfig returns the tuning used in production.
func DefaultConfig() Config {
	return Config{
		Thresholds:           DefaultThresholds(),
		MinQuorum:            2,
		DocsHeavyStarFloor:   20_000,
		MonorepoCommitFloor:  1_000,
		MonorepoRatio:        20,
		AbandonedStarFloor:   10_000,
		AbandonedPRCeil:      5,
		InternalToolPRFloor:  100,
		InternalToolStarCeil: 100,
	}
}

// Classifier scores repositories into size tiers by majority vote.
type Classifier struct {
	cfg    Config
	repos  capture.RepositoryStore
	source capture.ActivitySource
	clock  capture.Clock
	logger *zap.Logger
}

// New constructs a Classifier.
func New(
	cfg Config,
	repos capture.RepositoryStore,
	source capture.ActivitySource,
	clock capture.Clock,
	logger *zap.Logger,
) *Classifier {
	if cfg.MinQuorum <= 0 {
		cfg.MinQuorum = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{cfg: cfg, repos: repos, source: source, clock: clock, logger: logger}
}

// ClassifyMetrics returns the tier for a metrics snapshot. Pure: the vote,
// quorum and edge-case adjustments run in a fixed order with no I/O.
func (c *Classifier) ClassifyMetrics(m capture.RepoMetrics) capture.SizeTier {
	tier := c.vote(m)
	return c.adjust(tier, m)
}

// vote tallies one tier vote per metric and picks the winner, preferring the
// smaller tier on ties. Below quorum the repository is treated as small.
func (c *Classifier) vote(m capture.RepoMetrics) capture.SizeTier {
	th := c.cfg.Thresholds
	votes := [4]int{}
	votes[tierRank(m.Stars, th.Stars)]++
	votes[tierRank(m.Forks, th.Forks)]++
	votes[tierRank(m.MonthlyPRs, th.MonthlyPRs)]++
	votes[tierRank(m.MonthlyCommits, th.Commits)]++
	votes[tierRank(m.ActiveContributors, th.Contributors)]++

	winner, count := 0, votes[0]
	for rank := 1; rank < len(votes); rank++ {
		// Strict > keeps the smaller tier on ties.
		if votes[rank] > count {
			winner, count = rank, votes[rank]
		}
	}
	if count < c.cfg.MinQuorum {
		return capture.SizeSmall
	}
	return capture.TierFromRank(winner)
}

// adjust applies the edge-case overrides in fixed order. Each fires at most
// once and later rules see the output of earlier ones.
func (c *Classifier) adjust(tier capture.SizeTier, m capture.RepoMetrics) capture.SizeTier {
	// (a) docs-heavy repos with big audiences still deserve medium cadence.
	if m.DocsHeavy && tier == capture.SizeSmall && m.Stars >= c.cfg.DocsHeavyStarFloor {
		tier = capture.SizeMedium
	}
	// (b) monorepos: commit volume dwarfing PR volume means one tier up.
	if tier.Rank() < capture.SizeLarge.Rank() &&
		m.MonthlyCommits >= c.cfg.MonorepoCommitFloor &&
		m.MonthlyCommits >= c.cfg.MonorepoRatio*max(m.MonthlyPRs, 1) {
		tier = capture.TierFromRank(tier.Rank() + 1)
	}
	// (c) mirrors carry the upstream's stars but none of its churn.
	if m.Mirror && tier.Rank() > capture.SizeSmall.Rank() {
		tier = capture.TierFromRank(tier.Rank() - 1)
	}
	// (d) abandoned popular projects: stars without PR velocity.
	if (tier == capture.SizeLarge || tier == capture.SizeXL) &&
		m.Stars >= c.cfg.AbandonedStarFloor &&
		m.MonthlyPRs <= c.cfg.AbandonedPRCeil {
		tier = capture.SizeMedium
	}
	// (e) active internal tools: heavy PR traffic, nobody starring it.
	if tier == capture.SizeSmall &&
		m.MonthlyPRs >= c.cfg.InternalToolPRFloor &&
		m.Stars <= c.cfg.InternalToolStarCeil {
		tier = capture.SizeMedium
	}
	return tier
}

// Reclassify fetches fresh metrics and persists the verdict. Metric fetch
// failures are logged and skipped; the repository keeps its prior tier.
func (c *Classifier) Reclassify(ctx context.Context, repo capture.Repository) (capture.SizeTier, error) {
	metrics, err := c.source.FetchMetrics(ctx, repo)
	if err != nil {
		c.logger.Warn("metrics fetch failed, keeping prior tier",
			zap.String("repo", repo.FullName()),
			zap.String("tier", string(priorTier(repo))),
			zap.Error(err),
		)
		return priorTier(repo), nil
	}
	tier := c.ClassifyMetrics(metrics)
	now := c.clock.Now()
	if err := c.repos.UpdateClassification(ctx, repo.ID, tier, metrics, now); err != nil {
		return priorTier(repo), err
	}
	if tier != repo.SizeTier {
		c.logger.Info("size tier changed",
			zap.String("repo", repo.FullName()),
			zap.String("from", string(repo.SizeTier)),
			zap.String("to", string(tier)),
		)
	}
	return tier, nil
}

// Due reports whether a repository needs reclassification at now, given the
// standard and high-priority cadences.
func Due(repo capture.Repository, now time.Time, standard, highPriority time.Duration) bool {
	if repo.SizeCalculatedAt.IsZero() {
		return true
	}
	period := standard
	if repo.PriorityTier == capture.PriorityHigh {
		period = highPriority
	}
	return now.Sub(repo.SizeCalculatedAt) >= period
}

func priorTier(repo capture.Repository) capture.SizeTier {
	if repo.SizeTier.Rank() < 0 {
		return capture.SizeSmall
	}
	return repo.SizeTier
}

func tierRank(value int, bounds [3]int) int {
	switch {
	case value >= bounds[2]:
		return 3
	case value >= bounds[1]:
		return 2
	case value >= bounds[0]:
		return 1
	default:
		return 0
	}
}
