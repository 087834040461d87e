// Package github adapts the GitHub REST API to the engine's activity
// source interface.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// Config holds the GitHub client settings.
type Config struct {
	Token string
	// BaseURL points at a GitHub Enterprise instance when set.
	BaseURL string
	// PageSize is the per-page item count for list calls (default 100).
	PageSize int
	// MetricsWindow is the lookback for PR and commit velocity (default 30d).
	MetricsWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 || c.PageSize > 100 {
		c.PageSize = 100
	}
	if c.MetricsWindow <= 0 {
		c.MetricsWindow = 30 * 24 * time.Hour
	}
}

// Source implements capture.ActivitySource against the GitHub REST API.
type Source struct {
	cfg    Config
	client *gh.Client
	clock  capture.Clock
	logger *zap.Logger
}

// New builds a Source. An empty token yields an unauthenticated client,
// useful only against test servers.
func New(cfg Config, clock capture.Clock, logger *zap.Logger) (*Source, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	var httpClient *http.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	client := gh.NewClient(httpClient)
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("configure enterprise base url: %w", err)
		}
	}
	return &Source{cfg: cfg, client: client, clock: clock, logger: logger}, nil
}

// NewWithClient wires an already-constructed client; tests use this to
// point at a local server.
func NewWithClient(cfg Config, client *gh.Client, clock capture.Clock, logger *zap.Logger) *Source {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, client: client, clock: clock, logger: logger}
}

// FetchActivity implements capture.ActivitySource. It dispatches on the
// job type and reports items touched plus API calls spent.
func (s *Source) FetchActivity(ctx context.Context, repo capture.Repository, job capture.CaptureJob) (capture.ActivityResult, error) {
	switch md := job.Metadata.(type) {
	case *capture.SyncMetadata:
		return s.syncActivity(ctx, repo, md)
	case *capture.DetailFetchMetadata:
		return s.fetchDetail(ctx, repo, md)
	case *capture.ReviewFetchMetadata:
		return s.fetchReviews(ctx, repo, md)
	case *capture.CommentFetchMetadata:
		return s.fetchComments(ctx, repo, md)
	case *capture.CommitAnalysisMetadata:
		return s.fetchCommits(ctx, repo, md)
	default:
		return capture.ActivityResult{}, fmt.Errorf("%w: job type %q has no activity fetch", capture.ErrInvalidInput, job.Type)
	}
}

// FetchMetrics implements capture.ActivitySource. It assembles the
// classifier's snapshot from four API calls.
func (s *Source) FetchMetrics(ctx context.Context, repo capture.Repository) (capture.RepoMetrics, error) {
	ghRepo, _, err := s.client.Repositories.Get(ctx, repo.Owner, repo.Name)
	if err != nil {
		return capture.RepoMetrics{}, mapError("get repository", err)
	}
	if ghRepo.GetArchived() {
		return capture.RepoMetrics{}, fmt.Errorf("%w: %s is archived", capture.ErrRepoInaccessible, repo.FullName())
	}

	metrics := capture.RepoMetrics{
		Stars:  ghRepo.GetStargazersCount(),
		Forks:  ghRepo.GetForksCount(),
		Mirror: ghRepo.GetMirrorURL() != "",
	}
	for _, topic := range ghRepo.Topics {
		if topic == "documentation" || topic == "docs" {
			metrics.DocsHeavy = true
			break
		}
	}

	since := s.clock.Now().Add(-s.cfg.MetricsWindow)
	query := fmt.Sprintf("repo:%s type:pr created:>=%s", repo.FullName(), since.Format("2006-01-02"))
	search, _, err := s.client.Search.Issues(ctx, query, &gh.SearchOptions{ListOptions: gh.ListOptions{PerPage: 1}})
	if err != nil {
		return capture.RepoMetrics{}, mapError("search pull requests", err)
	}
	metrics.MonthlyPRs = search.GetTotal()

	// Participation covers the trailing 52 weeks; the last 4 approximate
	// the monthly commit count without paging the commit list.
	participation, _, err := s.client.Repositories.ListParticipation(ctx, repo.Owner, repo.Name)
	if err != nil {
		return capture.RepoMetrics{}, mapError("list participation", err)
	}
	if all := participation.All; len(all) > 0 {
		start := len(all) - 4
		if start < 0 {
			start = 0
		}
		for _, week := range all[start:] {
			metrics.MonthlyCommits += week
		}
	}

	contributors, _, err := s.client.Repositories.ListContributors(ctx, repo.Owner, repo.Name,
		&gh.ListContributorsOptions{ListOptions: gh.ListOptions{PerPage: s.cfg.PageSize}})
	if err != nil {
		return capture.RepoMetrics{}, mapError("list contributors", err)
	}
	metrics.ActiveContributors = len(contributors)

	return metrics, nil
}

func (s *Source) syncActivity(ctx context.Context, repo capture.Repository, md *capture.SyncMetadata) (capture.ActivityResult, error) {
	result := capture.ActivityResult{}
	since := s.clock.Now().AddDate(0, 0, -md.WindowDays)

	prOpts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: s.cfg.PageSize},
	}
	for {
		prs, resp, err := s.client.PullRequests.List(ctx, repo.Owner, repo.Name, prOpts)
		result.APICallsUsed++
		if err != nil {
			return result, mapError("list pull requests", err)
		}
		done := false
		for _, pr := range prs {
			if pr.GetUpdatedAt().Time.Before(since) {
				done = true
				break
			}
			result.Items++
		}
		if done || resp.NextPage == 0 {
			break
		}
		prOpts.Page = resp.NextPage
	}

	commitOpts := &gh.CommitsListOptions{
		Since:       since,
		ListOptions: gh.ListOptions{PerPage: s.cfg.PageSize},
	}
	for {
		commits, resp, err := s.client.Repositories.ListCommits(ctx, repo.Owner, repo.Name, commitOpts)
		result.APICallsUsed++
		if err != nil {
			return result, mapError("list commits", err)
		}
		result.Items += len(commits)
		if resp.NextPage == 0 {
			break
		}
		commitOpts.Page = resp.NextPage
	}

	return result, nil
}

func (s *Source) fetchDetail(ctx context.Context, repo capture.Repository, md *capture.DetailFetchMetadata) (capture.ActivityResult, error) {
	result := capture.ActivityResult{APICallsUsed: 1}
	var err error
	switch md.Kind {
	case "pull":
		_, _, err = s.client.PullRequests.Get(ctx, repo.Owner, repo.Name, md.Number)
	default:
		_, _, err = s.client.Issues.Get(ctx, repo.Owner, repo.Name, md.Number)
	}
	if err != nil {
		return result, mapError("get detail", err)
	}
	result.Items = 1
	return result, nil
}

func (s *Source) fetchReviews(ctx context.Context, repo capture.Repository, md *capture.ReviewFetchMetadata) (capture.ActivityResult, error) {
	result := capture.ActivityResult{}
	opts := &gh.ListOptions{PerPage: s.cfg.PageSize}
	for {
		reviews, resp, err := s.client.PullRequests.ListReviews(ctx, repo.Owner, repo.Name, md.PullNumber, opts)
		result.APICallsUsed++
		if err != nil {
			return result, mapError("list reviews", err)
		}
		result.Items += len(reviews)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return result, nil
}

func (s *Source) fetchComments(ctx context.Context, repo capture.Repository, md *capture.CommentFetchMetadata) (capture.ActivityResult, error) {
	result := capture.ActivityResult{}
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: s.cfg.PageSize}}
	for {
		comments, resp, err := s.client.Issues.ListComments(ctx, repo.Owner, repo.Name, md.Number, opts)
		result.APICallsUsed++
		if err != nil {
			return result, mapError("list comments", err)
		}
		result.Items += len(comments)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return result, nil
}

func (s *Source) fetchCommits(ctx context.Context, repo capture.Repository, md *capture.CommitAnalysisMetadata) (capture.ActivityResult, error) {
	result := capture.ActivityResult{}
	opts := &gh.CommitsListOptions{
		SHA:         md.Ref,
		ListOptions: gh.ListOptions{PerPage: s.cfg.PageSize},
	}
	if md.Since != "" {
		// Validate() already checked the format.
		opts.Since, _ = time.Parse(time.RFC3339, md.Since)
	}
	for {
		commits, resp, err := s.client.Repositories.ListCommits(ctx, repo.Owner, repo.Name, opts)
		result.APICallsUsed++
		if err != nil {
			return result, mapError("list commits", err)
		}
		result.Items += len(commits)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return result, nil
}

// mapError folds go-github errors into the engine's sentinel taxonomy so
// the lifecycle manager classifies them correctly.
func mapError(op string, err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%s: %w: resets at %s", op, capture.ErrRateLimited, rateErr.Rate.Reset.Time.Format(time.RFC3339))
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%s: %w: secondary limit", op, capture.ErrRateLimited)
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch code := respErr.Response.StatusCode; {
		case code == http.StatusNotFound || code == http.StatusGone:
			return fmt.Errorf("%s: %w", op, capture.ErrNotFound)
		case code == http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", op, capture.ErrUnauthorized)
		case code == http.StatusForbidden:
			return fmt.Errorf("%s: %w", op, capture.ErrRepoInaccessible)
		case code >= 500:
			return fmt.Errorf("%s: %w: upstream returned %d", op, capture.ErrUnavailable, code)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
