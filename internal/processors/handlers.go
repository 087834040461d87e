package processors

import (
	"context"
	"fmt"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
	"github.com/JakeFAU/repo-capture-engine/internal/classify"
)

// NewActivityHandler builds the handler shared by every fetch-style job
// type: it loads the repository and delegates to the external activity
// source, reporting consumed API calls back through the result.
func NewActivityHandler(repos capture.RepositoryStore, source capture.ActivitySource) HandlerFunc {
	return func(ctx context.Context, job capture.CaptureJob) (capture.ExecutionResult, error) {
		repo, err := repos.GetRepository(ctx, job.RepositoryID)
		if err != nil {
			return capture.ExecutionResult{}, fmt.Errorf("load repository %s: %w", job.RepositoryID, err)
		}
		activity, err := source.FetchActivity(ctx, repo, job)
		if err != nil {
			return capture.ExecutionResult{APICallsUsed: activity.APICallsUsed}, err
		}
		return capture.ExecutionResult{
			Progress: capture.JobProgress{
				TotalItems:     activity.Items,
				ProcessedItems: activity.Items,
			},
			APICallsUsed: activity.APICallsUsed,
		}, nil
	}
}

// NewClassificationHandler builds the handler for classification jobs.
// One call covers the metrics fetch; the vote itself is local.
func NewClassificationHandler(repos capture.RepositoryStore, classifier *classify.Classifier) HandlerFunc {
	return func(ctx context.Context, job capture.CaptureJob) (capture.ExecutionResult, error) {
		repo, err := repos.GetRepository(ctx, job.RepositoryID)
		if err != nil {
			return capture.ExecutionResult{}, fmt.Errorf("load repository %s: %w", job.RepositoryID, err)
		}
		if _, err := classifier.Reclassify(ctx, repo); err != nil {
			return capture.ExecutionResult{APICallsUsed: 1}, err
		}
		return capture.ExecutionResult{
			Progress:     capture.JobProgress{TotalItems: 1, ProcessedItems: 1},
			APICallsUsed: 1,
		}, nil
	}
}

// DefaultTable wires the standard handler set: every fetch job type uses
// the activity handler, classification uses the classifier.
func DefaultTable(repos capture.RepositoryStore, source capture.ActivitySource, classifier *classify.Classifier) (Table, error) {
	activity := NewActivityHandler(repos, source)
	return NewTable(map[capture.JobType]HandlerFunc{
		capture.JobTypeSync:           activity,
		capture.JobTypeDetailFetch:    activity,
		capture.JobTypeReviewFetch:    activity,
		capture.JobTypeCommentFetch:   activity,
		capture.JobTypeCommitAnalysis: activity,
		capture.JobTypeClassification: NewClassificationHandler(repos, classifier),
	})
}
