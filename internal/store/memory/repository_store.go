package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// RepositoryStore keeps tracked repositories in memory.
type RepositoryStore struct {
	mu    sync.RWMutex
	repos map[string]capture.Repository
}

// NewRepositoryStore constructs an empty RepositoryStore.
func NewRepositoryStore() *RepositoryStore {
	return &RepositoryStore{repos: make(map[string]capture.Repository)}
}

// GetRepository fetches a repository by ID.
func (s *RepositoryStore) GetRepository(_ context.Context, id string) (capture.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repo, ok := s.repos[id]
	if !ok {
		return capture.Repository{}, capture.ErrNotFound
	}
	return repo, nil
}

// SaveRepository upserts a repository record.
func (s *RepositoryStore) SaveRepository(_ context.Context, repo capture.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[repo.ID] = repo
	return nil
}

// UpdateClassification records the classifier's verdict.
func (s *RepositoryStore) UpdateClassification(_ context.Context, id string, tier capture.SizeTier, metrics capture.RepoMetrics, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[id]
	if !ok {
		return capture.ErrNotFound
	}
	repo.SizeTier = tier
	repo.Metrics = metrics
	repo.SizeCalculatedAt = at
	s.repos[id] = repo
	return nil
}

// ListDueClassification returns repositories whose classification is older
// than the cutoff for their priority tier, stalest first.
func (s *RepositoryStore) ListDueClassification(_ context.Context, highPriorityBefore, othersBefore time.Time, limit int) ([]capture.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []capture.Repository
	for _, repo := range s.repos {
		cutoff := othersBefore
		if repo.PriorityTier == capture.PriorityHigh {
			cutoff = highPriorityBefore
		}
		if repo.SizeCalculatedAt.Before(cutoff) {
			due = append(due, repo)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].SizeCalculatedAt.Before(due[j].SizeCalculatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}
