package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

const repoColumns = `id, owner, name, size_tier, priority_tier, metrics,
	size_calculated_at, webhook_enabled, last_webhook_event_at`

// RepositoryStore persists tracked repositories in Postgres. Metrics are
// stored as a jsonb snapshot alongside the classification verdict.
type RepositoryStore struct {
	pool  querier
	table string
}

// NewRepositoryStore connects a pool and returns a RepositoryStore.
func NewRepositoryStore(ctx context.Context, cfg Config, table string) (*RepositoryStore, error) {
	table, err := checkTable(table, "repositories")
	if err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RepositoryStore{pool: pool, table: table}, nil
}

// NewRepositoryStoreWithPool constructs a store from an existing pool.
func NewRepositoryStoreWithPool(pool querier, table string) (*RepositoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "repositories")
	if err != nil {
		return nil, err
	}
	return &RepositoryStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RepositoryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetRepository fetches a repository by ID.
func (s *RepositoryStore) GetRepository(ctx context.Context, id string) (capture.Repository, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, repoColumns, s.table)
	repo, err := scanRepository(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return capture.Repository{}, capture.ErrNotFound
		}
		return capture.Repository{}, fmt.Errorf("get repository: %w", err)
	}
	return repo, nil
}

// SaveRepository upserts a repository record.
func (s *RepositoryStore) SaveRepository(ctx context.Context, repo capture.Repository) error {
	if repo.ID == "" {
		return fmt.Errorf("%w: repository id is required", capture.ErrInvalidInput)
	}
	metrics, err := json.Marshal(repo.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, owner, name, size_tier, priority_tier, metrics,
	size_calculated_at, webhook_enabled, last_webhook_event_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
	owner = EXCLUDED.owner,
	name = EXCLUDED.name,
	size_tier = EXCLUDED.size_tier,
	priority_tier = EXCLUDED.priority_tier,
	metrics = EXCLUDED.metrics,
	size_calculated_at = EXCLUDED.size_calculated_at,
	webhook_enabled = EXCLUDED.webhook_enabled,
	last_webhook_event_at = EXCLUDED.last_webhook_event_at`, s.table)
	_, err = s.pool.Exec(ctx, query,
		repo.ID,
		repo.Owner,
		repo.Name,
		string(repo.SizeTier),
		string(repo.PriorityTier),
		metrics,
		repo.SizeCalculatedAt,
		repo.WebhookEnabled,
		repo.LastWebhookEventAt,
	)
	if err != nil {
		return fmt.Errorf("save repository: %w", err)
	}
	return nil
}

// UpdateClassification records the classifier's verdict.
func (s *RepositoryStore) UpdateClassification(ctx context.Context, id string, tier capture.SizeTier, metrics capture.RepoMetrics, at time.Time) error {
	payload, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET size_tier = $2, metrics = $3, size_calculated_at = $4
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, id, string(tier), payload, at)
	if err != nil {
		return fmt.Errorf("update classification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return capture.ErrNotFound
	}
	return nil
}

// ListDueClassification returns repositories whose classification is older
// than the cutoff for their priority tier, stalest first.
func (s *RepositoryStore) ListDueClassification(ctx context.Context, highPriorityBefore, othersBefore time.Time, limit int) ([]capture.Repository, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE (priority_tier = 'high' AND size_calculated_at < $1)
   OR (priority_tier <> 'high' AND size_calculated_at < $2)
ORDER BY size_calculated_at
LIMIT $3`, repoColumns, s.table)
	rows, err := s.pool.Query(ctx, query, highPriorityBefore, othersBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list due classification: %w", err)
	}
	defer rows.Close()
	var repos []capture.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}
	return repos, nil
}

func scanRepository(row pgx.Row) (capture.Repository, error) {
	var (
		repo     capture.Repository
		sizeTier string
		priority string
		metrics  []byte
	)
	err := row.Scan(
		&repo.ID,
		&repo.Owner,
		&repo.Name,
		&sizeTier,
		&priority,
		&metrics,
		&repo.SizeCalculatedAt,
		&repo.WebhookEnabled,
		&repo.LastWebhookEventAt,
	)
	if err != nil {
		return capture.Repository{}, err
	}
	repo.SizeTier = capture.SizeTier(sizeTier)
	repo.PriorityTier = capture.PriorityTier(priority)
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &repo.Metrics); err != nil {
			return capture.Repository{}, fmt.Errorf("decode metrics: %w", err)
		}
	}
	return repo, nil
}
