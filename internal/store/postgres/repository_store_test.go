package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

func TestGetRepositoryDecodesMetrics(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRepositoryStoreWithPool(mock, "repositories")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	metrics, err := json.Marshal(capture.RepoMetrics{Stars: 12000, Forks: 900})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM repositories WHERE id").
		WithArgs("repo-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "owner", "name", "size_tier", "priority_tier", "metrics",
			"size_calculated_at", "webhook_enabled", "last_webhook_event_at",
		}).AddRow("repo-1", "acme", "widgets", "medium", "high", metrics, now, true, nil))

	repo, err := store.GetRepository(context.Background(), "repo-1")
	require.NoError(t, err)
	require.Equal(t, capture.SizeMedium, repo.SizeTier)
	require.Equal(t, 12000, repo.Metrics.Stars)
	require.Nil(t, repo.LastWebhookEventAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateClassificationNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRepositoryStoreWithPool(mock, "repositories")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE repositories").
		WithArgs("missing", "large", pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateClassification(context.Background(), "missing", capture.SizeLarge, capture.RepoMetrics{}, now)
	require.ErrorIs(t, err, capture.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
