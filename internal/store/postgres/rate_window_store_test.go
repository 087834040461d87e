package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

func TestLoadWindowNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRateWindowStoreWithPool(mock, "rate_windows")
	require.NoError(t, err)

	hour := time.Unix(1700000000, 0).UTC().Truncate(time.Hour)
	mock.ExpectQuery("SELECT credential, hour_bucket, calls_made, reset_at").
		WithArgs("primary", hour).
		WillReturnRows(pgxmock.NewRows([]string{"credential", "hour_bucket", "calls_made", "reset_at"}))

	_, err = store.LoadWindow(context.Background(), "primary", hour)
	require.ErrorIs(t, err, capture.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWindowUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRateWindowStoreWithPool(mock, "rate_windows")
	require.NoError(t, err)

	hour := time.Unix(1700000000, 0).UTC().Truncate(time.Hour)
	window := capture.RateWindow{
		Credential: "primary",
		HourBucket: hour,
		CallsMade:  120,
		ResetAt:    hour.Add(time.Hour),
	}
	mock.ExpectExec("INSERT INTO rate_windows").
		WithArgs(window.Credential, window.HourBucket, window.CallsMade, window.ResetAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveWindow(context.Background(), window))
	require.NoError(t, mock.ExpectationsWereMet())
}
