package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// RateWindowStore persists hourly budget windows keyed by credential and
// hour bucket.
type RateWindowStore struct {
	pool  querier
	table string
}

// NewRateWindowStore connects a pool and returns a RateWindowStore.
func NewRateWindowStore(ctx context.Context, cfg Config, table string) (*RateWindowStore, error) {
	table, err := checkTable(table, "rate_windows")
	if err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RateWindowStore{pool: pool, table: table}, nil
}

// NewRateWindowStoreWithPool constructs a store from an existing pool.
func NewRateWindowStoreWithPool(pool querier, table string) (*RateWindowStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "rate_windows")
	if err != nil {
		return nil, err
	}
	return &RateWindowStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RateWindowStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// LoadWindow returns the persisted window for a credential and hour, or
// ErrNotFound.
func (s *RateWindowStore) LoadWindow(ctx context.Context, credential string, hourBucket time.Time) (capture.RateWindow, error) {
	query := fmt.Sprintf(`
SELECT credential, hour_bucket, calls_made, reset_at
FROM %s
WHERE credential = $1 AND hour_bucket = $2`, s.table)
	var w capture.RateWindow
	err := s.pool.QueryRow(ctx, query, credential, hourBucket).
		Scan(&w.Credential, &w.HourBucket, &w.CallsMade, &w.ResetAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return capture.RateWindow{}, capture.ErrNotFound
		}
		return capture.RateWindow{}, fmt.Errorf("load rate window: %w", err)
	}
	return w, nil
}

// SaveWindow upserts the window row.
func (s *RateWindowStore) SaveWindow(ctx context.Context, window capture.RateWindow) error {
	if window.Credential == "" {
		return fmt.Errorf("%w: credential is required", capture.ErrInvalidInput)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (credential, hour_bucket, calls_made, reset_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (credential, hour_bucket) DO UPDATE SET
	calls_made = EXCLUDED.calls_made,
	reset_at = EXCLUDED.reset_at`, s.table)
	_, err := s.pool.Exec(ctx, query, window.Credential, window.HourBucket, window.CallsMade, window.ResetAt)
	if err != nil {
		return fmt.Errorf("save rate window: %w", err)
	}
	return nil
}
