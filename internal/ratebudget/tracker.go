// Package ratebudget tracks the rolling hourly call budget per credential.
package ratebudget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
	"github.com/JakeFAU/repo-capture-engine/internal/telemetry"
)

// Config holds budget tracker configuration.
type Config struct {
	Credential string
	// HourlyLimit is the external API's per-hour call allowance.
	HourlyLimit int64
	// BufferPercent of the limit is held back as safety margin.
	BufferPercent int
}

// Tracker answers "can N more calls be made now" against the current hourly
// window. Usage recording is atomic under concurrent dispatch; budget
// exhaustion is backpressure, never an error.
type Tracker struct {
	cfg    Config
	buffer int64
	store  capture.RateWindowStore
	clock  capture.Clock
	logger *zap.Logger

	mu     sync.Mutex
	window capture.RateWindow
}

// New creates a Tracker and loads any persisted state for the current hour.
func New(
	ctx context.Context,
	cfg Config,
	store capture.RateWindowStore,
	clock capture.Clock,
	logger *zap.Logger,
) (*Tracker, error) {
	if cfg.HourlyLimit <= 0 {
		return nil, fmt.Errorf("hourly limit must be > 0, got %d", cfg.HourlyLimit)
	}
	if cfg.BufferPercent < 0 || cfg.BufferPercent >= 100 {
		return nil, fmt.Errorf("buffer percent must be in [0,100), got %d", cfg.BufferPercent)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		cfg:    cfg,
		buffer: cfg.HourlyLimit * int64(cfg.BufferPercent) / 100,
		store:  store,
		clock:  clock,
		logger: logger,
	}
	bucket := hourBucket(clock.Now())
	t.window = capture.RateWindow{
		Credential: cfg.Credential,
		HourBucket: bucket,
		ResetAt:    bucket.Add(time.Hour),
	}
	if store != nil {
		persisted, err := store.LoadWindow(ctx, cfg.Credential, bucket)
		switch {
		case err == nil:
			t.window = persisted
		case !errors.Is(err, capture.ErrNotFound):
			return nil, fmt.Errorf("load rate window: %w", err)
		}
	}
	return t, nil
}

// CanDispatch reports whether estimatedCalls more calls fit inside the
// current window while preserving the buffer reserve.
func (t *Tracker) CanDispatch(estimatedCalls int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked(t.clock.Now())
	ok := t.window.CallsMade+int64(estimatedCalls)+t.buffer <= t.cfg.HourlyLimit
	if !ok {
		telemetry.CountBudgetDeferral(t.cfg.Credential)
	}
	return ok
}

// RecordUsage adds n completed calls to the window. Calls that started in a
// prior hour land in the current bucket without penalty; the rollover
// already zeroed the counter.
func (t *Tracker) RecordUsage(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.rolloverLocked(t.clock.Now())
	t.window.CallsMade += int64(n)
	window := t.window
	t.mu.Unlock()

	telemetry.SetBudgetCalls(t.cfg.Credential, window.CallsMade)
	if t.store != nil {
		if err := t.store.SaveWindow(ctx, window); err != nil {
			t.logger.Warn("persist rate window failed", zap.Error(err))
		}
	}
}

// Remaining returns the calls still dispatchable before the buffer bites.
func (t *Tracker) Remaining() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked(t.clock.Now())
	rem := t.cfg.HourlyLimit - t.buffer - t.window.CallsMade
	if rem < 0 {
		return 0
	}
	return rem
}

// Window returns a snapshot of the current window for operator inspection.
func (t *Tracker) Window() capture.RateWindow {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked(t.clock.Now())
	return t.window
}

// Rollover forces a rollover check; the scheduler calls this on a timer so
// the bucket advances even when dispatch is idle.
func (t *Tracker) Rollover(ctx context.Context) {
	t.mu.Lock()
	rolled := t.rolloverLocked(t.clock.Now())
	window := t.window
	t.mu.Unlock()

	if rolled && t.store != nil {
		if err := t.store.SaveWindow(ctx, window); err != nil {
			t.logger.Warn("persist rolled window failed", zap.Error(err))
		}
	}
}

func (t *Tracker) rolloverLocked(now time.Time) bool {
	bucket := hourBucket(now)
	if !bucket.After(t.window.HourBucket) {
		return false
	}
	t.logger.Debug("rate window rollover",
		zap.Time("from", t.window.HourBucket),
		zap.Time("to", bucket),
		zap.Int64("calls_made", t.window.CallsMade),
	)
	t.window = capture.RateWindow{
		Credential: t.cfg.Credential,
		HourBucket: bucket,
		ResetAt:    bucket.Add(time.Hour),
	}
	telemetry.SetBudgetCalls(t.cfg.Credential, 0)
	return true
}

func hourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
