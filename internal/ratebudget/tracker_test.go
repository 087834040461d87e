package ratebudget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeWindowStore struct {
	mu      sync.Mutex
	windows map[string]capture.RateWindow
	saves   int
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{windows: make(map[string]capture.RateWindow)}
}

func (s *fakeWindowStore) LoadWindow(_ context.Context, credential string, bucket time.Time) (capture.RateWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[credential+bucket.String()]
	if !ok {
		return capture.RateWindow{}, capture.ErrNotFound
	}
	return w, nil
}

func (s *fakeWindowStore) SaveWindow(_ context.Context, w capture.RateWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.windows[w.Credential+w.HourBucket.String()] = w
	return nil
}

func newTestTracker(t *testing.T, limit int64, bufferPct int, clk *fakeClock) (*Tracker, *fakeWindowStore) {
	t.Helper()
	store := newFakeWindowStore()
	tr, err := New(context.Background(), Config{
		Credential:    "default",
		HourlyLimit:   limit,
		BufferPercent: bufferPct,
	}, store, clk, zap.NewNop())
	require.NoError(t, err)
	return tr, store
}

func TestCanDispatch_BufferReserve(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)}
	tr, _ := newTestTracker(t, 100, 20, clk)

	// 100 limit, 20 buffer: 80 usable.
	require.True(t, tr.CanDispatch(80))
	require.False(t, tr.CanDispatch(81))

	tr.RecordUsage(context.Background(), 70)
	require.True(t, tr.CanDispatch(10))
	require.False(t, tr.CanDispatch(11))
	require.Equal(t, int64(10), tr.Remaining())

	tr.RecordUsage(context.Background(), 10)
	require.False(t, tr.CanDispatch(1))
	require.Equal(t, int64(0), tr.Remaining())
}

func TestRecordUsage_ConcurrentIncrements(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)}
	tr, _ := newTestTracker(t, 100_000, 0, clk)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				tr.RecordUsage(context.Background(), 3)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(50*20*3), tr.Window().CallsMade)
}

func TestRollover_ResetsBucket(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)}
	tr, _ := newTestTracker(t, 100, 20, clk)

	tr.RecordUsage(context.Background(), 80)
	require.False(t, tr.CanDispatch(1))

	clk.Advance(2 * time.Minute) // crosses the hour boundary
	require.True(t, tr.CanDispatch(1))

	w := tr.Window()
	require.Equal(t, int64(0), w.CallsMade)
	require.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), w.HourBucket)
	require.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), w.ResetAt)
}

func TestRecordUsage_PersistsWindow(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)}
	tr, store := newTestTracker(t, 100, 20, clk)

	tr.RecordUsage(context.Background(), 12)
	store.mu.Lock()
	saves := store.saves
	store.mu.Unlock()
	require.Equal(t, 1, saves)

	// A fresh tracker for the same hour picks up persisted usage.
	tr2, err := New(context.Background(), Config{
		Credential:    "default",
		HourlyLimit:   100,
		BufferPercent: 20,
	}, store, clk, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, int64(12), tr2.Window().CallsMade)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(0, 0)}
	_, err := New(context.Background(), Config{HourlyLimit: 0}, nil, clk, nil)
	require.Error(t, err)

	_, err = New(context.Background(), Config{HourlyLimit: 100, BufferPercent: 100}, nil, clk, nil)
	require.Error(t, err)
}

func TestPacer_Disabled(t *testing.T) {
	t.Parallel()

	p := NewPacer(PacerConfig{})
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Wait(context.Background(), "default", 1))
	}
	require.Less(t, time.Since(start), time.Second)
}

func TestPacer_ContextCancel(t *testing.T) {
	t.Parallel()

	p := NewPacer(PacerConfig{CallsPerSecond: 0.001, Burst: 1})
	require.NoError(t, p.Wait(context.Background(), "default", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Wait(ctx, "default", 1)
	require.Error(t, err)
}
