package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

type windowKey struct {
	credential string
	hourBucket int64
}

// RateWindowStore keeps hourly budget windows in memory.
type RateWindowStore struct {
	mu      sync.RWMutex
	windows map[windowKey]capture.RateWindow
}

// NewRateWindowStore constructs an empty RateWindowStore.
func NewRateWindowStore() *RateWindowStore {
	return &RateWindowStore{windows: make(map[windowKey]capture.RateWindow)}
}

// LoadWindow returns the persisted window for a credential and hour, or
// ErrNotFound.
func (s *RateWindowStore) LoadWindow(_ context.Context, credential string, hourBucket time.Time) (capture.RateWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[windowKey{credential: credential, hourBucket: hourBucket.UTC().Unix()}]
	if !ok {
		return capture.RateWindow{}, capture.ErrNotFound
	}
	return w, nil
}

// SaveWindow upserts the window.
func (s *RateWindowStore) SaveWindow(_ context.Context, window capture.RateWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[windowKey{credential: window.Credential, hourBucket: window.HourBucket.UTC().Unix()}] = window
	return nil
}
