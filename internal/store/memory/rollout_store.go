package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// RolloutStore keeps rollout configuration in memory.
type RolloutStore struct {
	mu      sync.RWMutex
	configs map[string]capture.RolloutConfig
}

// NewRolloutStore constructs an empty RolloutStore.
func NewRolloutStore() *RolloutStore {
	return &RolloutStore{configs: make(map[string]capture.RolloutConfig)}
}

// GetConfig returns the persisted config for a feature, or ErrNotFound.
func (s *RolloutStore) GetConfig(_ context.Context, feature string) (capture.RolloutConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[feature]
	if !ok {
		return capture.RolloutConfig{}, capture.ErrNotFound
	}
	return cfg, nil
}

// SaveConfig upserts the config.
func (s *RolloutStore) SaveConfig(_ context.Context, cfg capture.RolloutConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.FeatureName] = cfg
	return nil
}
