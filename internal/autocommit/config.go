// Package autocommit decides when automatic workspace commits should fire
// and executes them through the version-control gateway.
package autocommit

import (
	"sync"
	"time"

	"github.com/forgechat/checkpoint-platform/internal/model"
)

// DefaultConfig returns the auto-commit configuration used before any user
// settings update.
func DefaultConfig() model.AutoCommitConfig {
	return model.AutoCommitConfig{
		Enabled:          true,
		AutoPushToRemote: false,
		Conditions: model.AutoCommitConditions{
			MinimumChanges:       3,
			DelayAfterLastChange: 30 * time.Second,
		},
		LLMProvider:        "anthropic",
		MaxRecentSnapshots: 20,
		MaxRecentBranches:  10,
	}
}

// ConfigStore owns the process-wide auto-commit configuration. It is
// initialized once at startup from persisted settings and mutated only by
// explicit user updates.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg model.AutoCommitConfig
}

// NewConfigStore creates a config store seeded with cfg.
func NewConfigStore(cfg model.AutoCommitConfig) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

// Get returns a snapshot of the current configuration.
func (s *ConfigStore) Get() model.AutoCommitConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update replaces the configuration.
func (s *ConfigStore) Update(cfg model.AutoCommitConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}
