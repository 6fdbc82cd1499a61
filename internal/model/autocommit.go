package model

import (
	"time"
)

// AutoCommitConditions gate when an accumulated-change commit may fire.
type AutoCommitConditions struct {
	MinimumChanges       int           `json:"minimum_changes"`
	DelayAfterLastChange time.Duration `json:"delay_after_last_change"`
}

// AutoCommitConfig is the process-wide auto-commit configuration. One
// instance exists for the lifetime of the process; it is mutated only by
// explicit user settings updates.
type AutoCommitConfig struct {
	Enabled            bool                 `json:"enabled"`
	AutoPushToRemote   bool                 `json:"auto_push_to_remote"`
	Conditions         AutoCommitConditions `json:"conditions"`
	LLMProvider        string               `json:"llm_provider"`
	MaxRecentSnapshots int                  `json:"max_recent_snapshots"`
	MaxRecentBranches  int                  `json:"max_recent_branches"`
}
