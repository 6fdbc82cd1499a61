package model

import (
	"time"
)

// SyncEventType identifies a process-wide synchronization event. These are
// broadcast so that independently-mounted views (chat header, checkpoint
// manager, metadata panel) converge on the same state without direct
// coupling.
type SyncEventType string

const (
	EventProjectDataGenerating SyncEventType = "projectDataGenerating"
	EventProjectDataReady      SyncEventType = "projectDataReady"
	EventProjectDataFailed     SyncEventType = "projectDataFailed"
	EventBranchSwitched        SyncEventType = "branchSwitched"
	EventBranchSwitchFailed    SyncEventType = "branchSwitchFailed"
	EventNewBranchDetected     SyncEventType = "newBranchDetected"
	EventCommitCreated         SyncEventType = "commitCreated"
)

// SyncEvent is a process-wide synchronization event.
type SyncEvent struct {
	Type           SyncEventType `json:"type"`
	ProjectID      string        `json:"project_id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	BranchName     string        `json:"branch_name,omitempty"`
	CommitHash     string        `json:"commit_hash,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}
