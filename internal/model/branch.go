package model

import (
	"time"
)

// BranchInfo describes a branch as derived from version-control history.
// It is read-only from the application's perspective.
type BranchInfo struct {
	BranchName    string    `json:"branch_name"`
	CommitHash    string    `json:"commit_hash"`
	CommitMessage string    `json:"commit_message"`
	Timestamp     time.Time `json:"timestamp"`
	FilesChanged  []string  `json:"files_changed,omitempty"`
	LinesAdded    int       `json:"lines_added"`
	LinesRemoved  int       `json:"lines_removed"`
	IsMainBranch  bool      `json:"is_main_branch"`
	Tags          []string  `json:"tags,omitempty"`
}

// BranchState is the per-project view held by the branch state store.
type BranchState struct {
	CurrentBranch string `json:"current_branch"`
	IsSwitching   bool   `json:"is_switching"`
}

// SwitchBranchRequest is the request body for POST /api/projects/{id}/branches/switch.
type SwitchBranchRequest struct {
	BranchName string `json:"branch_name"`
}

// SwitchBranchResponse is returned by the branch switch endpoint.
type SwitchBranchResponse struct {
	Success       bool   `json:"success"`
	CurrentBranch string `json:"current_branch,omitempty"`
	Error         string `json:"error,omitempty"`
}

// CurrentBranchResponse is returned by GET /api/projects/{id}/branches/current.
type CurrentBranchResponse struct {
	CurrentBranch string `json:"current_branch"`
}

// ListBranchesResponse is returned by GET /api/projects/{id}/branches.
type ListBranchesResponse struct {
	Branches []string `json:"branches"`
}
