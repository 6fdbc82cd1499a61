// Package model defines data structures for the checkpoint platform.
package model

import (
	"time"
)

// Project is an identified unit of work backed by a version-controlled
// workspace. Conversations belong to exactly one project.
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	WorkspaceRoot string    `json:"workspace_root"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Deleted       bool      `json:"deleted,omitempty"`
}

// CreateProjectRequest is the request to create a new project.
type CreateProjectRequest struct {
	Name          string `json:"name"`
	WorkspaceRoot string `json:"workspace_root"`
}

// ListProjectsResponse is the response for listing projects.
type ListProjectsResponse struct {
	Projects []Project `json:"projects"`
	Total    int       `json:"total"`
}

// ProjectMetadata is the server-held JSON projection of a project's
// version-control history, consumed by the checkpoint manager UI.
type ProjectMetadata struct {
	ProjectID     string       `json:"project_id"`
	ProjectName   string       `json:"project_name"`
	TotalBranches int          `json:"total_branches"`
	TotalCommits  int          `json:"total_commits"`
	LastActivity  time.Time    `json:"last_activity"`
	Branches      []BranchInfo `json:"branches"`
}
