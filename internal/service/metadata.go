package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

// MetadataClient fetches project metadata over HTTP. A 404 response is not
// an error: it means no metadata has been generated yet and callers should
// treat the project as having an empty history.
type MetadataClient struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

// NewMetadataClient creates a metadata client for the given base URL.
func NewMetadataClient(baseURL string, log *logger.Logger) *MetadataClient {
	return &MetadataClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  log,
	}
}

// FetchProjectMetadata retrieves the metadata projection for a project.
func (c *MetadataClient) FetchProjectMetadata(ctx context.Context, projectID string) (*model.ProjectMetadata, error) {
	url := fmt.Sprintf("%s/api/projects/%s", c.baseURL, projectID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch project metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &model.ProjectMetadata{ProjectID: projectID}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	var meta model.ProjectMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode project metadata: %w", err)
	}

	return &meta, nil
}

// RemoteMetadataBuilder satisfies MetadataBuilder by delegating to an
// external metadata service instead of scanning the workspace locally.
type RemoteMetadataBuilder struct {
	client *MetadataClient
}

// NewRemoteMetadataBuilder wraps a metadata client as a MetadataBuilder.
func NewRemoteMetadataBuilder(client *MetadataClient) *RemoteMetadataBuilder {
	return &RemoteMetadataBuilder{client: client}
}

// Build fetches the projection from the remote service. The project name
// and path are unused; the remote service keys on project ID alone.
func (b *RemoteMetadataBuilder) Build(projectID, projectName, path string) (*model.ProjectMetadata, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return b.client.FetchProjectMetadata(ctx, projectID)
}

// BranchSwitcher switches a project's workspace to a named branch.
type BranchSwitcher interface {
	SwitchToBranch(ctx context.Context, projectID, path, branchName string) error
}

// RefCheckout checks out an arbitrary ref in a workspace.
type RefCheckout interface {
	Checkout(ctx context.Context, path, ref string) error
}

// RevertOrchestrator restores a conversation's workspace to an earlier
// checkpoint. When the target commit is the tip of a known branch the
// revert is performed as a branch switch, which keeps the workspace on a
// named ref; otherwise the commit hash is checked out directly.
type RevertOrchestrator struct {
	projects      *ProjectService
	conversations *ConversationService
	branches      BranchSwitcher
	gateway       RefCheckout
	logger        *logger.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewRevertOrchestrator creates a new revert orchestrator.
func NewRevertOrchestrator(
	projects *ProjectService,
	conversations *ConversationService,
	branches BranchSwitcher,
	gateway RefCheckout,
	log *logger.Logger,
) *RevertOrchestrator {
	return &RevertOrchestrator{
		projects:      projects,
		conversations: conversations,
		branches:      branches,
		gateway:       gateway,
		logger:        log,
		pollInterval:  time.Second,
		pollTimeout:   30 * time.Second,
	}
}

// Revert restores the workspace of a conversation to the given commit and
// regenerates the project metadata projection.
func (o *RevertOrchestrator) Revert(ctx context.Context, projectID, conversationID, commitHash string) error {
	project, err := o.projects.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := o.conversations.Get(ctx, projectID, conversationID); err != nil {
		return err
	}

	branch := o.branchForCommit(projectID, commitHash)
	if branch != "" {
		if err := o.branches.SwitchToBranch(ctx, projectID, project.WorkspaceRoot, branch); err != nil {
			return fmt.Errorf("failed to switch to branch %s: %w", branch, err)
		}
	} else {
		if err := o.gateway.Checkout(ctx, project.WorkspaceRoot, commitHash); err != nil {
			return fmt.Errorf("failed to checkout %s: %w", commitHash, err)
		}
	}

	o.conversations.MarkReverted(conversationID)

	if err := o.projects.Generate(ctx, projectID); err != nil {
		return err
	}
	if err := o.waitForGeneration(ctx, projectID); err != nil {
		o.logger.Warn("metadata regeneration did not complete after revert",
			zap.String("project_id", projectID),
			zap.Error(err))
	}

	o.logger.Info("conversation reverted",
		zap.String("conversation_id", conversationID),
		zap.String("commit", commitHash),
		zap.String("branch", branch))

	return nil
}

// branchForCommit returns the branch whose tip is the given commit, if the
// current metadata projection knows one.
func (o *RevertOrchestrator) branchForCommit(projectID, commitHash string) string {
	meta := o.projects.Metadata(projectID)
	if meta == nil {
		return ""
	}
	for _, branch := range meta.Branches {
		if branch.CommitHash == commitHash {
			return branch.BranchName
		}
	}
	return ""
}

// waitForGeneration polls until the metadata rebuild finishes or the poll
// budget is exhausted.
func (o *RevertOrchestrator) waitForGeneration(ctx context.Context, projectID string) error {
	deadline := time.Now().Add(o.pollTimeout)
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		if !o.projects.IsGenerating(projectID) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("metadata generation still running after %s", o.pollTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
