// Package branchstate holds the single source of truth for "what branch is
// each project on" and serializes branch switches per project.
package branchstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/events"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/internal/vcs"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
	"github.com/forgechat/checkpoint-platform/pkg/metrics"
)

// DefaultBranch is assumed for any project not yet queried.
const DefaultBranch = "main"

// ErrSwitchInProgress is returned when a second switch is requested for a
// project that already has one in flight.
var ErrSwitchInProgress = errors.New("branch switch already in progress")

// BranchGateway is the subset of the version-control gateway the store needs.
type BranchGateway interface {
	GetStatus(ctx context.Context, path string, forceRefresh bool) (*vcs.Status, error)
	ListBranches(ctx context.Context, path string, forceRefresh bool) ([]string, error)
	Checkout(ctx context.Context, path, ref string) error
}

type projectEntry struct {
	currentBranch string
	isSwitching   bool
	branches      []string
	stopRefresh   chan struct{}
}

// Store is the branch state store, one entry per project id.
type Store struct {
	gateway BranchGateway
	bus     *events.Bus
	logger  *logger.Logger

	mu       sync.Mutex
	projects map[string]*projectEntry
}

// NewStore creates a branch state store.
func NewStore(gw BranchGateway, bus *events.Bus, log *logger.Logger) *Store {
	return &Store{
		gateway:  gw,
		bus:      bus,
		logger:   log,
		projects: make(map[string]*projectEntry),
	}
}

func (s *Store) entry(projectID string) *projectEntry {
	e, ok := s.projects[projectID]
	if !ok {
		e = &projectEntry{currentBranch: DefaultBranch}
		s.projects[projectID] = e
	}
	return e
}

// CurrentBranch returns the last known branch for a project, defaulting to
// "main" for projects not yet queried.
func (s *Store) CurrentBranch(projectID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(projectID).currentBranch
}

// State returns the full branch state for a project.
func (s *Store) State(projectID string) model.BranchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(projectID)
	return model.BranchState{CurrentBranch: e.currentBranch, IsSwitching: e.isSwitching}
}

// RefreshCurrentBranch queries the gateway and updates the cached branch.
// Safe to call concurrently with itself; last write wins. A newly observed
// branch emits a newBranchDetected event.
func (s *Store) RefreshCurrentBranch(ctx context.Context, projectID, path string) (string, error) {
	status, err := s.gateway.GetStatus(ctx, path, true)
	if err != nil {
		return "", fmt.Errorf("refresh current branch: %w", err)
	}
	branch := status.CurrentBranch
	if branch == "" {
		branch = DefaultBranch
	}

	s.mu.Lock()
	e := s.entry(projectID)
	previous := e.currentBranch
	e.currentBranch = branch
	s.mu.Unlock()

	if previous != branch {
		s.bus.Publish(model.SyncEvent{
			Type:       model.EventNewBranchDetected,
			ProjectID:  projectID,
			BranchName: branch,
		})
	}
	return branch, nil
}

// SwitchToBranch checks out branchName for the project. At most one switch
// may be in flight per project; concurrent calls for the same project are
// rejected with ErrSwitchInProgress. The switching flag is cleared on every
// outcome.
func (s *Store) SwitchToBranch(ctx context.Context, projectID, path, branchName string) error {
	s.mu.Lock()
	e := s.entry(projectID)
	if e.isSwitching {
		s.mu.Unlock()
		return ErrSwitchInProgress
	}
	e.isSwitching = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.entry(projectID).isSwitching = false
		s.mu.Unlock()
	}()

	if err := s.gateway.Checkout(ctx, path, branchName); err != nil {
		metrics.BranchSwitchesTotal.WithLabelValues("error").Inc()
		s.bus.Publish(model.SyncEvent{
			Type:       model.EventBranchSwitchFailed,
			ProjectID:  projectID,
			BranchName: branchName,
			Reason:     err.Error(),
		})
		return fmt.Errorf("switch to %s: %w", branchName, err)
	}

	s.mu.Lock()
	s.entry(projectID).currentBranch = branchName
	s.mu.Unlock()

	metrics.BranchSwitchesTotal.WithLabelValues("success").Inc()
	s.logger.Info("branch switched",
		zap.String("project_id", projectID), zap.String("branch", branchName))
	s.bus.Publish(model.SyncEvent{
		Type:       model.EventBranchSwitched,
		ProjectID:  projectID,
		BranchName: branchName,
	})
	return nil
}

// ListProjectBranches fetches all branches for a project and caches them for
// display. Does not mutate the current branch.
func (s *Store) ListProjectBranches(ctx context.Context, projectID, path string) ([]string, error) {
	branches, err := s.gateway.ListBranches(ctx, path, false)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}

	s.mu.Lock()
	s.entry(projectID).branches = branches
	s.mu.Unlock()
	return branches, nil
}

// CachedBranches returns the last listed branches for a project.
func (s *Store) CachedBranches(projectID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(projectID).branches
}

// StartAutoRefresh begins a polling loop that refreshes the current branch at
// the given interval. At most one loop runs per project; starting again
// replaces the previous loop.
func (s *Store) StartAutoRefresh(projectID, path string, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.mu.Lock()
	e := s.entry(projectID)
	if e.stopRefresh != nil {
		close(e.stopRefresh)
	}
	stop := make(chan struct{})
	e.stopRefresh = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if _, err := s.RefreshCurrentBranch(ctx, projectID, path); err != nil {
					s.logger.Debug("auto-refresh failed",
						zap.String("project_id", projectID), zap.Error(err))
				}
				cancel()
			}
		}
	}()
}

// StopAutoRefresh stops the polling loop for a project, if any.
func (s *Store) StopAutoRefresh(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(projectID)
	if e.stopRefresh != nil {
		close(e.stopRefresh)
		e.stopRefresh = nil
	}
}

// Close stops all polling loops.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.projects {
		if e.stopRefresh != nil {
			close(e.stopRefresh)
			e.stopRefresh = nil
		}
	}
}
