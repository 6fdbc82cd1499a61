// Package service provides business logic for the checkpoint platform.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/events"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
	"github.com/forgechat/checkpoint-platform/pkg/metrics"
)

// ErrProjectNotFound is returned when a project does not exist.
var ErrProjectNotFound = fmt.Errorf("project not found")

// MetadataBuilder produces the version-control projection for a project.
type MetadataBuilder interface {
	Build(projectID, projectName, path string) (*model.ProjectMetadata, error)
}

// ProjectService handles project registration and metadata generation.
type ProjectService struct {
	builder MetadataBuilder
	bus     *events.Bus
	logger  *logger.Logger

	mu         sync.RWMutex
	projects   map[string]*model.Project
	metadata   map[string]*model.ProjectMetadata
	generating map[string]bool
}

// NewProjectService creates a new project service.
func NewProjectService(builder MetadataBuilder, bus *events.Bus, log *logger.Logger) *ProjectService {
	return &ProjectService{
		builder:    builder,
		bus:        bus,
		logger:     log,
		projects:   make(map[string]*model.Project),
		metadata:   make(map[string]*model.ProjectMetadata),
		generating: make(map[string]bool),
	}
}

// Create registers a new project.
func (s *ProjectService) Create(ctx context.Context, req *model.CreateProjectRequest) (*model.Project, error) {
	if req.Name == "" || req.WorkspaceRoot == "" {
		return nil, fmt.Errorf("project name and workspace root are required")
	}

	now := time.Now()
	project := &model.Project{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Name:          req.Name,
		WorkspaceRoot: req.WorkspaceRoot,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	s.projects[project.ID] = project
	s.mu.Unlock()

	s.logger.Info("project created",
		zap.String("project_id", project.ID),
		zap.String("name", project.Name))

	return project, nil
}

// Get retrieves a project by ID.
func (s *ProjectService) Get(ctx context.Context, projectID string) (*model.Project, error) {
	s.mu.RLock()
	project, exists := s.projects[projectID]
	s.mu.RUnlock()

	if !exists || project.Deleted {
		return nil, ErrProjectNotFound
	}

	return project, nil
}

// List retrieves all registered projects.
func (s *ProjectService) List(ctx context.Context) (*model.ListProjectsResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var projects []model.Project
	for _, p := range s.projects {
		if !p.Deleted {
			projects = append(projects, *p)
		}
	}

	return &model.ListProjectsResponse{
		Projects: projects,
		Total:    len(projects),
	}, nil
}

// Metadata returns the last generated projection for a project, or nil if
// none has been generated yet.
func (s *ProjectService) Metadata(projectID string) *model.ProjectMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata[projectID]
}

// IsGenerating reports whether a projection build is in flight.
func (s *ProjectService) IsGenerating(projectID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generating[projectID]
}

// Generate rebuilds the project metadata projection asynchronously. The
// result is announced on the event bus as projectDataReady or
// projectDataFailed. A second request while one is in flight is a no-op.
func (s *ProjectService) Generate(ctx context.Context, projectID string) error {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.generating[projectID] {
		s.mu.Unlock()
		return nil
	}
	s.generating[projectID] = true
	s.mu.Unlock()

	s.bus.Publish(model.SyncEvent{
		Type:      model.EventProjectDataGenerating,
		ProjectID: projectID,
	})

	go s.generate(project)

	return nil
}

func (s *ProjectService) generate(project *model.Project) {
	start := time.Now()

	meta, err := s.builder.Build(project.ID, project.Name, project.WorkspaceRoot)

	s.mu.Lock()
	delete(s.generating, project.ID)
	if err == nil {
		s.metadata[project.ID] = meta
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("project metadata generation failed",
			zap.String("project_id", project.ID),
			zap.Error(err))
		metrics.MetadataGenerationsTotal.WithLabelValues("error").Inc()
		s.bus.Publish(model.SyncEvent{
			Type:      model.EventProjectDataFailed,
			ProjectID: project.ID,
			Reason:    err.Error(),
		})
		return
	}

	s.logger.Info("project metadata generated",
		zap.String("project_id", project.ID),
		zap.Int("branches", meta.TotalBranches),
		zap.Int("commits", meta.TotalCommits),
		zap.Duration("took", time.Since(start)))
	metrics.MetadataGenerationsTotal.WithLabelValues("success").Inc()

	s.bus.Publish(model.SyncEvent{
		Type:      model.EventProjectDataReady,
		ProjectID: project.ID,
	})
}
