// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/branchname"
	"github.com/forgechat/checkpoint-platform/internal/branchstate"
	"github.com/forgechat/checkpoint-platform/internal/middleware"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/internal/service"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

// ProjectHandler handles project and branch endpoints.
type ProjectHandler struct {
	projects        *service.ProjectService
	branches        *branchstate.Store
	refreshInterval time.Duration
	logger          *logger.Logger
}

// NewProjectHandler creates a new project handler. refreshInterval controls
// the branch polling loop started for each registered project.
func NewProjectHandler(projects *service.ProjectService, branches *branchstate.Store, refreshInterval time.Duration, log *logger.Logger) *ProjectHandler {
	return &ProjectHandler{
		projects:        projects,
		branches:        branches,
		refreshInterval: refreshInterval,
		logger:          log,
	}
}

// Create handles POST /api/projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	project, err := h.projects.Create(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.branches.StartAutoRefresh(project.ID, project.WorkspaceRoot, h.refreshInterval)

	writeJSON(w, http.StatusCreated, project)
}

// List handles GET /api/projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	resp, err := h.projects.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/projects/{projectID}
//
// The response is the project's metadata projection. 404 means either the
// project is unknown or no projection has been generated yet; clients treat
// both as an empty history.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := middleware.ValidateProjectID(projectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.projects.Get(r.Context(), projectID); err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	meta := h.projects.Metadata(projectID)
	if meta == nil {
		writeError(w, http.StatusNotFound, "project metadata not generated")
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

// Generate handles POST /api/projects/{projectID}/generate
func (h *ProjectHandler) Generate(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := middleware.ValidateProjectID(projectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.projects.Generate(r.Context(), projectID); err != nil {
		if errors.Is(err, service.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		h.logger.Error("failed to start metadata generation",
			zap.String("project_id", projectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start generation")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "generating"})
}

// ListBranches handles GET /api/projects/{projectID}/branches
func (h *ProjectHandler) ListBranches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	if err := middleware.ValidateProjectID(projectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.projects.Get(ctx, projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	names, err := h.branches.ListProjectBranches(ctx, projectID, project.WorkspaceRoot)
	if err != nil {
		h.logger.Error("failed to list branches",
			zap.String("project_id", projectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list branches")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListBranchesResponse{Branches: names})
}

// CurrentBranch handles GET /api/projects/{projectID}/branches/current
func (h *ProjectHandler) CurrentBranch(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := middleware.ValidateProjectID(projectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.projects.Get(r.Context(), projectID); err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	writeJSON(w, http.StatusOK, &model.CurrentBranchResponse{
		CurrentBranch: h.branches.CurrentBranch(projectID),
	})
}

// SwitchBranch handles POST /api/projects/{projectID}/branches/switch
func (h *ProjectHandler) SwitchBranch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	if err := middleware.ValidateProjectID(projectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.projects.Get(ctx, projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	var req model.SwitchBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateBranchName(req.BranchName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.branches.SwitchToBranch(ctx, projectID, project.WorkspaceRoot, req.BranchName); err != nil {
		if errors.Is(err, branchstate.ErrSwitchInProgress) {
			writeJSON(w, http.StatusConflict, &model.SwitchBranchResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}
		h.logger.Error("branch switch failed",
			zap.String("project_id", projectID),
			zap.String("branch", req.BranchName),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, &model.SwitchBranchResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, &model.SwitchBranchResponse{
		Success:       true,
		CurrentBranch: h.branches.CurrentBranch(projectID),
	})
}

// FormatBranch handles GET /api/projects/{projectID}/branches/format
//
// Utility endpoint for UIs that want display names for branch refs.
func (h *ProjectHandler) FormatBranch(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if err := middleware.ValidateBranchName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := map[string]any{
		"name":           name,
		"display":        branchname.Format(name),
		"type":           branchname.Type(name),
		"auto_generated": branchname.IsAutoGenerated(name),
	}
	if ts, err := branchname.ParseTimestamp(name); err == nil {
		resp["timestamp"] = ts.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}
