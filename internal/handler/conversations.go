package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/middleware"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/internal/service"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
)

// RevertRequest is the request body for reverting a conversation.
type RevertRequest struct {
	CommitHash string `json:"commit_hash"`
}

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	reverts *service.RevertOrchestrator
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, reverts *service.RevertOrchestrator, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		reverts: reverts,
		logger:  log,
	}
}

// Create handles POST /api/projects/{projectID}/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	if err := middleware.ValidateProjectID(projectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Create(ctx, projectID, &req)
	if err != nil {
		h.logger.Error("failed to create conversation",
			zap.String("project_id", projectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/projects/{projectID}/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	if err := middleware.ValidateProjectID(projectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	resp, err := h.service.List(ctx, projectID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list conversations",
			zap.String("project_id", projectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/projects/{projectID}/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Get(ctx, projectID, conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Update handles PUT /api/projects/{projectID}/conversations/{id}
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Title != "" {
		if err := middleware.ValidateTitle(req.Title); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	conv, err := h.service.Update(ctx, projectID, conversationID, &req)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/projects/{projectID}/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Delete(ctx, projectID, conversationID); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Revert handles POST /api/projects/{projectID}/conversations/{id}/revert
func (h *ConversationHandler) Revert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req RevertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CommitHash == "" {
		writeError(w, http.StatusBadRequest, "commit_hash is required")
		return
	}

	if err := h.reverts.Revert(ctx, projectID, conversationID, req.CommitHash); err != nil {
		h.logger.Error("revert failed",
			zap.String("conversation_id", conversationID),
			zap.String("commit", req.CommitHash),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "revert failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "reverted",
		"commit": req.CommitHash,
	})
}
