package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/middleware"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/internal/service"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
	"github.com/forgechat/checkpoint-platform/pkg/metrics"
)

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	messageService      *service.MessageService
	conversationService *service.ConversationService
	logger              *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(
	msgSvc *service.MessageService,
	convSvc *service.ConversationService,
	log *logger.Logger,
) *StreamHandler {
	return &StreamHandler{
		messageService:      msgSvc,
		conversationService: convSvc,
		logger:              log,
	}
}

// ReplayCompleteEvent represents the completion of message replay.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	MessageCount int    `json:"message_count"`
}

// Stream handles GET /api/projects/{projectID}/conversations/{id}/stream
// Supports ?after_sequence=N for resuming from a specific point.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.conversationService.Get(ctx, projectID, conversationID); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		if seq, err := strconv.ParseUint(seqStr, 10, 64); err == nil {
			afterSequence = seq
		}
	}

	flusher, ok := setupSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	done := ctx.Done()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	// Replay messages past the client's cursor.
	var lastSequence uint64
	var totalReplayed int

	for {
		resp, err := h.messageService.GetMessages(ctx, projectID, conversationID, afterSequence, 50)
		if err != nil {
			h.logger.Error("failed to replay messages",
				zap.String("conversation_id", conversationID), zap.Error(err))
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "replay_error",
				Message: "Failed to replay messages",
			})
			break
		}

		for _, msg := range resp.Messages {
			select {
			case <-done:
				return
			default:
			}

			sendSSEEvent(w, flusher, "message", msg)
			lastSequence = msg.Sequence
			totalReplayed++
		}

		if resp.HasMore {
			afterSequence = lastSequence
		} else {
			break
		}
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSequence: lastSequence,
		MessageCount: totalReplayed,
	})

	h.logger.Info("message replay complete",
		zap.String("conversation_id", conversationID),
		zap.Int("messages_replayed", totalReplayed),
		zap.Uint64("last_sequence", lastSequence),
	)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			h.logger.Info("SSE client disconnected",
				zap.String("conversation_id", conversationID))
			return

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

// StreamWithMessage handles POST /api/projects/{projectID}/conversations/{id}/stream
// This endpoint accepts a message and streams the response.
func (h *StreamHandler) StreamWithMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.conversationService.Get(ctx, projectID, conversationID); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := setupSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	userMsg, assistantMsg, err := h.messageService.SendWithStream(
		ctx,
		projectID,
		conversationID,
		&req,
		func(token string, index int) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			return sendSSEEvent(w, flusher, "token", &model.TokenEvent{
				Token: token,
				Index: index,
			})
		},
	)

	if err != nil {
		sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
			Code:    "stream_error",
			Message: err.Error(),
		})
		return
	}

	sendSSEEvent(w, flusher, "user_message", userMsg)

	if assistantMsg != nil {
		sendSSEEvent(w, flusher, "message_complete", &model.MessageCompleteEvent{
			Message:  *assistantMsg,
			Sequence: assistantMsg.Sequence,
		})
	}

	sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
}

// setupSSE sets the response headers for an event stream.
func setupSSE(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	return flusher, ok
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
