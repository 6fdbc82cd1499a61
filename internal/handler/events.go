package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/events"
	"github.com/forgechat/checkpoint-platform/internal/model"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
	"github.com/forgechat/checkpoint-platform/pkg/metrics"
)

// EventsHandler streams process-wide sync events to clients over SSE so
// that every mounted view converges on the same branch and checkpoint
// state.
type EventsHandler struct {
	bus    *events.Bus
	logger *logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(bus *events.Bus, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		logger: log,
	}
}

// Events handles GET /api/events
// Supports ?project_id=X to filter events to a single project.
func (h *EventsHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectFilter := r.URL.Query().Get("project_id")

	flusher, ok := setupSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	ch, cancel := h.bus.Subscribe()
	defer cancel()

	sendSSEEvent(w, flusher, "connected", map[string]string{"stream": "sync"})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("sync event client disconnected")
			return

		case ev, open := <-ch:
			if !open {
				return
			}
			if projectFilter != "" && ev.ProjectID != projectFilter {
				continue
			}
			if err := sendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				h.logger.Warn("failed to send sync event", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}
