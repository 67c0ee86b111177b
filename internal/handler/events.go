package handler

import (
	"context"
	"net/http"

	"studydesk/internal/handler/sse"
	"studydesk/internal/httputil"
	"studydesk/internal/metrics"
)

// StreamEvents streams the owner's tree change events over SSE. The first
// event is the current status; every later one tells the client to re-read.
// GET /api/tree/events
func (h *TreeHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	events, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	stream, err := sse.NewWriter(w, h.sse)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ownerID := httputil.GetOwnerID(r)
	h.logger.Info("SSE connection opened", "owner_id", ownerID)
	metrics.SSEConnectionOpened()
	defer func() {
		metrics.SSEConnectionClosed()
		h.logger.Info("SSE connection closed", "owner_id", ownerID)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stopped := sse.KeepAlive(ctx, h.sse.KeepAliveInterval, stream, h.logger)

	if err := stream.WriteEvent("status", ctrl.Status()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopped:
			return
		case ev, open := <-events:
			if !open {
				// Session closed
				return
			}
			if err := stream.WriteEvent(string(ev.Type), ev); err != nil {
				h.logger.Debug("SSE write failed", "owner_id", ownerID, "error", err)
				return
			}
			metrics.RecordSSEEvent(string(ev.Type))
		}
	}
}
