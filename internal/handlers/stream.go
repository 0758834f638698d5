package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fitpulse/pulse/internal/access"
	"github.com/fitpulse/pulse/internal/api/middleware"
)

const keepAliveInterval = 15 * time.Second

// StreamMessages pushes new conversation messages as server-sent events.
// It carries the same events a poller would see through the message feed;
// clients that cannot hold a connection keep polling ListMessages.
func (h *Handler) StreamMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.CallerID(ctx)
	conversationID := chi.URLParam(r, "id")

	if !h.gate.Authorize(ctx, callerID, conversationID, access.Read) {
		h.Error(w, http.StatusForbidden, "not allowed to read this conversation")
		return
	}

	events, err := h.messages.Watch(ctx, conversationID, h.streamInterval)
	if err != nil {
		h.StoreError(w, err, "failed to open message stream")
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn().Err(err).Msg("response does not support streaming")
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn().Err(err).Str("message_id", ev.MessageID).Msg("skipping unencodable stream event")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", ev.MessageID, data); err != nil {
				return
			}
		}

		if err := rc.Flush(); err != nil {
			return
		}
	}
}
