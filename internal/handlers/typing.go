package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fitpulse/pulse/internal/access"
	"github.com/fitpulse/pulse/internal/api/middleware"
	"github.com/fitpulse/pulse/internal/feed"
	"github.com/fitpulse/pulse/internal/models"
)

// SetTypingRequest represents the typing update request body.
type SetTypingRequest struct {
	IsTyping *bool `json:"is_typing" validate:"required"`
}

// TypingResponse represents the active typer lookup response.
type TypingResponse struct {
	Typing *models.TypingSignal `json:"typing"` // null when nobody else is typing
}

// TypingEventsResponse represents recent typing transitions, newest first.
type TypingEventsResponse struct {
	Events []feed.TypingEvent `json:"events"`
}

// SetTyping starts or stops the caller's typing signal.
func (h *Handler) SetTyping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.CallerID(ctx)
	conversationID := chi.URLParam(r, "id")

	if !h.gate.Authorize(ctx, callerID, conversationID, access.Write) {
		h.Error(w, http.StatusForbidden, "not allowed to write to this conversation")
		return
	}

	var req SetTypingRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if err := h.typing.SetTyping(ctx, conversationID, callerID, *req.IsTyping); err != nil {
		h.StoreError(w, err, "failed to update typing state")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetTyping returns the other party's live typing signal, if any.
func (h *Handler) GetTyping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.CallerID(ctx)
	conversationID := chi.URLParam(r, "id")

	if !h.gate.Authorize(ctx, callerID, conversationID, access.Read) {
		h.Error(w, http.StatusForbidden, "not allowed to read this conversation")
		return
	}

	sig, err := h.typing.GetActiveTyper(ctx, conversationID, callerID)
	if err != nil {
		h.StoreError(w, err, "failed to read typing state")
		return
	}

	h.JSON(w, http.StatusOK, TypingResponse{Typing: sig})
}

// TypingEvents returns recent typing transitions on the conversation.
func (h *Handler) TypingEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.CallerID(ctx)
	conversationID := chi.URLParam(r, "id")

	if !h.gate.Authorize(ctx, callerID, conversationID, access.Read) {
		h.Error(w, http.StatusForbidden, "not allowed to read this conversation")
		return
	}

	events, err := h.typing.RecentEvents(ctx, conversationID, queryLimit(r))
	if err != nil {
		h.StoreError(w, err, "failed to read typing events")
		return
	}

	h.JSON(w, http.StatusOK, TypingEventsResponse{Events: events})
}
