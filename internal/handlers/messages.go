package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/fitpulse/pulse/internal/access"
	"github.com/fitpulse/pulse/internal/api/middleware"
	"github.com/fitpulse/pulse/internal/feed"
	"github.com/fitpulse/pulse/internal/models"
)

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// MessageListResponse represents the list messages response.
type MessageListResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
	Source         string           `json:"source"` // "cache" or "store"
}

// SendMessage persists a message, caches it and notifies the other party.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.CallerID(ctx)
	conversationID := chi.URLParam(r, "id")

	rel, ok := h.gate.Resolve(ctx, callerID, conversationID, access.Write)
	if !ok {
		h.Error(w, http.StatusForbidden, "not allowed to write to this conversation")
		return
	}

	var req SendMessageRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	content := sanitizeText(req.Content)
	if content == "" {
		h.Error(w, http.StatusUnprocessableEntity, "content is required")
		return
	}

	msg := models.Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		SenderID:       callerID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.db.InsertMessage(ctx, &msg); err != nil {
		h.StoreError(w, err, "failed to store message")
		return
	}

	// The durable write succeeded; cache and fan-out failures only cost
	// locality, but a partially written cache must not be served.
	if err := h.cache.RecordMessage(ctx, conversationID, msg); err != nil {
		h.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("message cache update failed")
		if err := h.cache.Invalidate(ctx, conversationID); err != nil {
			h.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("message cache invalidation failed")
		}
	}

	if recipient := rel.Counterpart(callerID); recipient != "" {
		err := h.notifications.Append(ctx, recipient, feed.NotificationEvent{
			UserID:    recipient,
			Category:  "message",
			Title:     "New message",
			Body:      preview(content, 120),
			Link:      "/conversations/" + conversationID,
			CreatedAt: msg.CreatedAt,
		})
		if err != nil {
			h.logger.Warn().Err(err).Str("user_id", recipient).Msg("message notification failed")
		}
	}

	h.JSON(w, http.StatusCreated, msg)
}

// ListMessages returns the most recent messages, oldest first. A cache miss
// falls back to the durable store and refills the cache.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.CallerID(ctx)
	conversationID := chi.URLParam(r, "id")

	if !h.gate.Authorize(ctx, callerID, conversationID, access.Read) {
		h.Error(w, http.StatusForbidden, "not allowed to read this conversation")
		return
	}

	limit := queryLimit(r)

	cached, err := h.cache.ReadRecent(ctx, conversationID, limit)
	if err != nil {
		h.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("message cache read failed")
	} else if len(cached) > 0 {
		h.JSON(w, http.StatusOK, MessageListResponse{
			ConversationID: conversationID,
			Messages:       cached,
			Source:         "cache",
		})
		return
	}

	// Refill with as much history as the cache holds, then trim the response
	messages, err := h.refillMessages(ctx, conversationID)
	if err != nil {
		h.StoreError(w, err, "failed to fetch messages")
		return
	}

	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, MessageListResponse{
		ConversationID: conversationID,
		Messages:       messages,
		Source:         "store",
	})
}

// refillMessages reads the newest durable messages and merges them into the
// cache. Concurrent misses on one conversation share a single read, which runs
// detached from the caller so one cancelled poll cannot fail the others.
func (h *Handler) refillMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	v, err, _ := h.refill.Do(conversationID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refillTimeout)
		defer cancel()

		msgs, err := h.db.ListMessages(ctx, conversationID, h.cache.Capacity())
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			if err := h.cache.Repopulate(ctx, conversationID, msgs); err != nil {
				h.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("message cache refill failed")
			}
		}
		return msgs, nil
	})
	if err != nil {
		return nil, err
	}
	msgs, _ := v.([]models.Message)
	return msgs, nil
}
