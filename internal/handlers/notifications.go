package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fitpulse/pulse/internal/access"
	"github.com/fitpulse/pulse/internal/api/middleware"
	"github.com/fitpulse/pulse/internal/feed"
)

// PostNotificationRequest represents a producer's notification.
type PostNotificationRequest struct {
	Category string `json:"category" validate:"required,oneof=message reminder workout water system"`
	Title    string `json:"title" validate:"required,max=120"`
	Body     string `json:"body" validate:"max=1000"`
	Link     string `json:"link" validate:"omitempty,max=500"`
}

// NotificationListResponse represents the notification peek response.
type NotificationListResponse struct {
	UserID        string                   `json:"user_id"`
	Notifications []feed.NotificationEvent `json:"notifications"`
}

// PostNotification appends a notification to the user's feed.
func (h *Handler) PostNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.CallerID(ctx)
	userID := chi.URLParam(r, "id")

	if !h.gate.AuthorizeSubject(ctx, callerID, userID, access.Notify) {
		h.Error(w, http.StatusForbidden, "not allowed to notify this user")
		return
	}

	var req PostNotificationRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	ev := feed.NotificationEvent{
		UserID:    userID,
		Category:  req.Category,
		Title:     sanitizeText(req.Title),
		Body:      sanitizeText(req.Body),
		Link:      req.Link,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.notifications.Append(ctx, userID, ev); err != nil {
		if errors.Is(err, feed.ErrEncode) {
			h.Error(w, http.StatusUnprocessableEntity, "notification could not be encoded")
			return
		}
		h.StoreError(w, err, "failed to store notification")
		return
	}

	h.JSON(w, http.StatusCreated, ev)
}

// ListNotifications returns the user's most recent notifications, newest
// first. Reading does not consume them.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.CallerID(ctx)
	userID := chi.URLParam(r, "id")

	if !h.gate.AuthorizeSubject(ctx, callerID, userID, access.Read) {
		h.Error(w, http.StatusForbidden, "not allowed to read this user's notifications")
		return
	}

	notes, err := h.notifications.Peek(ctx, userID, queryLimit(r))
	if err != nil {
		h.StoreError(w, err, "failed to read notifications")
		return
	}

	h.JSON(w, http.StatusOK, NotificationListResponse{UserID: userID, Notifications: notes})
}
