package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fitpulse/pulse/internal/access"
	"github.com/fitpulse/pulse/internal/api/middleware"
	"github.com/fitpulse/pulse/internal/feed"
	"github.com/fitpulse/pulse/internal/history"
	"github.com/fitpulse/pulse/internal/models"
)

// LogWaterRequest sets the user's water total for a day.
type LogWaterRequest struct {
	Day     string   `json:"day" validate:"required,datetime=2006-01-02"`
	TotalML *float64 `json:"total_ml" validate:"required,gte=0,lte=20000"`
}

// WorkoutRequest reports a workout session transition. A completed session
// carries the day's total workout minutes.
type WorkoutRequest struct {
	SessionID  string   `json:"session_id" validate:"required,max=64"`
	Status     string   `json:"status" validate:"required,oneof=started paused completed cancelled"`
	Day        string   `json:"day" validate:"omitempty,datetime=2006-01-02"`
	DayMinutes *float64 `json:"day_minutes" validate:"omitempty,gte=0,lte=1440"`
}

// HistoryResponse represents a user's daily series.
type HistoryResponse struct {
	UserID string                `json:"user_id"`
	Series string                `json:"series"`
	Points []models.HistoryPoint `json:"points"`
}

// WaterUpdatesResponse represents recent water changes, newest first.
type WaterUpdatesResponse struct {
	Updates []feed.WaterEvent `json:"updates"`
}

// WorkoutUpdatesResponse represents recent workout changes, newest first.
type WorkoutUpdatesResponse struct {
	Updates []feed.WorkoutEvent `json:"updates"`
}

// LogWater records the day's water total and announces it.
func (h *Handler) LogWater(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.CallerID(ctx)
	userID := chi.URLParam(r, "id")

	if !h.gate.AuthorizeSubject(ctx, callerID, userID, access.Write) {
		h.Error(w, http.StatusForbidden, "not allowed to log water for this user")
		return
	}

	var req LogWaterRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if !h.recordPoint(ctx, w, h.waterHistory, userID, req.Day, *req.TotalML) {
		return
	}

	ev := feed.WaterEvent{
		UserID:   userID,
		Day:      req.Day,
		TotalML:  *req.TotalML,
		LoggedAt: time.Now().UTC(),
	}
	if err := h.water.Append(ctx, userID, ev); err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("water update fan-out failed")
	}

	h.JSON(w, http.StatusCreated, models.HistoryPoint{Day: req.Day, Value: *req.TotalML})
}

// WaterHistory returns the user's daily water totals, oldest first.
func (h *Handler) WaterHistory(w http.ResponseWriter, r *http.Request) {
	h.readHistory(w, r, h.waterHistory)
}

// WaterUpdates returns recent water changes.
func (h *Handler) WaterUpdates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")

	if !h.gate.AuthorizeSubject(ctx, middleware.CallerID(ctx), userID, access.Read) {
		h.Error(w, http.StatusForbidden, "not allowed to read this user's activity")
		return
	}

	updates, err := h.water.Peek(ctx, userID, queryLimit(r))
	if err != nil {
		h.StoreError(w, err, "failed to read water updates")
		return
	}
	h.JSON(w, http.StatusOK, WaterUpdatesResponse{Updates: updates})
}

// LogWorkout announces a session transition and, for completed sessions,
// records the day's workout minutes.
func (h *Handler) LogWorkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.CallerID(ctx)
	userID := chi.URLParam(r, "id")

	if !h.gate.AuthorizeSubject(ctx, callerID, userID, access.Write) {
		h.Error(w, http.StatusForbidden, "not allowed to log workouts for this user")
		return
	}

	var req WorkoutRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	ev := feed.WorkoutEvent{
		UserID:    userID,
		SessionID: req.SessionID,
		Status:    req.Status,
		Day:       req.Day,
		UpdatedAt: time.Now().UTC(),
	}

	if req.Status == "completed" {
		if req.Day == "" || req.DayMinutes == nil {
			h.Error(w, http.StatusUnprocessableEntity, "completed sessions require day and day_minutes")
			return
		}
		if !h.recordPoint(ctx, w, h.workoutHistory, userID, req.Day, *req.DayMinutes) {
			return
		}
		ev.Minutes = *req.DayMinutes
	}

	if err := h.workouts.Append(ctx, userID, ev); err != nil {
		h.StoreError(w, err, "failed to record workout update")
		return
	}

	h.JSON(w, http.StatusCreated, ev)
}

// WorkoutHistory returns the user's daily workout minutes, oldest first.
func (h *Handler) WorkoutHistory(w http.ResponseWriter, r *http.Request) {
	h.readHistory(w, r, h.workoutHistory)
}

// WorkoutUpdates returns recent workout session changes.
func (h *Handler) WorkoutUpdates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")

	if !h.gate.AuthorizeSubject(ctx, middleware.CallerID(ctx), userID, access.Read) {
		h.Error(w, http.StatusForbidden, "not allowed to read this user's activity")
		return
	}

	updates, err := h.workouts.Peek(ctx, userID, queryLimit(r))
	if err != nil {
		h.StoreError(w, err, "failed to read workout updates")
		return
	}
	h.JSON(w, http.StatusOK, WorkoutUpdatesResponse{Updates: updates})
}

func (h *Handler) recordPoint(ctx context.Context, w http.ResponseWriter, series *history.Series, userID, day string, value float64) bool {
	err := series.Record(ctx, userID, day, value)
	if errors.Is(err, history.ErrInvalidPoint) {
		h.Error(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	if err != nil {
		h.StoreError(w, err, "failed to record "+series.Name())
		return false
	}
	return true
}

func (h *Handler) readHistory(w http.ResponseWriter, r *http.Request, series *history.Series) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")

	if !h.gate.AuthorizeSubject(ctx, middleware.CallerID(ctx), userID, access.Read) {
		h.Error(w, http.StatusForbidden, "not allowed to read this user's activity")
		return
	}

	points, err := series.ReadHistory(ctx, userID)
	if err != nil {
		h.StoreError(w, err, "failed to read "+series.Name()+" history")
		return
	}

	h.JSON(w, http.StatusOK, HistoryResponse{UserID: userID, Series: series.Name(), Points: points})
}
