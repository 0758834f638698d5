package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/fitpulse/pulse/internal/access"
	"github.com/fitpulse/pulse/internal/chat"
	"github.com/fitpulse/pulse/internal/config"
	"github.com/fitpulse/pulse/internal/feed"
	"github.com/fitpulse/pulse/internal/history"
	"github.com/fitpulse/pulse/internal/presence"
	"github.com/fitpulse/pulse/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// retryAfterSeconds is sent with 503 responses for transient store failures.
	retryAfterSeconds = "1"

	// refillTimeout bounds a shared cache-miss read of the durable store.
	refillTimeout = 5 * time.Second
)

// Feed namespaces. Topics are "<namespace>:<id>".
const (
	namespaceChat          = "chat"
	namespaceTyping        = "typing"
	namespaceNotifications = "notifications"
	namespaceWater         = "water"
	namespaceWorkouts      = "workouts"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db     store.DataStore
	kv     *store.RedisStore
	gate   *access.Gate
	cache  *chat.Cache
	typing *presence.Tracker

	messages      *feed.Feed[feed.MessageEvent]
	notifications *feed.Feed[feed.NotificationEvent]
	water         *feed.Feed[feed.WaterEvent]
	workouts      *feed.Feed[feed.WorkoutEvent]

	waterHistory   *history.Series
	workoutHistory *history.Series

	// refill collapses concurrent cache-miss fallbacks per conversation
	refill singleflight.Group

	validate       *validator.Validate
	streamInterval time.Duration
	logger         zerolog.Logger
}

// NewHandler wires the fan-out components over the given stores.
func NewHandler(cfg *config.Config, db store.DataStore, kv *store.RedisStore, logger zerolog.Logger) *Handler {
	log := feed.NewLog(kv, cfg.FeedCap, logger)
	messages := feed.New[feed.MessageEvent](log, namespaceChat)

	return &Handler{
		db:             db,
		kv:             kv,
		gate:           access.NewGate(db, logger),
		cache:          chat.NewCache(kv, messages, cfg.CacheCap, logger),
		typing:         presence.NewTracker(kv, feed.New[feed.TypingEvent](log, namespaceTyping), cfg.PresenceTTL, logger),
		messages:       messages,
		notifications:  feed.New[feed.NotificationEvent](log, namespaceNotifications),
		water:          feed.New[feed.WaterEvent](log, namespaceWater),
		workouts:       feed.New[feed.WorkoutEvent](log, namespaceWorkouts),
		waterHistory:   history.NewSeries(kv, "water", cfg.HistoryRetention, logger),
		workoutHistory: history.NewSeries(kv, "workout_minutes", cfg.HistoryRetention, logger),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		streamInterval: cfg.StreamPollInterval,
		logger:         logger.With().Str("component", "handlers").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// StoreError maps a store failure to a response. Transient failures become
// 503 with Retry-After so pollers back off and retry.
func (h *Handler) StoreError(w http.ResponseWriter, err error, message string) {
	if store.IsRetryable(err) {
		w.Header().Set("Retry-After", retryAfterSeconds)
		h.Error(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	h.logger.Error().Err(err).Msg(message)
	h.Error(w, http.StatusInternalServerError, message)
}

// decodeBody decodes and validates a JSON request body into dst. On failure
// it writes the response and returns false.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			h.Error(w, http.StatusUnprocessableEntity, validationMessage(verrs[0]))
			return false
		}
		h.Error(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " must be at most " + fe.Param()
	case "min", "gte":
		return field + " must be at least " + fe.Param()
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "datetime":
		return field + " must be a YYYY-MM-DD date"
	}
	return field + " is invalid"
}

// queryLimit reads ?limit=, clamped to [1, maxPageSize].
func queryLimit(r *http.Request) int {
	limit := defaultPageSize
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}

// sanitizeText trims text and strips control characters other than newlines.
func sanitizeText(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r != '\n' && unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// preview shortens s to at most n runes for notification bodies.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
