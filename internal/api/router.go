package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fitpulse/pulse/internal/api/middleware"
	"github.com/fitpulse/pulse/internal/config"
	"github.com/fitpulse/pulse/internal/handlers"
	"github.com/fitpulse/pulse/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *config.Config, logger zerolog.Logger, db store.DataStore, kv *store.RedisStore) *chi.Mux {
	r := chi.NewRouter()

	// Metrics first so rejected requests are counted too
	r.Use(middleware.Metrics)

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.ValidateRequest)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	limiter := middleware.NewRateLimiter(kv.Client(), logger, middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	}, nil)
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.CallerHeader, "Last-Event-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(cfg, db, kv, logger)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Caller-scoped routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity)

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Post("/messages", h.SendMessage)
			r.Get("/messages", h.ListMessages)
			r.Get("/stream", h.StreamMessages)
			r.Get("/ws", h.ConversationSocket)
			r.Post("/typing", h.SetTyping)
			r.Get("/typing", h.GetTyping)
			r.Get("/typing/events", h.TypingEvents)
		})

		r.Route("/users/{id}", func(r chi.Router) {
			r.Post("/notifications", h.PostNotification)
			r.Get("/notifications", h.ListNotifications)
			r.Post("/water", h.LogWater)
			r.Get("/water", h.WaterHistory)
			r.Get("/water/updates", h.WaterUpdates)
			r.Post("/workouts", h.LogWorkout)
			r.Get("/workouts", h.WorkoutHistory)
			r.Get("/workouts/updates", h.WorkoutUpdates)
		})
	})

	return r
}
