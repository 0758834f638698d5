package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitpulse_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitpulse_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Fan-out metrics
	FeedAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitpulse_feed_appends_total",
			Help: "Events appended to bounded feeds",
		},
		[]string{"kind"},
	)

	FeedEncodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitpulse_feed_encode_failures_total",
			Help: "Events dropped because they could not be serialized",
		},
		[]string{"kind"},
	)

	FeedDecodeSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fitpulse_feed_decode_skipped_total",
			Help: "Stored feed entries skipped on read because they could not be decoded",
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitpulse_message_cache_lookups_total",
			Help: "Message cache reads",
		},
		[]string{"result"}, // "hit" or "miss"
	)

	PresenceUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitpulse_presence_updates_total",
			Help: "Typing signal writes",
		},
		[]string{"state"}, // "start" or "stop"
	)

	HistoryMalformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitpulse_history_malformed_total",
			Help: "Stored history points skipped during merge",
		},
		[]string{"series"},
	)

	AccessDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitpulse_access_denied_total",
			Help: "Access gate denials",
		},
		[]string{"reason"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitpulse_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitpulse_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitpulse_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
		[]string{"command"},
	)

	DatabaseLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fitpulse_database_latency_seconds",
			Help:    "Relational query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
