package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the fan-out layer. Overridable through the environment.
const (
	DefaultFeedCap            = 50
	DefaultCacheCap           = 100
	DefaultPresenceTTL        = 5 * time.Second
	DefaultHistoryRetention   = 30 * 24 * time.Hour
	DefaultStreamPollInterval = 2 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Fan-out tuning
	FeedCap            int
	CacheCap           int
	PresenceTTL        time.Duration
	HistoryRetention   time.Duration
	StreamPollInterval time.Duration

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations

	// Warnings collects values that were rejected and replaced by defaults.
	// The caller logs them once a logger exists.
	Warnings []string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it returns an error on missing required variables.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       os.Getenv("SQLITE_PATH"),
		RedisURL:         os.Getenv("REDIS_URL"),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	cfg.FeedCap = cfg.positiveInt("FEED_CAP", DefaultFeedCap)
	cfg.CacheCap = cfg.positiveInt("CACHE_CAP", DefaultCacheCap)
	cfg.PresenceTTL = cfg.positiveDuration("PRESENCE_TTL", DefaultPresenceTTL)
	cfg.HistoryRetention = cfg.positiveDuration("HISTORY_RETENTION", DefaultHistoryRetention)
	cfg.StreamPollInterval = cfg.positiveDuration("STREAM_POLL_INTERVAL", DefaultStreamPollInterval)

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require database and redis URLs
	if cfg.IsProduction() {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required in production")
		}
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) positiveInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a positive integer, using %d", key, raw, def))
		return def
	}
	return n
}

// positiveDuration accepts Go duration syntax ("5s", "720h") or a bare
// number of seconds.
func (c *Config) positiveDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, serr := strconv.Atoi(raw)
		if serr != nil {
			c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a duration, using %s", key, raw, def))
			return def
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q must be positive, using %s", key, raw, def))
		return def
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
