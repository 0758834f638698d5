package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("FEED_CAP", "")
	t.Setenv("CACHE_CAP", "")
	t.Setenv("PRESENCE_TTL", "")
	t.Setenv("HISTORY_RETENTION", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultFeedCap, cfg.FeedCap)
	assert.Equal(t, DefaultCacheCap, cfg.CacheCap)
	assert.Equal(t, DefaultPresenceTTL, cfg.PresenceTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.HistoryRetention)
	assert.Empty(t, cfg.Warnings)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("FEED_CAP", "10")
	t.Setenv("CACHE_CAP", "25")
	t.Setenv("PRESENCE_TTL", "3")
	t.Setenv("HISTORY_RETENTION", "168h")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.1 , 192.168.0.0/16,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.FeedCap)
	assert.Equal(t, 25, cfg.CacheCap)
	assert.Equal(t, 3*time.Second, cfg.PresenceTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.HistoryRetention)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.RateLimitWhitelist)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("FEED_CAP", "-4")
	t.Setenv("CACHE_CAP", "lots")
	t.Setenv("PRESENCE_TTL", "0s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultFeedCap, cfg.FeedCap)
	assert.Equal(t, DefaultCacheCap, cfg.CacheCap)
	assert.Equal(t, DefaultPresenceTTL, cfg.PresenceTTL)
	assert.Len(t, cfg.Warnings, 3)
}

func TestLoadProductionRequiresStores(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/fitpulse")
	t.Setenv("REDIS_URL", "")
	_, err = Load()
	assert.ErrorContains(t, err, "REDIS_URL")
}
