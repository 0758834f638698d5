package history

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitpulse/pulse/internal/models"
	"github.com/fitpulse/pulse/internal/store"
)

func newTestSeries(t *testing.T, now time.Time) (*Series, *store.RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	kv := store.NewRedisStoreFromClient(client)
	s := NewSeries(kv, "water", DefaultRetention, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s, kv
}

func TestReadHistoryDedupsAndSorts(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestSeries(t, time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC))

	require.NoError(t, s.Record(ctx, "u1", "2024-01-02", 3))
	require.NoError(t, s.Record(ctx, "u1", "2024-01-01", 5))
	require.NoError(t, s.Record(ctx, "u1", "2024-01-02", 7))
	require.NoError(t, kv.SortedInsertPrune(ctx, s.key("u1"), 0, "not-a-date:2", 0, 0))

	got, err := s.ReadHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []models.HistoryPoint{
		{Day: "2024-01-01", Value: 5},
		{Day: "2024-01-02", Value: 7},
	}, got)
}

func TestMergeLegacyMembers(t *testing.T) {
	points, skipped := Merge([]string{
		"2024-01-02:3",
		"2024-01-01:5",
		"2024-01-02:7",
		"not-a-date:2",
	})

	assert.Equal(t, 1, skipped)
	assert.Equal(t, []models.HistoryPoint{
		{Day: "2024-01-01", Value: 5},
		{Day: "2024-01-02", Value: 7},
	}, points)
}

func TestMergePrefersWriteIDOverOrder(t *testing.T) {
	points, skipped := Merge([]string{
		"2024-01-02:9:01HZZZZZZZZZZZZZZZZZZZZZZZ",
		"2024-01-02:4:01HAAAAAAAAAAAAAAAAAAAAAAA",
		"2024-01-02:1",
	})

	assert.Zero(t, skipped)
	assert.Equal(t, []models.HistoryPoint{{Day: "2024-01-02", Value: 9}}, points)
}

func TestMergeRejectsInvalidEntries(t *testing.T) {
	points, skipped := Merge([]string{
		"2024-13-01:1",
		"2024-02-30:1",
		"2024-1-05:1",
		"2024-01-05:-1",
		"2024-01-05:NaN",
		"2024-01-05:+Inf",
		"2024-01-05:abc",
		"2024-01-05",
		"2024-01-05:1:not-a-ulid",
		"2024-01-06:0",
	})

	assert.Equal(t, 9, skipped)
	assert.Equal(t, []models.HistoryPoint{{Day: "2024-01-06", Value: 0}}, points)
}

func TestRecordPrunesOutsideRetention(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSeries(t, time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC))

	require.NoError(t, s.Record(ctx, "u1", "2024-01-01", 500))
	require.NoError(t, s.Record(ctx, "u1", "2024-01-16", 750))

	s.now = func() time.Time { return time.Date(2024, 2, 15, 8, 0, 0, 0, time.UTC) }
	require.NoError(t, s.Record(ctx, "u1", "2024-02-15", 1000))

	got, err := s.ReadHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []models.HistoryPoint{
		{Day: "2024-01-16", Value: 750},
		{Day: "2024-02-15", Value: 1000},
	}, got)
}

func TestRecordValidates(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSeries(t, time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC))

	assert.ErrorIs(t, s.Record(ctx, "u1", "01/05/2024", 1), ErrInvalidPoint)
	assert.ErrorIs(t, s.Record(ctx, "u1", "2024-02-31", 1), ErrInvalidPoint)
	assert.ErrorIs(t, s.Record(ctx, "u1", "2024-01-05", -2), ErrInvalidPoint)
	assert.ErrorIs(t, s.Record(ctx, "u1", "2024-01-05", math.Inf(1)), ErrInvalidPoint)

	got, err := s.ReadHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSubjectsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSeries(t, time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC))

	require.NoError(t, s.Record(ctx, "u1", "2024-01-05", 1))

	got, err := s.ReadHistory(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, got)
}
