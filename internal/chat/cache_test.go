package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitpulse/pulse/internal/feed"
	"github.com/fitpulse/pulse/internal/models"
	"github.com/fitpulse/pulse/internal/store"
)

type testEnv struct {
	cache  *Cache
	events *feed.Feed[feed.MessageEvent]
	kv     *store.RedisStore
}

func newTestCache(t *testing.T, capacity int) testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	kv := store.NewRedisStoreFromClient(client)
	events := feed.New[feed.MessageEvent](feed.NewLog(kv, 50, zerolog.Nop()), "chat")
	return testEnv{
		cache:  NewCache(kv, events, capacity, zerolog.Nop()),
		events: events,
		kv:     kv,
	}
}

func message(id, sender, content string, at time.Time) models.Message {
	return models.Message{ID: id, SenderID: sender, Content: content, CreatedAt: at}
}

func contents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestReadRecentIsChronological(t *testing.T) {
	ctx := context.Background()
	env := newTestCache(t, 100)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, env.cache.RecordMessage(ctx, "c1", message("01A", "s1", "m1", base)))
	require.NoError(t, env.cache.RecordMessage(ctx, "c1", message("01B", "i1", "m2", base.Add(time.Second))))
	require.NoError(t, env.cache.RecordMessage(ctx, "c1", message("01C", "s1", "m3", base.Add(2*time.Second))))

	got, err := env.cache.ReadRecent(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, contents(got))
	assert.Equal(t, "c1", got[0].ConversationID)
	assert.Equal(t, "01A", got[0].ID)
	assert.True(t, got[2].CreatedAt.Equal(base.Add(2*time.Second)))

	last, err := env.cache.ReadRecent(ctx, "c1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, contents(last))
}

func TestCacheCapKeepsNewest(t *testing.T) {
	ctx := context.Background()
	env := newTestCache(t, 3)
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		msg := message(fmt.Sprintf("id%d", i), "s1", fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, env.cache.RecordMessage(ctx, "c1", msg))
	}

	got, err := env.cache.ReadRecent(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3", "m4"}, contents(got))
}

func TestMissReturnsEmpty(t *testing.T) {
	env := newTestCache(t, 10)

	got, err := env.cache.ReadRecent(context.Background(), "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecordMessageFansOut(t *testing.T) {
	ctx := context.Background()
	env := newTestCache(t, 10)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, env.cache.RecordMessage(ctx, "c1", message("01A", "s1", "hello", at)))

	events, err := env.events.Peek(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "c1", events[0].ConversationID)
	assert.Equal(t, "01A", events[0].MessageID)
	assert.Equal(t, "s1", events[0].SenderID)
	assert.Equal(t, "hello", events[0].Content)
}

func TestInvalidateAndRepopulate(t *testing.T) {
	ctx := context.Background()
	env := newTestCache(t, 2)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, env.cache.RecordMessage(ctx, "c1", message("01A", "s1", "stale", base)))
	require.NoError(t, env.cache.Invalidate(ctx, "c1"))

	got, err := env.cache.ReadRecent(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	durable := []models.Message{
		message("01B", "s1", "a", base.Add(time.Second)),
		message("01C", "i1", "b", base.Add(2*time.Second)),
		message("01D", "s1", "c", base.Add(3*time.Second)),
	}
	require.NoError(t, env.cache.Repopulate(ctx, "c1", durable))

	got, err = env.cache.ReadRecent(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, contents(got))
}

func TestReadRecentSkipsUndecodable(t *testing.T) {
	ctx := context.Background()
	env := newTestCache(t, 10)

	require.NoError(t, env.cache.RecordMessage(ctx, "c1", message("01A", "s1", "ok", time.Now())))
	require.NoError(t, env.kv.PushTrim(ctx, messagesKey("c1"), []byte("garbage"), 10))

	got, err := env.cache.ReadRecent(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, contents(got))
}

func TestRepopulateKeepsConcurrentSends(t *testing.T) {
	ctx := context.Background()
	env := newTestCache(t, 10)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	m1 := message("01A", "s1", "m1", base)
	m2 := message("01B", "i1", "m2", base.Add(time.Second))
	m3 := message("01C", "s1", "m3", base.Add(2*time.Second))

	// The refill read the durable store before m2 was sent and cached
	require.NoError(t, env.cache.RecordMessage(ctx, "c1", m2))
	require.NoError(t, env.cache.Repopulate(ctx, "c1", []models.Message{m1}))
	require.NoError(t, env.cache.RecordMessage(ctx, "c1", m3))

	got, err := env.cache.ReadRecent(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, contents(got))
}

func TestRepopulateThenLateSendHasNoDuplicates(t *testing.T) {
	ctx := context.Background()
	env := newTestCache(t, 10)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	m1 := message("01A", "s1", "m1", base)
	m2 := message("01B", "i1", "m2", base.Add(time.Second))

	// The refill already saw m2 in the durable store; its sender caches it after
	require.NoError(t, env.cache.Repopulate(ctx, "c1", []models.Message{m1, m2}))
	require.NoError(t, env.cache.RecordMessage(ctx, "c1", m2))

	got, err := env.cache.ReadRecent(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, contents(got))
}

func TestRepopulatePrefersDurableRow(t *testing.T) {
	ctx := context.Background()
	env := newTestCache(t, 10)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, env.cache.RecordMessage(ctx, "c1", message("01A", "s1", "draft", at)))
	require.NoError(t, env.cache.Repopulate(ctx, "c1", []models.Message{message("01A", "s1", "edited", at)}))

	got, err := env.cache.ReadRecent(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"edited"}, contents(got))
}
