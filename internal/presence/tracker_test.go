package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitpulse/pulse/internal/feed"
	"github.com/fitpulse/pulse/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis, *store.RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	kv := store.NewRedisStoreFromClient(client)
	events := feed.New[feed.TypingEvent](feed.NewLog(kv, 50, zerolog.Nop()), "typing")
	return NewTracker(kv, events, 5*time.Second, zerolog.Nop()), mr, kv
}

func TestTypingExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	tr, mr, _ := newTestTracker(t)

	require.NoError(t, tr.SetTyping(ctx, "c1", "u1", true))

	sig, err := tr.GetActiveTyper(ctx, "c1", "u2")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "u1", sig.ActorID)
	assert.True(t, sig.IsTyping)

	mr.FastForward(6 * time.Second)

	sig, err = tr.GetActiveTyper(ctx, "c1", "u2")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestExplicitStopClearsImmediately(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t)

	require.NoError(t, tr.SetTyping(ctx, "c1", "u1", true))
	require.NoError(t, tr.SetTyping(ctx, "c1", "u1", false))

	sig, err := tr.GetActiveTyper(ctx, "c1", "u2")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestGetActiveTyperExcludesCaller(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t)

	require.NoError(t, tr.SetTyping(ctx, "c1", "u1", true))

	sig, err := tr.GetActiveTyper(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.Nil(t, sig)

	require.NoError(t, tr.SetTyping(ctx, "c1", "u2", true))
	sig, err = tr.GetActiveTyper(ctx, "c1", "u1")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "u2", sig.ActorID)
}

func TestGetActiveTyperIgnoresOtherTopics(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t)

	require.NoError(t, tr.SetTyping(ctx, "c10", "u1", true))
	require.NoError(t, tr.SetTyping(ctx, "c1:sub", "u1", true))

	sig, err := tr.GetActiveTyper(ctx, "c1", "u2")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestGetActiveTyperSkipsStaleAndMalformed(t *testing.T) {
	ctx := context.Background()
	tr, _, kv := newTestTracker(t)

	require.NoError(t, kv.SetWithTTL(ctx, signalKey("c1", "u3"), []byte("nope"), time.Minute))
	require.NoError(t, kv.SetAdd(ctx, actorsKey("c1"), "u3", time.Minute))

	// Written under a clock far in the past but still holding a key
	tr.now = func() time.Time { return time.Now().Add(-time.Hour) }
	require.NoError(t, tr.SetTyping(ctx, "c1", "u1", true))
	tr.now = time.Now

	sig, err := tr.GetActiveTyper(ctx, "c1", "u2")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestEveryTransitionIsRecorded(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t)

	require.NoError(t, tr.SetTyping(ctx, "c1", "u1", true))
	require.NoError(t, tr.SetTyping(ctx, "c1", "u1", false))
	require.NoError(t, tr.SetTyping(ctx, "c1", "u2", true))

	events, err := tr.RecentEvents(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "u2", events[0].ActorID)
	assert.True(t, events[0].IsTyping)
	assert.Equal(t, "u1", events[1].ActorID)
	assert.False(t, events[1].IsTyping)
	assert.Equal(t, "c1", events[2].Topic)
}

func TestExpiredActorsLeaveTheIndex(t *testing.T) {
	ctx := context.Background()
	tr, mr, kv := newTestTracker(t)

	require.NoError(t, tr.SetTyping(ctx, "c1", "u1", true))
	mr.FastForward(3 * time.Second)
	require.NoError(t, tr.SetTyping(ctx, "c1", "u2", true))
	mr.FastForward(3 * time.Second)

	// u1's signal has expired; u2's and the index have not
	sig, err := tr.GetActiveTyper(ctx, "c1", "u3")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "u2", sig.ActorID)

	members, err := kv.SetMembers(ctx, actorsKey("c1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, members)

	require.NoError(t, tr.SetTyping(ctx, "c1", "u2", false))
	members, err = kv.SetMembers(ctx, actorsKey("c1"))
	require.NoError(t, err)
	assert.Empty(t, members)
}
