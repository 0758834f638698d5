// Package presence tracks short-lived "is typing" signals. A signal lives in
// its own key with a TTL, so a client that disappears without sending a stop
// can only leave a ghost for one TTL. Each topic also keeps a small set of
// the actors that have signalled, so reads cost one lookup per participant.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fitpulse/pulse/internal/feed"
	"github.com/fitpulse/pulse/internal/metrics"
	"github.com/fitpulse/pulse/internal/models"
)

// DefaultTTL is how long a typing signal stays live without a refresh.
const DefaultTTL = 5 * time.Second

// Store is the subset of the key-value store the tracker needs.
type Store interface {
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetMany(ctx context.Context, keys ...string) ([][]byte, error)
	Delete(ctx context.Context, keys ...string) error
	SetAdd(ctx context.Context, key, member string, ttl time.Duration) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetRemove(ctx context.Context, key string, members ...string) error
}

// Tracker reads and writes typing signals and records every transition on
// the topic's typing feed.
type Tracker struct {
	kv     Store
	events *feed.Feed[feed.TypingEvent]
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a tracker whose signals expire after ttl.
func NewTracker(kv Store, events *feed.Feed[feed.TypingEvent], ttl time.Duration, logger zerolog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		kv:     kv,
		events: events,
		ttl:    ttl,
		logger: logger.With().Str("component", "presence").Logger(),
		now:    time.Now,
	}
}

func signalKey(topic, actorID string) string {
	return "typing:" + topic + ":" + actorID
}

// actorsKey indexes the actors with a possibly live signal on topic.
func actorsKey(topic string) string {
	return "typing-actors:" + topic
}

// TTL returns the signal lifetime.
func (t *Tracker) TTL() time.Duration {
	return t.ttl
}

// SetTyping starts (overwriting any previous signal and TTL) or stops the
// actor's signal on topic. Stopping deletes the key immediately.
func (t *Tracker) SetTyping(ctx context.Context, topic, actorID string, isTyping bool) error {
	ts := t.now().UnixMilli()
	key := signalKey(topic, actorID)

	if isTyping {
		data, err := json.Marshal(models.TypingSignal{ActorID: actorID, IsTyping: true, Timestamp: ts})
		if err != nil {
			return fmt.Errorf("%w: typing signal: %v", feed.ErrEncode, err)
		}
		if err := t.kv.SetWithTTL(ctx, key, data, t.ttl); err != nil {
			return fmt.Errorf("set typing: %w", err)
		}
		// The index outlives every signal it lists
		if err := t.kv.SetAdd(ctx, actorsKey(topic), actorID, t.ttl); err != nil {
			return fmt.Errorf("index typing: %w", err)
		}
		metrics.PresenceUpdates.WithLabelValues("start").Inc()
	} else {
		if err := t.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear typing: %w", err)
		}
		if err := t.kv.SetRemove(ctx, actorsKey(topic), actorID); err != nil {
			return fmt.Errorf("unindex typing: %w", err)
		}
		metrics.PresenceUpdates.WithLabelValues("stop").Inc()
	}

	err := t.events.Append(ctx, topic, feed.TypingEvent{
		Topic:     topic,
		ActorID:   actorID,
		IsTyping:  isTyping,
		Timestamp: ts,
	})
	if err != nil {
		return fmt.Errorf("record typing event: %w", err)
	}

	return nil
}

// GetActiveTyper returns the first live typing signal on topic whose actor is
// not excludeActorID, or nil if nobody else is typing. Actors whose signal has
// expired are dropped from the topic index.
func (t *Tracker) GetActiveTyper(ctx context.Context, topic, excludeActorID string) (*models.TypingSignal, error) {
	indexed, err := t.kv.SetMembers(ctx, actorsKey(topic))
	if err != nil {
		return nil, fmt.Errorf("read typing index: %w", err)
	}

	actors := make([]string, 0, len(indexed))
	keys := make([]string, 0, len(indexed))
	for _, actorID := range indexed {
		if actorID == "" || actorID == excludeActorID {
			continue
		}
		actors = append(actors, actorID)
		keys = append(keys, signalKey(topic, actorID))
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := t.kv.GetMany(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("read typing: %w", err)
	}

	var (
		active *models.TypingSignal
		gone   []string
	)
	nowMs := t.now().UnixMilli()
	for i, data := range values {
		if data == nil {
			gone = append(gone, actors[i])
			continue
		}
		if active != nil {
			continue
		}

		var sig models.TypingSignal
		if err := json.Unmarshal(data, &sig); err != nil {
			t.logger.Debug().Err(err).Str("key", keys[i]).Msg("skipping undecodable typing signal")
			continue
		}
		if !sig.IsTyping || sig.ActorID != actors[i] {
			continue
		}
		if nowMs-sig.Timestamp > t.ttl.Milliseconds() {
			continue
		}
		active = &sig
	}

	if len(gone) > 0 {
		if err := t.kv.SetRemove(ctx, actorsKey(topic), gone...); err != nil {
			t.logger.Debug().Err(err).Str("topic", topic).Msg("typing index cleanup failed")
		}
	}

	return active, nil
}

// RecentEvents returns up to limit typing transitions on topic, newest first.
func (t *Tracker) RecentEvents(ctx context.Context, topic string, limit int) ([]feed.TypingEvent, error) {
	return t.events.Peek(ctx, topic, limit)
}

// Watch streams typing transitions on topic made after the call.
func (t *Tracker) Watch(ctx context.Context, topic string, interval time.Duration) (<-chan feed.TypingEvent, error) {
	return t.events.Watch(ctx, topic, interval)
}
