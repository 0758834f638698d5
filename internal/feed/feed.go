// Package feed implements the bounded, newest-first event log used for every
// fan-out channel. A feed has no subscribers and no acknowledgements: writers
// append, readers peek on an interval (or Watch, which peeks when nudged).
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/fitpulse/pulse/internal/metrics"
)

// ErrEncode is returned when an event cannot be serialized. The event is not
// appended and the feed is left untouched.
var ErrEncode = errors.New("event could not be serialized")

// Store is the subset of the key-value store a feed needs.
type Store interface {
	PushTrim(ctx context.Context, key string, value []byte, limit int) error
	Range(ctx context.Context, key string, limit int) ([]string, error)
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
}

// Log is the untyped bounded log. All typed feeds share one Log.
type Log struct {
	kv       Store
	capacity int
	logger   zerolog.Logger
	now      func() time.Time
}

// NewLog creates a log that keeps at most capacity entries per topic.
func NewLog(kv Store, capacity int, logger zerolog.Logger) *Log {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log{
		kv:       kv,
		capacity: capacity,
		logger:   logger.With().Str("component", "feed").Logger(),
		now:      time.Now,
	}
}

// Capacity returns the per-topic entry cap.
func (l *Log) Capacity() int {
	return l.capacity
}

// feedKey returns the key for a topic's entry list.
func feedKey(topic string) string {
	return "feed:" + topic
}

// notifyChannel returns the pub/sub channel nudged after each append.
func notifyChannel(topic string) string {
	return "feed:" + topic + ":notify"
}

// Append serializes e and prepends it to topic, trimming the topic to the cap.
func (l *Log) Append(ctx context.Context, topic string, e Event) error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrEncode)
	}

	data, err := json.Marshal(e)
	if err != nil {
		metrics.FeedEncodeFailures.WithLabelValues(string(e.Kind())).Inc()
		return fmt.Errorf("%w: %s event: %v", ErrEncode, e.Kind(), err)
	}

	raw, err := json.Marshal(envelope{
		ID:        ulid.Make().String(),
		Type:      e.Kind(),
		Timestamp: l.now().UnixMilli(),
		Data:      data,
	})
	if err != nil {
		metrics.FeedEncodeFailures.WithLabelValues(string(e.Kind())).Inc()
		return fmt.Errorf("%w: envelope: %v", ErrEncode, err)
	}

	if err := l.kv.PushTrim(ctx, feedKey(topic), raw, l.capacity); err != nil {
		return fmt.Errorf("append to %s: %w", topic, err)
	}
	metrics.FeedAppends.WithLabelValues(string(e.Kind())).Inc()

	// Watchers fall back to their poll interval if the nudge is lost
	if err := l.kv.Publish(ctx, notifyChannel(topic), string(e.Kind())); err != nil {
		l.logger.Warn().Err(err).Str("topic", topic).Msg("feed nudge failed")
	}

	return nil
}

// PeekRaw returns up to limit stored entries, newest first, without decoding.
func (l *Log) PeekRaw(ctx context.Context, topic string, limit int) ([]string, error) {
	raw, err := l.kv.Range(ctx, feedKey(topic), l.clamp(limit))
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w", topic, err)
	}
	return raw, nil
}

// Peek returns up to limit decoded entries, newest first. Entries that cannot
// be decoded are skipped.
func (l *Log) Peek(ctx context.Context, topic string, limit int) ([]Entry, error) {
	raw, err := l.PeekRaw(ctx, topic, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		entry, err := DecodeAny(r)
		if err != nil {
			metrics.FeedDecodeSkipped.Inc()
			l.logger.Debug().Err(err).Str("topic", topic).Msg("skipping undecodable feed entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Watch streams entries appended to topic after the call, oldest first. It
// re-peeks whenever an append nudge arrives and at least every interval, so a
// lost nudge only delays delivery. The channel closes when ctx is done.
func (l *Log) Watch(ctx context.Context, topic string, interval time.Duration) (<-chan Entry, error) {
	nudges, err := l.kv.Subscribe(ctx, notifyChannel(topic))
	if err != nil {
		l.logger.Warn().Err(err).Str("topic", topic).Msg("feed subscribe failed, polling only")
		nudges = nil
	}

	current, err := l.Peek(ctx, topic, l.capacity)
	if err != nil {
		return nil, err
	}
	lastSeen := ""
	if len(current) > 0 {
		lastSeen = current[0].ID
	}

	out := make(chan Entry, l.capacity)
	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-nudges:
				if !ok {
					nudges = nil
					continue
				}
			case <-ticker.C:
			}

			entries, err := l.Peek(ctx, topic, l.capacity)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Warn().Err(err).Str("topic", topic).Msg("feed watch peek failed")
				continue
			}

			fresh := unseen(entries, lastSeen)
			if len(fresh) == 0 {
				continue
			}
			lastSeen = fresh[0].ID

			for i := len(fresh) - 1; i >= 0; i-- {
				select {
				case out <- fresh[i]:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// unseen returns the entries newer than lastSeen. If lastSeen has been trimmed
// out of the feed, every retained entry is newer than it.
func unseen(entries []Entry, lastSeen string) []Entry {
	if lastSeen == "" {
		return entries
	}
	for i, e := range entries {
		if e.ID == lastSeen {
			return entries[:i]
		}
	}
	return entries
}

func (l *Log) clamp(limit int) int {
	if limit <= 0 || limit > l.capacity {
		return l.capacity
	}
	return limit
}

// Feed is a typed view over a Log for one event variant. Topics are
// namespaced as "<namespace>:<id>".
type Feed[E Event] struct {
	log       *Log
	namespace string
}

// New creates a typed feed over log.
func New[E Event](log *Log, namespace string) *Feed[E] {
	return &Feed[E]{log: log, namespace: namespace}
}

// Topic returns the log topic for id.
func (f *Feed[E]) Topic(id string) string {
	return f.namespace + ":" + id
}

// Append adds e to the feed for id.
func (f *Feed[E]) Append(ctx context.Context, id string, e E) error {
	return f.log.Append(ctx, f.Topic(id), e)
}

// Peek returns up to limit events for id, newest first. Entries of other
// variants are skipped.
func (f *Feed[E]) Peek(ctx context.Context, id string, limit int) ([]E, error) {
	entries, err := f.log.Peek(ctx, f.Topic(id), limit)
	if err != nil {
		return nil, err
	}

	events := make([]E, 0, len(entries))
	for _, entry := range entries {
		if ev, ok := entry.Event.(E); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Watch streams events of this variant appended for id after the call.
func (f *Feed[E]) Watch(ctx context.Context, id string, interval time.Duration) (<-chan E, error) {
	entries, err := f.log.Watch(ctx, f.Topic(id), interval)
	if err != nil {
		return nil, err
	}

	out := make(chan E)
	go func() {
		defer close(out)
		for entry := range entries {
			ev, ok := entry.Event.(E)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
