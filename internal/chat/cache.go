// Package chat holds the per-conversation cache of recent messages. The
// durable store stays authoritative; the cache only saves a database round
// trip for the common "show me the latest messages" read.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fitpulse/pulse/internal/feed"
	"github.com/fitpulse/pulse/internal/metrics"
	"github.com/fitpulse/pulse/internal/models"
)

// Store is the subset of the key-value store the cache needs.
type Store interface {
	PushTrim(ctx context.Context, key string, value []byte, limit int) error
	MergeList(ctx context.Context, key string, merge func(current []string) [][]byte, limit int) error
	Range(ctx context.Context, key string, limit int) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
}

// cachedMessage is the stored form of a message.
type cachedMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache keeps the newest messages of each conversation, newest first.
type Cache struct {
	kv       Store
	events   *feed.Feed[feed.MessageEvent]
	capacity int
	logger   zerolog.Logger
}

// NewCache creates a cache holding up to capacity messages per conversation.
// Every recorded message is also appended to events.
func NewCache(kv Store, events *feed.Feed[feed.MessageEvent], capacity int, logger zerolog.Logger) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		kv:       kv,
		events:   events,
		capacity: capacity,
		logger:   logger.With().Str("component", "chat_cache").Logger(),
	}
}

// messagesKey returns the key for a conversation's cached message list.
func messagesKey(conversationID string) string {
	return fmt.Sprintf("chat:%s:messages", conversationID)
}

// Capacity returns the per-conversation cap.
func (c *Cache) Capacity() int {
	return c.capacity
}

// RecordMessage caches msg at the head of the conversation and fans it out on
// the message feed. A failed fan-out is returned but leaves the cache entry in
// place.
func (c *Cache) RecordMessage(ctx context.Context, conversationID string, msg models.Message) error {
	data, err := json.Marshal(toCached(msg))
	if err != nil {
		return fmt.Errorf("%w: message %s: %v", feed.ErrEncode, msg.ID, err)
	}

	if err := c.kv.PushTrim(ctx, messagesKey(conversationID), data, c.capacity); err != nil {
		return fmt.Errorf("cache message: %w", err)
	}

	err = c.events.Append(ctx, conversationID, feed.MessageEvent{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("fan out message: %w", err)
	}

	return nil
}

// ReadRecent returns up to limit cached messages in chronological order.
// An empty result is a miss; the caller falls back to the durable store.
func (c *Cache) ReadRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > c.capacity {
		limit = c.capacity
	}

	raw, err := c.kv.Range(ctx, messagesKey(conversationID), limit)
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	messages := make([]models.Message, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var cm cachedMessage
		if err := json.Unmarshal([]byte(raw[i]), &cm); err != nil {
			c.logger.Debug().Err(err).Str("conversation_id", conversationID).Msg("skipping undecodable cached message")
			continue
		}
		// A refill and a concurrent send can both cache the same message
		if seen[cm.ID] {
			continue
		}
		seen[cm.ID] = true
		messages = append(messages, cm.toMessage(conversationID))
	}

	if len(messages) == 0 {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
	}

	return messages, nil
}

// Repopulate merges msgs (durable rows) into the cached list, keeping the
// newest entries that fit. Messages cached by concurrent sends are kept; a
// durable row replaces a cached entry with the same id.
func (c *Cache) Repopulate(ctx context.Context, conversationID string, msgs []models.Message) error {
	merge := func(current []string) [][]byte {
		byID := make(map[string]cachedMessage, len(current)+len(msgs))
		for _, raw := range current {
			var cm cachedMessage
			if err := json.Unmarshal([]byte(raw), &cm); err != nil || cm.ID == "" {
				continue
			}
			byID[cm.ID] = cm
		}
		for _, m := range msgs {
			byID[m.ID] = toCached(m)
		}

		merged := make([]cachedMessage, 0, len(byID))
		for _, cm := range byID {
			merged = append(merged, cm)
		}
		// Newest first, the order RecordMessage pushes in
		sort.Slice(merged, func(i, j int) bool {
			if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
				return merged[i].CreatedAt.After(merged[j].CreatedAt)
			}
			return merged[i].ID > merged[j].ID
		})
		if len(merged) > c.capacity {
			merged = merged[:c.capacity]
		}

		values := make([][]byte, 0, len(merged))
		for _, cm := range merged {
			data, err := json.Marshal(cm)
			if err != nil {
				c.logger.Warn().Err(err).Str("message_id", cm.ID).Msg("skipping unserializable message")
				continue
			}
			values = append(values, data)
		}
		return values
	}

	if err := c.kv.MergeList(ctx, messagesKey(conversationID), merge, c.capacity); err != nil {
		return fmt.Errorf("repopulate cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached list so the next read refills from the durable
// store. Call it after editing or deleting durable messages.
func (c *Cache) Invalidate(ctx context.Context, conversationID string) error {
	if err := c.kv.Delete(ctx, messagesKey(conversationID)); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return nil
}

func toCached(m models.Message) cachedMessage {
	return cachedMessage{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func (cm cachedMessage) toMessage(conversationID string) models.Message {
	return models.Message{
		ID:             cm.ID,
		ConversationID: conversationID,
		SenderID:       cm.SenderID,
		Content:        cm.Content,
		CreatedAt:      cm.CreatedAt,
	}
}
