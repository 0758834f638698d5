package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags an event variant on the wire.
type Kind string

const (
	KindMessage      Kind = "message"
	KindTyping       Kind = "typing"
	KindNotification Kind = "notification"
	KindWater        Kind = "water"
	KindWorkout      Kind = "workout"
)

// Event is implemented by every variant that can be carried on a feed.
// The set is closed: DecodeAny only understands the variants below.
type Event interface {
	Kind() Kind
}

// MessageEvent announces a chat message.
type MessageEvent struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// TypingEvent records a typing transition.
type TypingEvent struct {
	Topic     string `json:"topic"`
	ActorID   string `json:"actor_id"`
	IsTyping  bool   `json:"is_typing"`
	Timestamp int64  `json:"ts"` // Unix ms
}

// NotificationEvent is a generic user-facing notification.
type NotificationEvent struct {
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WaterEvent reports a change to a user's daily water intake.
type WaterEvent struct {
	UserID   string    `json:"user_id"`
	Day      string    `json:"day"`
	TotalML  float64   `json:"total_ml"`
	LoggedAt time.Time `json:"logged_at"`
}

// WorkoutEvent reports a workout session state change.
type WorkoutEvent struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Day       string    `json:"day,omitempty"`
	Minutes   float64   `json:"minutes,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MessageEvent) Kind() Kind      { return KindMessage }
func (TypingEvent) Kind() Kind       { return KindTyping }
func (NotificationEvent) Kind() Kind { return KindNotification }
func (WaterEvent) Kind() Kind        { return KindWater }
func (WorkoutEvent) Kind() Kind      { return KindWorkout }

// envelope is the stored form of every feed entry.
type envelope struct {
	ID        string          `json:"id"` // ULID assigned on append
	Type      Kind            `json:"type"`
	Timestamp int64           `json:"ts"` // Unix ms
	Data      json.RawMessage `json:"data"`
}

// Entry is a decoded feed entry together with its envelope metadata.
type Entry struct {
	ID        string
	Timestamp int64
	Event     Event
}

// DecodeAny decodes a stored entry of any known variant.
func DecodeAny(raw string) (Entry, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Entry{}, fmt.Errorf("decode envelope: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case KindMessage:
		ev, err = decodeData[MessageEvent](env.Data)
	case KindTyping:
		ev, err = decodeData[TypingEvent](env.Data)
	case KindNotification:
		ev, err = decodeData[NotificationEvent](env.Data)
	case KindWater:
		ev, err = decodeData[WaterEvent](env.Data)
	case KindWorkout:
		ev, err = decodeData[WorkoutEvent](env.Data)
	default:
		return Entry{}, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return Entry{}, err
	}

	return Entry{ID: env.ID, Timestamp: env.Timestamp, Event: ev}, nil
}

func decodeData[E Event](data json.RawMessage) (E, error) {
	var e E
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("decode %s event: %w", e.Kind(), err)
	}
	return e, nil
}
