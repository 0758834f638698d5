package models

import "time"

// Message is a chat message. The durable store holds every message; the
// key-value cache holds the most recent ones per conversation.
type Message struct {
	ID             string    `json:"id"` // ULID
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
