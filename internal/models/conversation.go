package models

import "time"

// Conversation is a chat thread backed by a relationship.
type Conversation struct {
	ID             string    `json:"id"`
	RelationshipID string    `json:"relationship_id"`
	CreatedAt      time.Time `json:"created_at"`
}
