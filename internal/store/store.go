package store

import (
	"context"
	"errors"

	"github.com/fitpulse/pulse/internal/models"
)

// ErrUnavailable marks a transient failure talking to a backing store
// (network error, timeout, closed pool). Callers may retry.
var ErrUnavailable = errors.New("store unavailable")

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// DataStore defines the durable relational collaborator.
// Both PostgresStore and SQLiteStore implement this interface.
// Lookups return (nil, nil) when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Relationship lookups (read-only)
	GetRelationshipByConversation(ctx context.Context, conversationID string) (*models.Relationship, error)
	GetRelationshipBetween(ctx context.Context, partyA, partyB string) (*models.Relationship, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)

	// Authoritative message history
	InsertMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}
