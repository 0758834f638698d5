package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fitpulse/pulse/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
// The schema is owned by the main application; this store only reads
// relationships and conversations and appends chat messages.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.Tracer = queryTracer{}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable(err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return unavailable(s.pool.Ping(ctx))
}

// GetRelationshipByConversation resolves a conversation to the relationship
// that backs it.
func (s *PostgresStore) GetRelationshipByConversation(ctx context.Context, conversationID string) (*models.Relationship, error) {
	id, err := uuid.Parse(conversationID)
	if err != nil {
		return nil, nil
	}

	row := s.pool.QueryRow(ctx, `
		SELECT r.id, r.student_id, r.instructor_id, r.status, r.created_at
		FROM conversations c
		JOIN relationships r ON r.id = c.relationship_id
		WHERE c.id = $1
	`, id)
	return scanRelationship(row)
}

// GetRelationshipBetween returns the relationship linking two parties in
// either direction, preferring an active one.
func (s *PostgresStore) GetRelationshipBetween(ctx context.Context, partyA, partyB string) (*models.Relationship, error) {
	a, err := uuid.Parse(partyA)
	if err != nil {
		return nil, nil
	}
	b, err := uuid.Parse(partyB)
	if err != nil {
		return nil, nil
	}

	row := s.pool.QueryRow(ctx, `
		SELECT id, student_id, instructor_id, status, created_at
		FROM relationships
		WHERE (student_id = $1 AND instructor_id = $2)
		   OR (student_id = $2 AND instructor_id = $1)
		ORDER BY (status = 'active') DESC, created_at DESC
		LIMIT 1
	`, a, b)
	return scanRelationship(row)
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	convID, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}

	var (
		cid, rid uuid.UUID
		conv     models.Conversation
	)
	err = s.pool.QueryRow(ctx, `
		SELECT id, relationship_id, created_at
		FROM conversations WHERE id = $1
	`, convID).Scan(&cid, &rid, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	conv.ID = cid.String()
	conv.RelationshipID = rid.String()
	return &conv, nil
}

// InsertMessage appends a message to the authoritative history.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	convID, err := uuid.Parse(msg.ConversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation id %q: %w", msg.ConversationID, err)
	}
	senderID, err := uuid.Parse(msg.SenderID)
	if err != nil {
		return fmt.Errorf("invalid sender id %q: %w", msg.SenderID, err)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, convID, senderID, msg.Content, msg.CreatedAt)
	return unavailable(err)
}

// ListMessages returns the most recent limit messages of a conversation in
// chronological order.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return []models.Message{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, sender_id, content, created_at
		FROM (
			SELECT id, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`, convID, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		var (
			msg    models.Message
			sender uuid.UUID
		)
		if err := rows.Scan(&msg.ID, &sender, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, unavailable(err)
		}
		msg.ConversationID = conversationID
		msg.SenderID = sender.String()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	return messages, nil
}

func scanRelationship(row pgx.Row) (*models.Relationship, error) {
	var (
		id, student, instructor uuid.UUID
		status                  string
		rel                     models.Relationship
	)
	err := row.Scan(&id, &student, &instructor, &status, &rel.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	rel.ID = id.String()
	rel.StudentID = student.String()
	rel.InstructorID = instructor.String()
	rel.Status = models.RelationshipStatus(status)
	return &rel, nil
}
