package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fitpulse/pulse/internal/models"
)

// SQLiteStore handles SQLite database operations. It is used for local
// development and tests, and owns its schema.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/fitpulse.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/fitpulse.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		instructor_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		relationship_id TEXT NOT NULL REFERENCES relationships(id),
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_relationships_parties ON relationships(student_id, instructor_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return unavailable(s.db.PingContext(ctx))
}

// CreateRelationship inserts a relationship between a student and an
// instructor and returns it.
func (s *SQLiteStore) CreateRelationship(ctx context.Context, studentID, instructorID string, status models.RelationshipStatus) (*models.Relationship, error) {
	rel := &models.Relationship{
		ID:           uuid.New().String(),
		StudentID:    studentID,
		InstructorID: instructorID,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, student_id, instructor_id, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rel.ID, rel.StudentID, rel.InstructorID, string(rel.Status), rel.CreatedAt)
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// SetRelationshipStatus changes the status of a relationship.
func (s *SQLiteStore) SetRelationshipStatus(ctx context.Context, id string, status models.RelationshipStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE relationships SET status = ? WHERE id = ?
	`, string(status), id)
	return err
}

// CreateConversation inserts a conversation backed by relationshipID.
func (s *SQLiteStore) CreateConversation(ctx context.Context, relationshipID string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:             uuid.New().String(),
		RelationshipID: relationshipID,
		CreatedAt:      time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, relationship_id, created_at)
		VALUES (?, ?, ?)
	`, conv.ID, conv.RelationshipID, conv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// GetRelationshipByConversation resolves a conversation to the relationship
// that backs it.
func (s *SQLiteStore) GetRelationshipByConversation(ctx context.Context, conversationID string) (*models.Relationship, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.student_id, r.instructor_id, r.status, r.created_at
		FROM conversations c
		JOIN relationships r ON r.id = c.relationship_id
		WHERE c.id = ?
	`, conversationID)
	return scanSQLiteRelationship(row)
}

// GetRelationshipBetween returns the relationship linking two parties in
// either direction, preferring an active one.
func (s *SQLiteStore) GetRelationshipBetween(ctx context.Context, partyA, partyB string) (*models.Relationship, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, instructor_id, status, created_at
		FROM relationships
		WHERE (student_id = ? AND instructor_id = ?)
		   OR (student_id = ? AND instructor_id = ?)
		ORDER BY (status = 'active') DESC, created_at DESC
		LIMIT 1
	`, partyA, partyB, partyB, partyA)
	return scanSQLiteRelationship(row)
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, relationship_id, created_at
		FROM conversations WHERE id = ?
	`, id).Scan(&conv.ID, &conv.RelationshipID, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	return conv, nil
}

// InsertMessage appends a message to the authoritative history.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt.UTC())
	return unavailable(err)
}

// ListMessages returns the most recent limit messages of a conversation in
// chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		msg := models.Message{ConversationID: conversationID}
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, unavailable(err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	// Newest first from the query; callers want oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func scanSQLiteRelationship(row *sql.Row) (*models.Relationship, error) {
	rel := &models.Relationship{}
	var status string
	err := row.Scan(&rel.ID, &rel.StudentID, &rel.InstructorID, &status, &rel.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	rel.Status = models.RelationshipStatus(status)
	return rel, nil
}
