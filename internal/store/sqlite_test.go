package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitpulse/pulse/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestRelationshipByConversation(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	student, instructor := uuid.NewString(), uuid.NewString()
	rel, err := s.CreateRelationship(ctx, student, instructor, models.RelationshipActive)
	require.NoError(t, err)
	conv, err := s.CreateConversation(ctx, rel.ID)
	require.NoError(t, err)

	got, err := s.GetRelationshipByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rel.ID, got.ID)
	assert.Equal(t, student, got.StudentID)
	assert.Equal(t, instructor, got.InstructorID)
	assert.Equal(t, models.RelationshipActive, got.Status)

	missing, err := s.GetRelationshipByConversation(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)

	c, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, rel.ID, c.RelationshipID)
}

func TestRelationshipBetweenPrefersActive(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	student, instructor := uuid.NewString(), uuid.NewString()
	_, err := s.CreateRelationship(ctx, student, instructor, models.RelationshipEnded)
	require.NoError(t, err)
	active, err := s.CreateRelationship(ctx, student, instructor, models.RelationshipActive)
	require.NoError(t, err)

	// Either argument order resolves the same pairing
	for _, pair := range [][2]string{{student, instructor}, {instructor, student}} {
		got, err := s.GetRelationshipBetween(ctx, pair[0], pair[1])
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, active.ID, got.ID)
	}

	none, err := s.GetRelationshipBetween(ctx, student, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestListMessagesReturnsRecentChronological(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	rel, err := s.CreateRelationship(ctx, uuid.NewString(), uuid.NewString(), models.RelationshipActive)
	require.NoError(t, err)
	conv, err := s.CreateConversation(ctx, rel.ID)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, body := range []string{"one", "two", "three", "four"} {
		require.NoError(t, s.InsertMessage(ctx, &models.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			SenderID:       rel.StudentID,
			Content:        body,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := s.ListMessages(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
	assert.Equal(t, "four", msgs[2].Content)
	assert.Equal(t, conv.ID, msgs[0].ConversationID)
}

func TestListMessagesScanFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	rel, err := s.CreateRelationship(ctx, uuid.NewString(), uuid.NewString(), models.RelationshipActive)
	require.NoError(t, err)
	conv, err := s.CreateConversation(ctx, rel.ID)
	require.NoError(t, err)

	// A TEXT primary key admits NULL, which cannot scan into a string
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES (NULL, ?, ?, 'x', ?)
	`, conv.ID, uuid.NewString(), time.Now().UTC())
	require.NoError(t, err)

	_, err = s.ListMessages(ctx, conv.ID, 10)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}
