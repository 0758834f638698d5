// Package access decides whether a caller may touch a conversation or a
// user's personal topics. Every decision is a boolean; lookups that fail are
// logged and treated as a denial.
package access

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fitpulse/pulse/internal/metrics"
	"github.com/fitpulse/pulse/internal/models"
)

// Mode is the kind of operation being authorized.
type Mode int

const (
	// Read covers peeks, cache reads and history reads.
	Read Mode = iota
	// Write covers sending messages, typing and recording points.
	Write
	// Notify covers appending to another party's notification feed.
	Notify
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	case Notify:
		return "notify"
	}
	return "unknown"
}

// Source resolves topics to relationships. store.DataStore satisfies it.
type Source interface {
	GetRelationshipByConversation(ctx context.Context, conversationID string) (*models.Relationship, error)
	GetRelationshipBetween(ctx context.Context, partyA, partyB string) (*models.Relationship, error)
}

// Gate is stateless; it only reads from its source.
type Gate struct {
	source Source
	logger zerolog.Logger
}

// NewGate creates a gate backed by source.
func NewGate(source Source, logger zerolog.Logger) *Gate {
	return &Gate{
		source: source,
		logger: logger.With().Str("component", "access").Logger(),
	}
}

// Authorize reports whether callerID may perform mode on the conversation.
func (g *Gate) Authorize(ctx context.Context, callerID, conversationID string, mode Mode) bool {
	_, ok := g.Resolve(ctx, callerID, conversationID, mode)
	return ok
}

// Resolve is Authorize that also returns the conversation's relationship
// when access is granted.
func (g *Gate) Resolve(ctx context.Context, callerID, conversationID string, mode Mode) (*models.Relationship, bool) {
	if callerID == "" || conversationID == "" {
		return nil, g.deny("missing_identity", callerID, conversationID, mode)
	}

	rel, err := g.source.GetRelationshipByConversation(ctx, conversationID)
	if err != nil {
		g.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("relationship lookup failed")
		return nil, g.deny("lookup_error", callerID, conversationID, mode)
	}
	if rel == nil {
		return nil, g.deny("unknown_topic", callerID, conversationID, mode)
	}
	if !rel.HasParty(callerID) {
		return nil, g.deny("not_party", callerID, conversationID, mode)
	}
	if mode != Read && !rel.IsActive() {
		return nil, g.deny("inactive", callerID, conversationID, mode)
	}

	return rel, true
}

// AuthorizeSubject reports whether callerID may perform mode on subjectID's
// personal topics (notifications, water, workouts). Subjects may do anything
// to their own topics. The counterpart in an active relationship may read
// them and notify the subject, but never write on their behalf.
func (g *Gate) AuthorizeSubject(ctx context.Context, callerID, subjectID string, mode Mode) bool {
	if callerID == "" || subjectID == "" {
		return g.deny("missing_identity", callerID, subjectID, mode)
	}
	if callerID == subjectID {
		return true
	}
	if mode == Write {
		return g.deny("not_subject", callerID, subjectID, mode)
	}

	rel, err := g.source.GetRelationshipBetween(ctx, callerID, subjectID)
	if err != nil {
		g.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("relationship lookup failed")
		return g.deny("lookup_error", callerID, subjectID, mode)
	}
	if rel == nil || !rel.HasParty(callerID) || !rel.HasParty(subjectID) {
		return g.deny("no_relationship", callerID, subjectID, mode)
	}
	if !rel.IsActive() {
		return g.deny("inactive", callerID, subjectID, mode)
	}

	return true
}

func (g *Gate) deny(reason, callerID, topic string, mode Mode) bool {
	metrics.AccessDenied.WithLabelValues(reason).Inc()
	g.logger.Debug().
		Str("reason", reason).
		Str("caller_id", callerID).
		Str("topic", topic).
		Str("mode", mode.String()).
		Msg("access denied")
	return false
}
