package models

import "time"

// RelationshipStatus is the lifecycle state of a student/instructor pairing.
type RelationshipStatus string

const (
	RelationshipPending RelationshipStatus = "pending"
	RelationshipActive  RelationshipStatus = "active"
	RelationshipPaused  RelationshipStatus = "paused"
	RelationshipEnded   RelationshipStatus = "ended"
)

// Relationship is the durable record that lets exactly two parties share a topic.
type Relationship struct {
	ID           string             `json:"id"`
	StudentID    string             `json:"student_id"`
	InstructorID string             `json:"instructor_id"`
	Status       RelationshipStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
}

// HasParty reports whether id is the student or the instructor.
func (r *Relationship) HasParty(id string) bool {
	return id != "" && (id == r.StudentID || id == r.InstructorID)
}

// Counterpart returns the other party, or "" if id is not a party.
func (r *Relationship) Counterpart(id string) string {
	switch id {
	case "":
		return ""
	case r.StudentID:
		return r.InstructorID
	case r.InstructorID:
		return r.StudentID
	}
	return ""
}

// IsActive returns true if the relationship currently allows writes.
func (r *Relationship) IsActive() bool {
	return r.Status == RelationshipActive
}
