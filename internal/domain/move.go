package domain

import "github.com/google/uuid"

type MoveKind string

const (
	MoveWithinColumn  MoveKind = "reorder"
	MoveAcrossColumns MoveKind = "move"
)

// MoveIntent is a client-local request to relocate a card, derived from a
// drag gesture. It is consumed immediately and never sent over the wire.
type MoveIntent struct {
	CardID       uuid.UUID
	FromColumnID uuid.UUID
	ToColumnID   uuid.UUID
	TargetIndex  int
	Kind         MoveKind
}

// Event converts the intent into the wire-level fact peers will apply.
func (m MoveIntent) Event(orgID, projectID uuid.UUID) MoveEvent {
	return MoveEvent{
		CardID:     m.CardID,
		FromColumn: m.FromColumnID,
		ToColumn:   m.ToColumnID,
		Order:      m.TargetIndex,
		OrgID:      orgID,
		ProjectID:  projectID,
	}
}
