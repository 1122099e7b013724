package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type CardPriority string

const (
	CardPriorityLow    CardPriority = "low"
	CardPriorityMedium CardPriority = "medium"
	CardPriorityHigh   CardPriority = "high"
	CardPriorityUrgent CardPriority = "urgent"
)

type ChecklistItem struct {
	ID   uuid.UUID `json:"_id"`
	Text string    `json:"text"`
	Done bool      `json:"done"`
}

// Card is a single work item on a board. ColumnID mirrors the column that
// currently holds the card and must be kept in step with it on every move.
type Card struct {
	ID             uuid.UUID       `json:"_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Priority       CardPriority    `json:"priority,omitempty"`
	DueDate        *time.Time      `json:"dueDate,omitempty"`
	Assignees      []uuid.UUID     `json:"assignees,omitempty"`
	Checklist      []ChecklistItem `json:"checklist,omitempty"`
	ColumnID       uuid.UUID       `json:"columnId"`
	ProjectID      uuid.UUID       `json:"projectId"`
	OrganizationID uuid.UUID       `json:"organizationId"`
}

type Column struct {
	ID    uuid.UUID `json:"_id"`
	Title string    `json:"title"`
	Color string    `json:"color,omitempty"`
	Cards []Card    `json:"cards"`
}

// Board is the ordered set of columns for one project.
type Board struct {
	Columns []Column `json:"columns"`
}

var (
	ErrDuplicateColumn = errors.New("board: duplicate column id")
	ErrDuplicateCard   = errors.New("board: card in more than one column")
	ErrColumnMismatch  = errors.New("board: card columnId does not match its column")
)

// Clone returns a deep copy of the board.
func (b Board) Clone() Board {
	out := Board{Columns: make([]Column, len(b.Columns))}
	for i, col := range b.Columns {
		out.Columns[i] = col.Clone()
	}
	return out
}

// Clone returns a deep copy of the column and its cards.
func (c Column) Clone() Column {
	out := c
	out.Cards = make([]Card, len(c.Cards))
	for i, card := range c.Cards {
		out.Cards[i] = card.Clone()
	}
	return out
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	out := c
	if c.DueDate != nil {
		due := *c.DueDate
		out.DueDate = &due
	}
	if c.Assignees != nil {
		out.Assignees = append([]uuid.UUID(nil), c.Assignees...)
	}
	if c.Checklist != nil {
		out.Checklist = append([]ChecklistItem(nil), c.Checklist...)
	}
	return out
}

// ColumnIndex returns the position of the column with the given id, or -1.
func (b Board) ColumnIndex(columnID uuid.UUID) int {
	for i := range b.Columns {
		if b.Columns[i].ID == columnID {
			return i
		}
	}
	return -1
}

// FindCard returns the column position and card position of cardID.
func (b Board) FindCard(cardID uuid.UUID) (col, idx int, ok bool) {
	for ci := range b.Columns {
		for i := range b.Columns[ci].Cards {
			if b.Columns[ci].Cards[i].ID == cardID {
				return ci, i, true
			}
		}
	}
	return -1, -1, false
}

// CardIDs returns the card ids of a column in order. Handy for comparisons.
func (c Column) CardIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(c.Cards))
	for i := range c.Cards {
		ids[i] = c.Cards[i].ID
	}
	return ids
}

// Validate reports every uniqueness and columnId violation on the board.
func (b Board) Validate() error {
	var errs []error
	columns := make(map[uuid.UUID]struct{}, len(b.Columns))
	owner := make(map[uuid.UUID]uuid.UUID)

	for _, col := range b.Columns {
		if _, dup := columns[col.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateColumn, col.ID))
		}
		columns[col.ID] = struct{}{}

		for _, card := range col.Cards {
			if prev, dup := owner[card.ID]; dup {
				errs = append(errs, fmt.Errorf("%w: card %s in %s and %s", ErrDuplicateCard, card.ID, prev, col.ID))
			}
			owner[card.ID] = col.ID
			if card.ColumnID != col.ID {
				errs = append(errs, fmt.Errorf("%w: card %s has %s, held by %s", ErrColumnMismatch, card.ID, card.ColumnID, col.ID))
			}
		}
	}

	return errors.Join(errs...)
}

// BoardRepository is the authoritative board storage used by the relay.
type BoardRepository interface {
	GetBoard(ctx context.Context, orgID, projectID uuid.UUID) (*Board, error)
	MoveCard(ctx context.Context, orgID, projectID, cardID, toColumnID uuid.UUID, order int) error
}
