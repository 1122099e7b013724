// Package board holds the client-side board state and the logic that turns
// local gestures and remote events into mutations of it.
package board

import (
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/domain"
)

// PlaceResult describes what Store.Place did.
type PlaceResult int

const (
	// PlaceMoved means the card changed column or position.
	PlaceMoved PlaceResult = iota
	// PlaceUnchanged means the card already sat at the requested position.
	PlaceUnchanged
	// PlaceUnknownCard means no column holds the card.
	PlaceUnknownCard
	// PlaceUnknownColumn means the target column does not exist.
	PlaceUnknownColumn
)

// Store is this client's snapshot of a board. All mutations are serialized
// and keep every card in exactly one column with a matching ColumnID.
type Store struct {
	mu        sync.Mutex
	board     domain.Board
	listeners []listener
	nextID    uint64
}

type listener struct {
	id uint64
	fn func(domain.Board)
}

func NewStore() *Store {
	return &Store{}
}

// ReplaceBoard swaps the whole snapshot, used on first load and on resync.
func (s *Store) ReplaceBoard(b domain.Board) {
	s.replace(b)
	s.notify()
}

// replace swaps the snapshot without notifying listeners.
func (s *Store) replace(b domain.Board) {
	s.replaceWith(b, nil)
}

// placeFunc places a card, see Store.Place.
type placeFunc func(cardID, toColumnID uuid.UUID, order int) PlaceResult

// replaceWith swaps the snapshot and runs replay against it before any
// reader can observe the new board. Listeners are not notified.
func (s *Store) replaceWith(b domain.Board, replay func(place placeFunc)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board = b.Clone()
	if replay != nil {
		replay(s.placeLocked)
	}
}

// Snapshot returns a deep copy of the current board.
func (s *Store) Snapshot() domain.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Clone()
}

// Locate returns the column currently holding cardID and the card's index.
func (s *Store) Locate(cardID uuid.UUID) (columnID uuid.UUID, index int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ci, idx, found := s.board.FindCard(cardID)
	if !found {
		return uuid.Nil, -1, false
	}
	return s.board.Columns[ci].ID, idx, true
}

// HasColumn reports whether the board has a column with the given id.
func (s *Store) HasColumn(columnID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.ColumnIndex(columnID) >= 0
}

// OnChange registers fn to run after every successful mutation with a copy
// of the new board. The returned func removes it.
func (s *Store) OnChange(fn func(domain.Board)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// MoveWithinColumn moves the card at fromIndex to toIndex inside one column.
// It is a no-op when the indices are equal or out of bounds.
func (s *Store) MoveWithinColumn(columnID uuid.UUID, fromIndex, toIndex int) bool {
	s.mu.Lock()
	moved := s.moveWithin(s.board.ColumnIndex(columnID), fromIndex, toIndex)
	s.mu.Unlock()

	if moved {
		s.notify()
	}
	return moved
}

// MoveAcrossColumns takes cardID out of fromColumnID and inserts it into
// toColumnID at toIndex, clamped to the target column's bounds.
func (s *Store) MoveAcrossColumns(cardID, fromColumnID, toColumnID uuid.UUID, toIndex int) bool {
	s.mu.Lock()
	moved := s.moveAcross(cardID, fromColumnID, toColumnID, toIndex)
	s.mu.Unlock()

	if moved {
		s.notify()
	}
	return moved
}

// Apply performs a planned intent.
func (s *Store) Apply(intent domain.MoveIntent) bool {
	s.mu.Lock()
	var moved bool
	if intent.Kind == domain.MoveWithinColumn {
		ci := s.board.ColumnIndex(intent.FromColumnID)
		idx := -1
		if ci >= 0 {
			idx = indexOf(s.board.Columns[ci].Cards, intent.CardID)
		}
		moved = s.moveWithin(ci, idx, intent.TargetIndex)
	} else {
		moved = s.moveAcross(intent.CardID, intent.FromColumnID, intent.ToColumnID, intent.TargetIndex)
	}
	s.mu.Unlock()

	if moved {
		s.notify()
	}
	return moved
}

// moveWithin reorders column ci. Caller holds the lock.
func (s *Store) moveWithin(ci, fromIndex, toIndex int) bool {
	if ci < 0 {
		return false
	}
	cards := s.board.Columns[ci].Cards
	if fromIndex == toIndex || !inBounds(fromIndex, len(cards)) || !inBounds(toIndex, len(cards)) {
		return false
	}
	card := cards[fromIndex]
	s.board.Columns[ci].Cards = insertAt(removeAt(cards, fromIndex), toIndex, card)
	return true
}

// moveAcross relocates a card between two columns. A move into the same
// column becomes a reorder with the index clamped to the last slot. Caller
// holds the lock.
func (s *Store) moveAcross(cardID, fromColumnID, toColumnID uuid.UUID, toIndex int) bool {
	from := s.board.ColumnIndex(fromColumnID)
	to := s.board.ColumnIndex(toColumnID)
	if from < 0 || to < 0 {
		return false
	}
	idx := indexOf(s.board.Columns[from].Cards, cardID)
	if idx < 0 {
		return false
	}
	if from == to {
		return s.moveWithin(from, idx, clamp(toIndex, len(s.board.Columns[from].Cards)-1))
	}
	s.relocate(from, idx, to, toIndex)
	return true
}

// Place puts cardID into toColumnID at order wherever the card currently is.
// Applying the same placement twice leaves the board unchanged the second time.
func (s *Store) Place(cardID, toColumnID uuid.UUID, order int) PlaceResult {
	result := s.place(cardID, toColumnID, order)
	if result == PlaceMoved {
		s.notify()
	}
	return result
}

// place is Place without notifying listeners.
func (s *Store) place(cardID, toColumnID uuid.UUID, order int) PlaceResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placeLocked(cardID, toColumnID, order)
}

func (s *Store) placeLocked(cardID, toColumnID uuid.UUID, order int) PlaceResult {
	to := s.board.ColumnIndex(toColumnID)
	if to < 0 {
		return PlaceUnknownColumn
	}
	from, idx, ok := s.board.FindCard(cardID)
	if !ok {
		return PlaceUnknownCard
	}

	upper := len(s.board.Columns[to].Cards)
	if from == to {
		upper--
	}
	target := clamp(order, upper)
	if from == to && idx == target {
		return PlaceUnchanged
	}
	s.relocate(from, idx, to, target)
	return PlaceMoved
}

// relocate moves the card at (from, idx) to column to at index at. Caller
// holds the lock.
func (s *Store) relocate(from, idx, to, at int) {
	card := s.board.Columns[from].Cards[idx]
	s.board.Columns[from].Cards = removeAt(s.board.Columns[from].Cards, idx)
	card.ColumnID = s.board.Columns[to].ID
	at = clamp(at, len(s.board.Columns[to].Cards))
	s.board.Columns[to].Cards = insertAt(s.board.Columns[to].Cards, at, card)
}

func (s *Store) notify() {
	s.mu.Lock()
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	snapshot := s.board.Clone()
	fns := make([]func(domain.Board), len(s.listeners))
	for i, l := range s.listeners {
		fns[i] = l.fn
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

func indexOf(cards []domain.Card, cardID uuid.UUID) int {
	for i := range cards {
		if cards[i].ID == cardID {
			return i
		}
	}
	return -1
}

func inBounds(i, n int) bool {
	return i >= 0 && i < n
}

// clamp limits i to [0, upper]; a negative upper yields 0.
func clamp(i, upper int) int {
	if upper < 0 || i < 0 {
		return 0
	}
	if i > upper {
		return upper
	}
	return i
}

func removeAt(cards []domain.Card, i int) []domain.Card {
	out := make([]domain.Card, 0, len(cards)-1)
	out = append(out, cards[:i]...)
	return append(out, cards[i+1:]...)
}

func insertAt(cards []domain.Card, i int, card domain.Card) []domain.Card {
	out := make([]domain.Card, 0, len(cards)+1)
	out = append(out, cards[:i]...)
	out = append(out, card)
	return append(out, cards[i:]...)
}
