package board_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/domain"
)

// fixture builds boards from column names and card names so tests can talk
// about "Todo" and "C1" instead of raw ids.
type fixture struct {
	ids map[string]uuid.UUID
}

func newFixture() *fixture {
	return &fixture{ids: make(map[string]uuid.UUID)}
}

func (f *fixture) id(name string) uuid.UUID {
	if id, ok := f.ids[name]; ok {
		return id
	}
	id := uuid.New()
	f.ids[name] = id
	return id
}

type col struct {
	name  string
	cards []string
}

func (f *fixture) board(cols ...col) domain.Board {
	b := domain.Board{Columns: make([]domain.Column, 0, len(cols))}
	for _, c := range cols {
		column := domain.Column{ID: f.id(c.name), Title: c.name, Cards: []domain.Card{}}
		for _, name := range c.cards {
			column.Cards = append(column.Cards, domain.Card{ID: f.id(name), Title: name, ColumnID: column.ID})
		}
		b.Columns = append(b.Columns, column)
	}
	return b
}

// layout renders a board back into names for readable assertions.
func (f *fixture) layout(b domain.Board) map[string][]string {
	names := make(map[uuid.UUID]string, len(f.ids))
	for name, id := range f.ids {
		names[id] = name
	}
	out := make(map[string][]string, len(b.Columns))
	for _, c := range b.Columns {
		cards := []string{}
		for _, card := range c.Cards {
			cards = append(cards, names[card.ID])
		}
		out[names[c.ID]] = cards
	}
	return out
}

// requireConsistent checks the store invariants: every card in exactly one
// column and its ColumnID naming that column.
func requireConsistent(t *testing.T, b domain.Board) {
	t.Helper()
	require.NoError(t, b.Validate())
}

func assertLayout(t *testing.T, f *fixture, want map[string][]string, b domain.Board) {
	t.Helper()
	requireConsistent(t, b)
	assert.Equal(t, want, f.layout(b))
}
