package board

import (
	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/domain"
)

// Plan turns a finished drag gesture into a move intent. activeID is the
// dragged card; overID is whatever the pointer was over when it was
// released, either another card or a column. No intent is produced when
// there is no target, when the card is dropped on itself, or when the
// gesture would not change anything.
func Plan(b domain.Board, activeID, overID uuid.UUID) (domain.MoveIntent, bool) {
	if overID == uuid.Nil || activeID == overID {
		return domain.MoveIntent{}, false
	}

	source, activeIdx, ok := b.FindCard(activeID)
	if !ok {
		return domain.MoveIntent{}, false
	}

	// The over target is a card (index known) or a bare column (append).
	target, overIdx, overIsCard := b.FindCard(overID)
	if !overIsCard {
		target = b.ColumnIndex(overID)
		if target < 0 {
			return domain.MoveIntent{}, false
		}
		overIdx = len(b.Columns[target].Cards)
	}

	intent := domain.MoveIntent{
		CardID:       activeID,
		FromColumnID: b.Columns[source].ID,
		ToColumnID:   b.Columns[target].ID,
		TargetIndex:  overIdx,
	}

	if source == target {
		intent.Kind = domain.MoveWithinColumn
		// Appending inside the same column lands on the last slot.
		if last := len(b.Columns[source].Cards) - 1; intent.TargetIndex > last {
			intent.TargetIndex = last
		}
		if intent.TargetIndex == activeIdx {
			return domain.MoveIntent{}, false
		}
		return intent, true
	}

	intent.Kind = domain.MoveAcrossColumns
	return intent, true
}
