package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/boardsync/internal/domain"
)

type BoardRepo struct {
	pool *pgxpool.Pool
}

func NewBoardRepo(pool *pgxpool.Pool) *BoardRepo {
	return &BoardRepo{pool: pool}
}

// GetBoard loads the columns of a project in position order, each with its
// cards in position order. A project without columns yields an empty board.
func (r *BoardRepo) GetBoard(ctx context.Context, orgID, projectID uuid.UUID) (*domain.Board, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, color
		 FROM board_columns WHERE org_id = $1 AND project_id = $2
		 ORDER BY position, created_at`,
		orgID, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("boardRepo.GetBoard: columns: %w", err)
	}
	defer rows.Close()

	board := &domain.Board{Columns: []domain.Column{}}
	byID := make(map[uuid.UUID]int)
	for rows.Next() {
		col := domain.Column{Cards: []domain.Card{}}
		if err := rows.Scan(&col.ID, &col.Title, &col.Color); err != nil {
			return nil, fmt.Errorf("boardRepo.GetBoard: scan column: %w", err)
		}
		byID[col.ID] = len(board.Columns)
		board.Columns = append(board.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("boardRepo.GetBoard: columns: %w", err)
	}
	rows.Close()

	cardRows, err := r.pool.Query(ctx,
		`SELECT id, column_id, title, description, priority, due_date,
		        assignees::text[], checklist
		 FROM cards WHERE org_id = $1 AND project_id = $2
		 ORDER BY position, created_at`,
		orgID, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("boardRepo.GetBoard: cards: %w", err)
	}
	defer cardRows.Close()

	for cardRows.Next() {
		card, err := scanCard(cardRows)
		if err != nil {
			return nil, fmt.Errorf("boardRepo.GetBoard: %w", err)
		}
		idx, ok := byID[card.ColumnID]
		if !ok {
			continue
		}
		card.ProjectID = projectID
		card.OrganizationID = orgID
		board.Columns[idx].Cards = append(board.Columns[idx].Cards, card)
	}
	if err := cardRows.Err(); err != nil {
		return nil, fmt.Errorf("boardRepo.GetBoard: cards: %w", err)
	}

	return board, nil
}

// MoveCard relocates a card to order within toColumnID, compacting the
// positions it leaves behind. order is clamped to the destination's bounds
// the same way clients clamp it.
func (r *BoardRepo) MoveCard(ctx context.Context, orgID, projectID, cardID, toColumnID uuid.UUID, order int) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var fromColumnID uuid.UUID
		var fromPos int
		err := tx.QueryRow(ctx,
			`SELECT column_id, position FROM cards
			 WHERE org_id = $1 AND project_id = $2 AND id = $3
			 FOR UPDATE`,
			orgID, projectID, cardID,
		).Scan(&fromColumnID, &fromPos)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock card: %w", err)
		}

		var exists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM board_columns
			 WHERE org_id = $1 AND project_id = $2 AND id = $3)`,
			orgID, projectID, toColumnID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check column: %w", err)
		}
		if !exists {
			return fmt.Errorf("column %s: %w", toColumnID, domain.ErrNotFound)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE cards SET position = position - 1
			 WHERE column_id = $1 AND position > $2 AND id <> $3`,
			fromColumnID, fromPos, cardID,
		); err != nil {
			return fmt.Errorf("compact source: %w", err)
		}

		var siblings int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM cards WHERE column_id = $1 AND id <> $2`,
			toColumnID, cardID,
		).Scan(&siblings); err != nil {
			return fmt.Errorf("count target: %w", err)
		}
		order = min(max(order, 0), siblings)

		if _, err := tx.Exec(ctx,
			`UPDATE cards SET position = position + 1
			 WHERE column_id = $1 AND position >= $2 AND id <> $3`,
			toColumnID, order, cardID,
		); err != nil {
			return fmt.Errorf("open target slot: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE cards SET column_id = $1, position = $2, updated_at = now() WHERE id = $3`,
			toColumnID, order, cardID,
		); err != nil {
			return fmt.Errorf("place card: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boardRepo.MoveCard: %w", err)
	}
	return nil
}

func scanCard(rows pgx.Rows) (domain.Card, error) {
	var (
		c         domain.Card
		priority  string
		due       *time.Time
		assignees []string
		checklist []byte
	)
	if err := rows.Scan(
		&c.ID, &c.ColumnID, &c.Title, &c.Description, &priority, &due,
		&assignees, &checklist,
	); err != nil {
		return c, fmt.Errorf("scan card: %w", err)
	}

	c.Priority = domain.CardPriority(priority)
	c.DueDate = due
	for _, a := range assignees {
		id, err := uuid.Parse(a)
		if err != nil {
			return c, fmt.Errorf("card %s: assignee %q: %w", c.ID, a, err)
		}
		c.Assignees = append(c.Assignees, id)
	}
	if len(checklist) > 0 {
		if err := json.Unmarshal(checklist, &c.Checklist); err != nil {
			return c, fmt.Errorf("card %s: checklist: %w", c.ID, err)
		}
	}
	return c, nil
}
