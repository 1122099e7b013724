package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/boardsync/internal/domain"
)

type Store struct {
	pool   *pgxpool.Pool
	boards *BoardRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:   pool,
		boards: NewBoardRepo(pool),
	}, nil
}

// Migrate creates the board tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres.Store.Migrate: %w", err)
	}
	return nil
}

// Ping checks connectivity, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres.Store.Ping: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Boards() domain.BoardRepository { return s.boards }

const schema = `
CREATE TABLE IF NOT EXISTS board_columns (
	id          UUID PRIMARY KEY,
	org_id      UUID NOT NULL,
	project_id  UUID NOT NULL,
	title       TEXT NOT NULL,
	color       TEXT NOT NULL DEFAULT '',
	position    INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS board_columns_project_idx ON board_columns (org_id, project_id, position);

CREATE TABLE IF NOT EXISTS cards (
	id           UUID PRIMARY KEY,
	org_id       UUID NOT NULL,
	project_id   UUID NOT NULL,
	column_id    UUID NOT NULL REFERENCES board_columns (id) ON DELETE CASCADE,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	priority     TEXT NOT NULL DEFAULT 'medium',
	due_date     TIMESTAMPTZ,
	assignees    UUID[] NOT NULL DEFAULT '{}',
	checklist    JSONB NOT NULL DEFAULT '[]',
	position     INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS cards_column_idx ON cards (column_id, position);
CREATE INDEX IF NOT EXISTS cards_project_idx ON cards (org_id, project_id);
`
