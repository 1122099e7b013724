package v1_test

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

func orgCtx(orgID uuid.UUID) context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, middleware.ContextKeyOrgID, orgID)
	return ctx
}

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	boards domain.BoardRepository
}

func (m *mockDataStore) Boards() domain.BoardRepository { return m.boards }

// ---------------------------------------------------------------------------
// Mock BoardRepository
// ---------------------------------------------------------------------------

type mockBoardRepo struct {
	getBoardFunc func(ctx context.Context, orgID, projectID uuid.UUID) (*domain.Board, error)
	moveCardFunc func(ctx context.Context, orgID, projectID, cardID, toColumnID uuid.UUID, order int) error
}

func (m *mockBoardRepo) GetBoard(ctx context.Context, orgID, projectID uuid.UUID) (*domain.Board, error) {
	return m.getBoardFunc(ctx, orgID, projectID)
}

func (m *mockBoardRepo) MoveCard(ctx context.Context, orgID, projectID, cardID, toColumnID uuid.UUID, order int) error {
	return m.moveCardFunc(ctx, orgID, projectID, cardID, toColumnID, order)
}

// ---------------------------------------------------------------------------
// Mock PresenceReader
// ---------------------------------------------------------------------------

type mockPresence struct {
	onlineFunc func(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error)
}

func (m *mockPresence) Online(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error) {
	return m.onlineFunc(ctx, orgID)
}

// ---------------------------------------------------------------------------
// Mock BoardSeqReader
// ---------------------------------------------------------------------------

type mockSeqs struct {
	boardSeqFunc func(ctx context.Context, orgID, projectID uuid.UUID) (uint64, error)
}

func (m *mockSeqs) BoardSeq(ctx context.Context, orgID, projectID uuid.UUID) (uint64, error) {
	if m.boardSeqFunc == nil {
		return 0, nil
	}
	return m.boardSeqFunc(ctx, orgID, projectID)
}
