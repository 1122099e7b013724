package v1_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/boardsync/internal/api/v1"
	"github.com/gosuda/boardsync/internal/domain"
)

// ---------------------------------------------------------------------------
// GET /kanban/projects/{projectID}/board
// ---------------------------------------------------------------------------

func TestGetBoard(t *testing.T) {
	t.Parallel()

	t.Run("happy_path_keeps_column_and_card_order", func(t *testing.T) {
		t.Parallel()

		tid := uuid.New()
		pid := uuid.New()
		todo := uuid.New()
		done := uuid.New()
		c1, c2, c3 := uuid.New(), uuid.New(), uuid.New()

		board := &domain.Board{Columns: []domain.Column{
			{ID: todo, Title: "To Do", Cards: []domain.Card{
				{ID: c1, Title: "first", ColumnID: todo, ProjectID: pid, OrganizationID: tid},
				{ID: c2, Title: "second", ColumnID: todo, ProjectID: pid, OrganizationID: tid},
			}},
			{ID: done, Title: "Done", Cards: []domain.Card{
				{ID: c3, Title: "third", ColumnID: done, ProjectID: pid, OrganizationID: tid},
			}},
		}}

		var calls []string
		_, api := humatest.New(t)
		store := &mockDataStore{
			boards: &mockBoardRepo{
				getBoardFunc: func(_ context.Context, orgID, projectID uuid.UUID) (*domain.Board, error) {
					calls = append(calls, "board")
					assert.Equal(t, tid, orgID)
					assert.Equal(t, pid, projectID)
					return board, nil
				},
			},
		}
		seqs := &mockSeqs{
			boardSeqFunc: func(_ context.Context, orgID, projectID uuid.UUID) (uint64, error) {
				calls = append(calls, "seq")
				assert.Equal(t, tid, orgID)
				assert.Equal(t, pid, projectID)
				return 41, nil
			},
		}
		v1.RegisterBoardRoutes(api, store, seqs)

		resp := api.GetCtx(orgCtx(tid), "/kanban/projects/"+pid.String()+"/board")

		require.Equal(t, http.StatusOK, resp.Code)

		var body v1.BoardBody
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.NotNil(t, body.Data)
		require.Len(t, body.Data.Columns, 2)
		assert.Equal(t, todo, body.Data.Columns[0].ID)
		assert.Equal(t, done, body.Data.Columns[1].ID)
		assert.Equal(t, []uuid.UUID{c1, c2}, body.Data.Columns[0].CardIDs())
		assert.Equal(t, []uuid.UUID{c3}, body.Data.Columns[1].CardIDs())
		assert.NoError(t, body.Data.Validate())
		assert.Equal(t, uint64(41), body.Seq)
		assert.Equal(t, []string{"seq", "board"}, calls, "sequence must be read before the board")
	})

	t.Run("sequence_error", func(t *testing.T) {
		t.Parallel()

		var storeCalled bool
		_, api := humatest.New(t)
		store := &mockDataStore{
			boards: &mockBoardRepo{
				getBoardFunc: func(_ context.Context, _, _ uuid.UUID) (*domain.Board, error) {
					storeCalled = true
					return &domain.Board{}, nil
				},
			},
		}
		seqs := &mockSeqs{
			boardSeqFunc: func(_ context.Context, _, _ uuid.UUID) (uint64, error) {
				return 0, errors.New("redis: connection refused")
			},
		}
		v1.RegisterBoardRoutes(api, store, seqs)

		resp := api.GetCtx(orgCtx(uuid.New()), "/kanban/projects/"+uuid.NewString()+"/board")

		assert.Equal(t, http.StatusInternalServerError, resp.Code)
		assert.False(t, storeCalled)
	})

	t.Run("empty_board_has_empty_columns", func(t *testing.T) {
		t.Parallel()

		tid := uuid.New()
		pid := uuid.New()

		_, api := humatest.New(t)
		store := &mockDataStore{
			boards: &mockBoardRepo{
				getBoardFunc: func(_ context.Context, _, _ uuid.UUID) (*domain.Board, error) {
					return &domain.Board{}, nil
				},
			},
		}
		v1.RegisterBoardRoutes(api, store, &mockSeqs{})

		resp := api.GetCtx(orgCtx(tid), "/kanban/projects/"+pid.String()+"/board")

		require.Equal(t, http.StatusOK, resp.Code)
		var body v1.BoardBody
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.NotNil(t, body.Data)
		assert.Empty(t, body.Data.Columns)
		assert.Contains(t, resp.Body.String(), `"columns":[]`)
	})

	t.Run("missing_org_context", func(t *testing.T) {
		t.Parallel()

		pid := uuid.New()

		var storeCalled bool
		_, api := humatest.New(t)
		store := &mockDataStore{
			boards: &mockBoardRepo{
				getBoardFunc: func(_ context.Context, _, _ uuid.UUID) (*domain.Board, error) {
					storeCalled = true
					return nil, nil
				},
			},
		}
		v1.RegisterBoardRoutes(api, store, &mockSeqs{})

		resp := api.GetCtx(context.Background(), "/kanban/projects/"+pid.String()+"/board")

		assert.Equal(t, http.StatusForbidden, resp.Code)
		assert.False(t, storeCalled, "store must NOT be accessed without organization context")
	})

	t.Run("invalid_project_id", func(t *testing.T) {
		t.Parallel()

		tid := uuid.New()

		_, api := humatest.New(t)
		store := &mockDataStore{
			boards: &mockBoardRepo{},
		}
		v1.RegisterBoardRoutes(api, store, &mockSeqs{})

		resp := api.GetCtx(orgCtx(tid), "/kanban/projects/not-a-uuid/board")

		// Huma returns 422 for unparseable path parameters.
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	t.Run("store_error", func(t *testing.T) {
		t.Parallel()

		tid := uuid.New()
		pid := uuid.New()

		_, api := humatest.New(t)
		store := &mockDataStore{
			boards: &mockBoardRepo{
				getBoardFunc: func(_ context.Context, _, _ uuid.UUID) (*domain.Board, error) {
					return nil, errors.New("db: connection lost")
				},
			},
		}
		v1.RegisterBoardRoutes(api, store, &mockSeqs{})

		resp := api.GetCtx(orgCtx(tid), "/kanban/projects/"+pid.String()+"/board")

		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}
