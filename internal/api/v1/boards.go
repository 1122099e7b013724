package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/server/middleware"
)

type GetBoardInput struct {
	ProjectID uuid.UUID `path:"projectID" doc:"Project ID"`
}

// BoardBody wraps the board the way board clients expect it: {"data": {...}}.
// Seq is the room sequence the board reflects: every move up to it is
// included, later moves may or may not be.
type BoardBody struct {
	Data *domain.Board `json:"data"`
	Seq  uint64        `json:"seq" doc:"Last move sequence covered by this board"`
}

type GetBoardOutput struct {
	Body *BoardBody
}

func RegisterBoardRoutes(api huma.API, store DataStore, seqs BoardSeqReader) {
	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/kanban/projects/{projectID}/board",
		Summary:     "Get the kanban board for a project",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *GetBoardInput) (*GetBoardOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		// Moves are persisted before they are sequenced, so reading the
		// sequence first guarantees the board covers it.
		seq, err := seqs.BoardSeq(ctx, orgID, input.ProjectID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to read board sequence", err)
		}

		board, err := store.Boards().GetBoard(ctx, orgID, input.ProjectID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to load board", err)
		}
		if board.Columns == nil {
			board.Columns = []domain.Column{}
		}

		return &GetBoardOutput{Body: &BoardBody{Data: board, Seq: seq}}, nil
	})
}
