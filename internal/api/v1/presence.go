package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/server/middleware"
)

type ListOnlineOutput struct {
	Body struct {
		Users []uuid.UUID `json:"users"`
	}
}

func RegisterPresenceRoutes(api huma.API, presence PresenceReader) {
	huma.Register(api, huma.Operation{
		OperationID: "list-online",
		Method:      http.MethodGet,
		Path:        "/presence",
		Summary:     "List users connected to the caller's organization",
		Tags:        []string{"Presence"},
	}, func(ctx context.Context, _ *struct{}) (*ListOnlineOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		users, err := presence.Online(ctx, orgID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list online users", err)
		}

		out := &ListOnlineOutput{}
		out.Body.Users = users
		if out.Body.Users == nil {
			out.Body.Users = []uuid.UUID{}
		}
		return out, nil
	})
}
