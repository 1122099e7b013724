package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/domain"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store satisfies this interface.
type DataStore interface {
	Boards() domain.BoardRepository
}

// PresenceReader lists the users currently connected to an organization.
// *redis.PubSub satisfies this interface.
type PresenceReader interface {
	Online(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error)
}

// BoardSeqReader reports the last sequence number published to a project's
// room. *redis.PubSub satisfies this interface.
type BoardSeqReader interface {
	BoardSeq(ctx context.Context, orgID, projectID uuid.UUID) (uint64, error)
}
