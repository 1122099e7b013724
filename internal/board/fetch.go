package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/domain"
)

// ErrFetchFailed is returned when the board endpoint answers with an error.
var ErrFetchFailed = errors.New("board: fetch failed")

// Fetcher loads the authoritative board for a project.
type Fetcher interface {
	FetchBoard(ctx context.Context, projectID uuid.UUID) (Snapshot, error)
}

// Snapshot is a fetched board and the room sequence it covers. Moves with a
// higher sequence may be missing from Board.
type Snapshot struct {
	Board domain.Board
	Seq   uint64
}

// BoardResponse is the body served by GET /api/kanban/projects/{id}/board.
type BoardResponse struct {
	Data domain.Board `json:"data"`
	Seq  uint64       `json:"seq"`
}

// HTTPFetcher reads boards from the REST API.
type HTTPFetcher struct {
	baseURL string
	token   func() string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher against baseURL. token is called for every
// request so refreshed credentials are picked up.
func NewHTTPFetcher(baseURL string, token func() string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *HTTPFetcher) FetchBoard(ctx context.Context, projectID uuid.UUID) (Snapshot, error) {
	url := f.baseURL + "/api/kanban/projects/" + projectID.String() + "/board"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("board.HTTPFetcher.FetchBoard: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != nil {
		if tok := f.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("board.HTTPFetcher.FetchBoard: %w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Snapshot{}, fmt.Errorf("board.HTTPFetcher.FetchBoard: %w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	var body BoardResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Snapshot{}, fmt.Errorf("board.HTTPFetcher.FetchBoard: %w: decode: %w", ErrFetchFailed, err)
	}

	if err := body.Data.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("board.HTTPFetcher.FetchBoard: %w: %w", ErrFetchFailed, err)
	}

	return Snapshot{Board: body.Data, Seq: body.Seq}, nil
}
