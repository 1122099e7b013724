// Package ws is the relay side of board sync: it authenticates websocket
// sessions, scopes them to rooms, and fans events out through Redis.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/server/middleware"
	redisstore "github.com/gosuda/boardsync/internal/store/redis"
)

// Broker is the pub/sub backend shared by every relay instance.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	PublishSequenced(ctx context.Context, channel, seqKey string, frame []byte) (uint64, error)
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	MarkOnline(ctx context.Context, orgID, userID uuid.UUID) error
	MarkOffline(ctx context.Context, orgID, userID uuid.UUID) (bool, error)
}

// MoveRecorder persists a card move before it is broadcast.
type MoveRecorder interface {
	MoveCard(ctx context.Context, orgID, projectID, cardID, toColumnID uuid.UUID, order int) error
}

var _ Broker = (*redisstore.PubSub)(nil)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
	cleanupTimeout      = 5 * time.Second
)

// Hub manages WebSocket connections backed by Redis pub/sub.
type Hub struct {
	broker         Broker
	moves          MoveRecorder
	originPatterns []string
	sendBuffer     int
	writeTimeout   time.Duration

	// boards serializes persist+publish per project room on this instance.
	boardsMu sync.Mutex
	boards   map[string]*boardLock
}

type boardLock struct {
	mu   sync.Mutex
	refs int
}

type Option func(*Hub)

// WithMoveRecorder makes the hub persist every card:moved before relaying
// it. Without one, moves are relayed only.
func WithMoveRecorder(r MoveRecorder) Option {
	return func(h *Hub) { h.moves = r }
}

// WithOriginPatterns allows browser handshakes from the given hosts.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = patterns }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// NewHub creates a new WebSocket hub.
func NewHub(broker Broker, opts ...Option) *Hub {
	h := &Hub{
		broker:       broker,
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
		boards:       make(map[string]*boardLock),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeWS upgrades an authenticated request. The organization and user are
// taken from the token; the client then joins rooms inside that
// organization with join-* events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	orgID, userID := principal.OrgID, principal.UserID

	var acceptOpts *websocket.AcceptOptions
	if len(h.originPatterns) > 0 {
		acceptOpts = &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	}
	conn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newClient(h, conn, orgID, userID)
	logger := log.With().
		Str("org_id", orgID.String()).
		Str("user_id", userID.String()).
		Logger()
	logger.Debug().Msg("websocket connected")

	h.announce(ctx, c)

	go c.writeLoop(ctx, cancel)
	c.readLoop(ctx)

	cancel()
	c.closeRooms()

	cleanupCtx, cleanupCancel := context.WithTimeout(context.WithoutCancel(r.Context()), cleanupTimeout)
	defer cleanupCancel()
	h.depart(cleanupCtx, c)
	logger.Debug().Msg("websocket disconnected")
}

// announce records the connection and tells the organization the user is
// online.
func (h *Hub) announce(ctx context.Context, c *client) {
	if err := h.broker.MarkOnline(ctx, c.orgID, c.userID); err != nil {
		log.Warn().Err(err).Msg("presence mark online")
	}
	h.publishPresence(ctx, c.orgID, c.userID, domain.PresenceOnline)
}

// depart drops the connection from the presence set and announces offline
// once the user has no connection left.
func (h *Hub) depart(ctx context.Context, c *client) {
	last, err := h.broker.MarkOffline(ctx, c.orgID, c.userID)
	if err != nil {
		log.Warn().Err(err).Msg("presence mark offline")
		return
	}
	if last {
		h.publishPresence(ctx, c.orgID, c.userID, domain.PresenceOffline)
	}
}

func (h *Hub) publishPresence(ctx context.Context, orgID, userID uuid.UUID, status domain.PresenceStatus) {
	frame, err := domain.Encode(domain.PresenceEvent{OrgID: orgID, UserID: userID, Status: status})
	if err != nil {
		log.Error().Err(err).Msg("encode presence")
		return
	}
	if err := h.broker.Publish(ctx, redisstore.OrgChannel(orgID), frame); err != nil {
		log.Warn().Err(err).Msg("publish presence")
	}
}

func (h *Hub) lockBoard(channel string) func() {
	h.boardsMu.Lock()
	l, ok := h.boards[channel]
	if !ok {
		l = &boardLock{}
		h.boards[channel] = l
	}
	l.refs++
	h.boardsMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		h.boardsMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.boards, channel)
		}
		h.boardsMu.Unlock()
	}
}
