package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
	redisstore "github.com/gosuda/boardsync/internal/store/redis"
)

// Error codes carried by error events sent back to a single client.
const (
	CodeInvalidEvent  = domain.CodeInvalidEvent
	CodeUnknownEvent  = domain.CodeUnknownEvent
	CodeForbidden     = domain.CodeForbidden
	CodeNotJoined     = domain.CodeNotJoined
	CodeNotFound      = domain.CodeNotFound
	CodePersistFailed = domain.CodePersistFailed
	CodeRelayFailed   = domain.CodeRelayFailed
)

// client is one websocket session. rooms maps a Redis channel to the
// function that tears down its subscription.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	orgID  uuid.UUID
	userID uuid.UUID
	send   chan []byte

	mu    sync.Mutex
	rooms map[string]func()
}

func newClient(h *Hub, conn *websocket.Conn, orgID, userID uuid.UUID) *client {
	return &client{
		hub:    h,
		conn:   conn,
		orgID:  orgID,
		userID: userID,
		send:   make(chan []byte, h.sendBuffer),
		rooms:  make(map[string]func()),
	}
}

func (c *client) readLoop(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
		if typ != websocket.MessageText {
			c.sendError(ctx, "", CodeInvalidEvent, "binary frames are not supported")
			continue
		}

		ev, err := domain.Decode(data)
		if err != nil {
			code := CodeInvalidEvent
			if errors.Is(err, domain.ErrUnknownEvent) {
				code = CodeUnknownEvent
			}
			c.sendError(ctx, "", code, err.Error())
			continue
		}
		c.handle(ctx, ev)
	}
}

// writeLoop is the only writer on the connection. A failed write ends the
// session.
func (c *client) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, c.hub.writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				log.Debug().Err(err).Msg("websocket write")
				cancel()
				return
			}
		}
	}
}

func (c *client) enqueue(ctx context.Context, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *client) handle(ctx context.Context, ev domain.Event) {
	switch e := ev.(type) {
	case domain.JoinOrg:
		c.join(ctx, e.Name(), domain.OrgRoom(e.OrgID))
	case domain.JoinProject:
		c.join(ctx, e.Name(), domain.ProjectRoom(e.OrgID, e.ProjectID))
	case domain.LeaveProject:
		c.leave(domain.ProjectRoom(e.OrgID, e.ProjectID))
	case domain.JoinChannel:
		c.join(ctx, e.Name(), domain.ChannelRoom(e.OrgID, e.Channel))
	case domain.LeaveChannel:
		c.leave(domain.ChannelRoom(e.OrgID, e.Channel))
	case domain.MoveEvent:
		c.relayMove(ctx, e)
	case domain.TypingEvent:
		e.UserID = c.userID
		c.relay(ctx, domain.ChannelRoom(e.OrgID, e.Channel), e)
	case domain.PresenceEvent:
		e.UserID = c.userID
		c.relay(ctx, domain.OrgRoom(e.OrgID), e)
	case domain.ErrorEvent:
		log.Debug().Str("code", e.Code).Msg("client reported error")
	}
}

// join subscribes the session to room. Rooms outside the token's
// organization are refused.
func (c *client) join(ctx context.Context, name domain.EventName, room domain.Room) {
	if room.OrgID != c.orgID {
		c.sendError(ctx, name, CodeForbidden, "room belongs to another organization")
		return
	}
	channel := redisstore.RoomChannel(room)

	c.mu.Lock()
	_, joined := c.rooms[channel]
	c.mu.Unlock()
	if joined {
		return
	}

	subCtx, subCancel := context.WithCancel(ctx)
	messages, cleanup, err := c.hub.broker.Subscribe(subCtx, channel)
	if err != nil {
		subCancel()
		log.Error().Err(err).Str("channel", channel).Msg("websocket subscribe")
		c.sendError(ctx, name, CodeRelayFailed, "subscribe failed")
		return
	}

	c.mu.Lock()
	c.rooms[channel] = func() {
		subCancel()
		cleanup()
	}
	c.mu.Unlock()

	go func() {
		for msg := range messages {
			if !c.enqueue(subCtx, msg) {
				return
			}
		}
	}()
}

func (c *client) leave(room domain.Room) {
	channel := redisstore.RoomChannel(room)

	c.mu.Lock()
	stop, ok := c.rooms[channel]
	delete(c.rooms, channel)
	c.mu.Unlock()

	if ok {
		stop()
	}
}

func (c *client) member(room domain.Room) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[redisstore.RoomChannel(room)]
	return ok
}

func (c *client) closeRooms() {
	c.mu.Lock()
	rooms := c.rooms
	c.rooms = make(map[string]func())
	c.mu.Unlock()

	for _, stop := range rooms {
		stop()
	}
}

// relay publishes an unsequenced event to a room the session has joined.
func (c *client) relay(ctx context.Context, room domain.Room, ev domain.Event) {
	if !c.allowed(ctx, ev.Name(), room) {
		return
	}
	frame, err := domain.Encode(ev)
	if err != nil {
		c.sendError(ctx, ev.Name(), CodeInvalidEvent, err.Error())
		return
	}
	if err := c.hub.broker.Publish(ctx, redisstore.RoomChannel(room), frame); err != nil {
		log.Warn().Err(err).Str("event", string(ev.Name())).Msg("relay publish")
		c.sendError(ctx, ev.Name(), CodeRelayFailed, "publish failed")
	}
}

// relayMove persists a move and broadcasts it with the project room's next
// sequence number. Every member, the sender included, receives the frame.
func (c *client) relayMove(ctx context.Context, ev domain.MoveEvent) {
	room := domain.ProjectRoom(ev.OrgID, ev.ProjectID)
	if !c.allowed(ctx, ev.Name(), room) {
		return
	}
	channel := redisstore.RoomChannel(room)

	unlock := c.hub.lockBoard(channel)
	defer unlock()

	if c.hub.moves != nil {
		err := c.hub.moves.MoveCard(ctx, ev.OrgID, ev.ProjectID, ev.CardID, ev.ToColumn, ev.Order)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				c.sendError(ctx, ev.Name(), CodeNotFound, "card or column not found")
				return
			}
			log.Error().Err(err).Str("card_id", ev.CardID.String()).Msg("persist move")
			c.sendError(ctx, ev.Name(), CodePersistFailed, "move was not saved")
			return
		}
	}

	ev.Seq = 0
	frame, err := domain.Encode(ev)
	if err != nil {
		c.sendError(ctx, ev.Name(), CodeInvalidEvent, err.Error())
		return
	}
	seq, err := c.hub.broker.PublishSequenced(ctx, channel, redisstore.SeqKey(channel), frame)
	if err != nil {
		log.Error().Err(err).Str("card_id", ev.CardID.String()).Msg("publish move")
		c.sendError(ctx, ev.Name(), CodeRelayFailed, "publish failed")
		return
	}

	log.Debug().
		Str("card_id", ev.CardID.String()).
		Str("to_column", ev.ToColumn.String()).
		Int("order", ev.Order).
		Uint64("seq", seq).
		Msg("card moved")
}

// allowed checks that room is in the session's organization and joined.
func (c *client) allowed(ctx context.Context, name domain.EventName, room domain.Room) bool {
	if room.OrgID != c.orgID {
		c.sendError(ctx, name, CodeForbidden, "room belongs to another organization")
		return false
	}
	if !c.member(room) {
		c.sendError(ctx, name, CodeNotJoined, "join the room before sending to it")
		return false
	}
	return true
}

func (c *client) sendError(ctx context.Context, rejected domain.EventName, code, message string) {
	frame, err := domain.Encode(domain.ErrorEvent{Code: code, Message: message, Rejected: rejected})
	if err != nil {
		return
	}
	c.enqueue(ctx, frame)
}
