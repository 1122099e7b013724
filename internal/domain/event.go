package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EventName identifies one kind of realtime event on the wire.
type EventName string

const (
	EventJoinOrg        EventName = "join-org"
	EventJoinProject    EventName = "join-project"
	EventLeaveProject   EventName = "leave-project"
	EventJoinChannel    EventName = "join-channel"
	EventLeaveChannel   EventName = "leave-channel"
	EventCardMoved      EventName = "card:moved"
	EventTypingStart    EventName = "typing:start"
	EventTypingStop     EventName = "typing:stop"
	EventPresenceUpdate EventName = "presence:update"
	EventError          EventName = "error"
)

const maxChannelLen = 128

var (
	ErrUnknownEvent = errors.New("event: unknown event name")
	ErrInvalidEvent = errors.New("event: invalid payload")
)

// Event is the closed set of realtime payloads. Every implementation lives in
// this file and has a fixed schema.
type Event interface {
	Name() EventName
	Validate() error
}

// envelope is the frame carried by the websocket and by Redis. Seq is only
// set by the relay on sequenced events; omitting it when zero keeps the
// encoded frame starting with the event name.
type envelope struct {
	Seq   uint64          `json:"seq,omitempty"`
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinOrg struct {
	OrgID uuid.UUID `json:"orgId"`
}

type JoinProject struct {
	OrgID     uuid.UUID `json:"orgId"`
	ProjectID uuid.UUID `json:"projectId"`
}

type LeaveProject struct {
	OrgID     uuid.UUID `json:"orgId"`
	ProjectID uuid.UUID `json:"projectId"`
}

type JoinChannel struct {
	OrgID   uuid.UUID `json:"orgId"`
	Channel string    `json:"channel"`
}

type LeaveChannel struct {
	OrgID   uuid.UUID `json:"orgId"`
	Channel string    `json:"channel"`
}

// MoveEvent is the broadcast fact describing a completed card relocation.
// Seq is assigned by the relay per project room; zero means unsequenced.
type MoveEvent struct {
	CardID     uuid.UUID `json:"cardId"`
	FromColumn uuid.UUID `json:"fromColumn"`
	ToColumn   uuid.UUID `json:"toColumn"`
	Order      int       `json:"order"`
	OrgID      uuid.UUID `json:"orgId"`
	ProjectID  uuid.UUID `json:"projectId"`
	Origin     string    `json:"origin,omitempty"`
	Seq        uint64    `json:"-"`
}

// TypingEvent covers both typing:start and typing:stop.
type TypingEvent struct {
	OrgID   uuid.UUID `json:"orgId"`
	Channel string    `json:"channel"`
	UserID  uuid.UUID `json:"userId"`
	Stopped bool      `json:"-"`
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

type PresenceEvent struct {
	OrgID  uuid.UUID      `json:"orgId"`
	UserID uuid.UUID      `json:"userId"`
	Status PresenceStatus `json:"status"`
}

// Error codes carried by error events.
const (
	CodeInvalidEvent  = "invalid_event"
	CodeUnknownEvent  = "unknown_event"
	CodeForbidden     = "forbidden"
	CodeNotJoined     = "not_joined"
	CodeNotFound      = "not_found"
	CodePersistFailed = "persist_failed"
	CodeRelayFailed   = "relay_failed"
)

// ErrorEvent is sent by the relay to a single client that sent a bad frame.
// Rejected names the event that was refused when the relay could decode it.
type ErrorEvent struct {
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Rejected EventName `json:"rejected,omitempty"`
}

// RejectsMove reports whether the relay refused a move the sender may
// already have applied locally.
func (e ErrorEvent) RejectsMove() bool {
	if e.Rejected != "" && e.Rejected != EventCardMoved {
		return false
	}
	switch e.Code {
	case CodeForbidden, CodeNotJoined, CodeNotFound, CodePersistFailed, CodeRelayFailed:
		return true
	default:
		return false
	}
}

func (JoinOrg) Name() EventName       { return EventJoinOrg }
func (JoinProject) Name() EventName   { return EventJoinProject }
func (LeaveProject) Name() EventName  { return EventLeaveProject }
func (JoinChannel) Name() EventName   { return EventJoinChannel }
func (LeaveChannel) Name() EventName  { return EventLeaveChannel }
func (MoveEvent) Name() EventName     { return EventCardMoved }
func (PresenceEvent) Name() EventName { return EventPresenceUpdate }
func (ErrorEvent) Name() EventName    { return EventError }

func (e TypingEvent) Name() EventName {
	if e.Stopped {
		return EventTypingStop
	}
	return EventTypingStart
}

func (e JoinOrg) Validate() error {
	return requireIDs(e.Name(), "orgId", e.OrgID)
}

func (e JoinProject) Validate() error {
	return requireIDs(e.Name(), "orgId", e.OrgID, "projectId", e.ProjectID)
}

func (e LeaveProject) Validate() error {
	return requireIDs(e.Name(), "orgId", e.OrgID, "projectId", e.ProjectID)
}

func (e JoinChannel) Validate() error {
	if err := requireIDs(e.Name(), "orgId", e.OrgID); err != nil {
		return err
	}
	return validChannel(e.Name(), e.Channel)
}

func (e LeaveChannel) Validate() error {
	if err := requireIDs(e.Name(), "orgId", e.OrgID); err != nil {
		return err
	}
	return validChannel(e.Name(), e.Channel)
}

// Validate checks identifiers only. Order is clamped by whoever applies it.
func (e MoveEvent) Validate() error {
	return requireIDs(e.Name(),
		"cardId", e.CardID,
		"toColumn", e.ToColumn,
		"orgId", e.OrgID,
		"projectId", e.ProjectID,
	)
}

// Validate does not require UserID; the relay stamps it from the session.
func (e TypingEvent) Validate() error {
	if err := requireIDs(e.Name(), "orgId", e.OrgID); err != nil {
		return err
	}
	return validChannel(e.Name(), e.Channel)
}

func (e PresenceEvent) Validate() error {
	if err := requireIDs(e.Name(), "orgId", e.OrgID); err != nil {
		return err
	}
	switch e.Status {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return nil
	default:
		return fmt.Errorf("%w: %s: unknown status %q", ErrInvalidEvent, e.Name(), e.Status)
	}
}

func (e ErrorEvent) Validate() error {
	if e.Code == "" {
		return fmt.Errorf("%w: %s: code is required", ErrInvalidEvent, e.Name())
	}
	return nil
}

// Encode wraps an event into its wire envelope.
func Encode(ev Event) ([]byte, error) {
	return EncodeSeq(ev, 0)
}

// EncodeSeq wraps an event into an envelope carrying a relay sequence number.
func EncodeSeq(ev Event, seq uint64) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("domain.Encode: %s: %w", ev.Name(), err)
	}
	frame, err := json.Marshal(envelope{Seq: seq, Event: ev.Name(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("domain.Encode: %s: %w", ev.Name(), err)
	}
	return frame, nil
}

// Decode parses a wire envelope into its typed event and validates it.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("domain.Decode: %w: %w", ErrInvalidEvent, err)
	}

	var ev Event
	var err error
	switch env.Event {
	case EventJoinOrg:
		ev, err = decodeData[JoinOrg](env.Data)
	case EventJoinProject:
		ev, err = decodeData[JoinProject](env.Data)
	case EventLeaveProject:
		ev, err = decodeData[LeaveProject](env.Data)
	case EventJoinChannel:
		ev, err = decodeData[JoinChannel](env.Data)
	case EventLeaveChannel:
		ev, err = decodeData[LeaveChannel](env.Data)
	case EventCardMoved:
		var move MoveEvent
		move, err = decodeData[MoveEvent](env.Data)
		move.Seq = env.Seq
		ev = move
	case EventTypingStart, EventTypingStop:
		var typing TypingEvent
		typing, err = decodeData[TypingEvent](env.Data)
		typing.Stopped = env.Event == EventTypingStop
		ev = typing
	case EventPresenceUpdate:
		ev, err = decodeData[PresenceEvent](env.Data)
	case EventError:
		ev, err = decodeData[ErrorEvent](env.Data)
	default:
		return nil, fmt.Errorf("domain.Decode: %w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("domain.Decode: %s: %w: %w", env.Event, ErrInvalidEvent, err)
	}

	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("domain.Decode: %w", err)
	}
	return ev, nil
}

func decodeData[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, errors.New("missing data")
	}
	err := json.Unmarshal(data, &v)
	return v, err
}

// requireIDs takes alternating field names and ids.
func requireIDs(name EventName, pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		id, _ := pairs[i+1].(uuid.UUID)
		if id == uuid.Nil {
			return fmt.Errorf("%w: %s: %s is required", ErrInvalidEvent, name, pairs[i])
		}
	}
	return nil
}

func validChannel(name EventName, channel string) error {
	if channel == "" {
		return fmt.Errorf("%w: %s: channel is required", ErrInvalidEvent, name)
	}
	if len(channel) > maxChannelLen {
		return fmt.Errorf("%w: %s: channel longer than %d", ErrInvalidEvent, name, maxChannelLen)
	}
	return nil
}
