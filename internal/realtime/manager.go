// Package realtime is the client side of the board relay: one websocket per
// session, room membership that survives reconnects, and typed event
// dispatch.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
)

// State is the lifecycle position of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var (
	// ErrUnauthorized means the relay refused the session token. The manager
	// stops instead of retrying; the caller must re-authenticate.
	ErrUnauthorized = errors.New("realtime: credentials rejected")
	// ErrAlreadyRunning is returned by Run when another Run is active.
	ErrAlreadyRunning = errors.New("realtime: manager already running")
)

// Options configures a Manager.
type Options struct {
	URL   string    // ws:// or wss:// endpoint of the relay
	OrgID uuid.UUID // organization room joined on every connect
	// Token returns the session token sent at handshake. It is called for
	// every attempt so refreshed tokens are used after a reconnect.
	Token func() string

	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration // zero disables keepalive pings

	HTTPClient *http.Client
}

func (o *Options) setDefaults() {
	if o.MinBackoff <= 0 {
		o.MinBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = o.MinBackoff
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
}

type entry[F any] struct {
	id uint64
	fn F
}

// Manager owns the realtime connection for one authenticated session.
type Manager struct {
	opts Options

	mu             sync.Mutex
	state          State
	running        bool
	connectedOnce  bool
	conn           *websocket.Conn
	rooms          roomSet
	nextID         uint64
	handlers       map[domain.EventName][]entry[func(domain.Event)]
	stateHandlers  []entry[func(State)]
	reconnHandlers []entry[func()]
}

// NewManager validates opts and returns a disconnected manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.URL == "" {
		return nil, errors.New("realtime.NewManager: URL is required")
	}
	if opts.OrgID == uuid.Nil {
		return nil, errors.New("realtime.NewManager: org ID is required")
	}
	opts.setDefaults()

	return &Manager{
		opts:     opts,
		handlers: make(map[domain.EventName][]entry[func(domain.Event)]),
	}, nil
}

// OrgID returns the organization this manager is scoped to.
func (m *Manager) OrgID() uuid.UUID {
	return m.opts.OrgID
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the manager currently holds a live connection.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Run connects and keeps the connection alive until ctx is cancelled, which
// is how a session logs out. Transport failures are retried with capped
// exponential backoff; a rejected token ends Run with ErrUnauthorized. Room
// membership is forgotten when Run returns.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.connectedOnce = false
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.rooms.clear()
		m.mu.Unlock()
		m.setState(StateDisconnected)
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.MinBackoff
	b.MaxInterval = m.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	next := StateConnecting
	for {
		m.setState(next)

		conn, err := m.dial(ctx)
		if err == nil {
			b.Reset()
			err = m.serve(ctx, conn)
		}

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrUnauthorized) {
			log.Warn().Err(err).Str("url", m.opts.URL).Msg("realtime: handshake rejected, not retrying")
			return fmt.Errorf("realtime.Manager.Run: %w", err)
		}

		wait := b.NextBackOff()
		log.Warn().Err(err).Dur("retry_in", wait).Msg("realtime: connection lost")

		next = StateReconnecting
		m.setState(StateReconnecting)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// JoinProject subscribes to a project room. Safe to call while disconnected;
// membership is replayed on every connect.
func (m *Manager) JoinProject(projectID uuid.UUID) {
	m.join(domain.ProjectRoom(m.opts.OrgID, projectID))
}

// LeaveProject unsubscribes from a project room.
func (m *Manager) LeaveProject(projectID uuid.UUID) {
	m.leave(domain.ProjectRoom(m.opts.OrgID, projectID))
}

// JoinChannel subscribes to a named channel room (chat, typing).
func (m *Manager) JoinChannel(channel string) {
	m.join(domain.ChannelRoom(m.opts.OrgID, channel))
}

// LeaveChannel unsubscribes from a named channel room.
func (m *Manager) LeaveChannel(channel string) {
	m.leave(domain.ChannelRoom(m.opts.OrgID, channel))
}

// Rooms returns the remembered project and channel rooms in join order.
func (m *Manager) Rooms() []domain.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms.list()
}

// Emit sends ev if the manager is connected. It reports whether the frame
// was written; offline or failed sends are dropped and never retried.
func (m *Manager) Emit(ev domain.Event) bool {
	if err := ev.Validate(); err != nil {
		log.Warn().Err(err).Msg("realtime: refusing to emit invalid event")
		return false
	}

	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if conn == nil || !connected {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()
	if err := m.write(ctx, conn, ev); err != nil {
		log.Debug().Err(err).Str("event", string(ev.Name())).Msg("realtime: emit failed")
		return false
	}
	return true
}

// On registers fn for events named name. Handlers run in registration order
// on the manager's read goroutine. The returned func unregisters fn.
func (m *Manager) On(name domain.EventName, fn func(domain.Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.handlers[name] = append(m.handlers[name], entry[func(domain.Event)]{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handlers[name] = slices.DeleteFunc(m.handlers[name], func(e entry[func(domain.Event)]) bool {
			return e.id == id
		})
	}
}

// OnState registers fn for lifecycle transitions.
func (m *Manager) OnState(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.stateHandlers = append(m.stateHandlers, entry[func(State)]{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.stateHandlers = slices.DeleteFunc(m.stateHandlers, func(e entry[func(State)]) bool {
			return e.id == id
		})
	}
}

// OnReconnect registers fn to run each time the connection is re-established
// after a drop, once rooms have been rejoined.
func (m *Manager) OnReconnect(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.reconnHandlers = append(m.reconnHandlers, entry[func()]{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.reconnHandlers = slices.DeleteFunc(m.reconnHandlers, func(e entry[func()]) bool {
			return e.id == id
		})
	}
}

func (m *Manager) join(room domain.Room) {
	m.mu.Lock()
	added := m.rooms.add(room)
	conn := m.conn
	m.mu.Unlock()

	if !added || conn == nil {
		return
	}
	m.send(conn, room.JoinEvent())
}

func (m *Manager) leave(room domain.Room) {
	m.mu.Lock()
	removed := m.rooms.remove(room)
	conn := m.conn
	m.mu.Unlock()

	if !removed || conn == nil {
		return
	}
	if ev, ok := room.LeaveEvent(); ok {
		m.send(conn, ev)
	}
}

func (m *Manager) send(conn *websocket.Conn, ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()
	if err := m.write(ctx, conn, ev); err != nil {
		log.Debug().Err(err).Str("event", string(ev.Name())).Msg("realtime: send failed")
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if m.opts.Token != nil {
		if tok := m.opts.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, m.opts.URL, &websocket.DialOptions{
		HTTPClient: m.opts.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("realtime.Manager.dial: status %d: %w", resp.StatusCode, ErrUnauthorized)
		}
		return nil, fmt.Errorf("realtime.Manager.dial: %w", err)
	}
	return conn, nil
}

// serve rejoins rooms on a fresh connection and pumps inbound frames until
// the connection fails or ctx ends.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.CloseNow()

	m.mu.Lock()
	m.conn = conn
	rooms := append([]domain.Room{domain.OrgRoom(m.opts.OrgID)}, m.rooms.list()...)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
	}()

	for _, room := range rooms {
		writeCtx, writeCancel := context.WithTimeout(connCtx, m.opts.WriteTimeout)
		err := m.write(writeCtx, conn, room.JoinEvent())
		writeCancel()
		if err != nil {
			return fmt.Errorf("realtime.Manager.serve: rejoin: %w", err)
		}
	}

	m.mu.Lock()
	reconnect := m.connectedOnce
	m.connectedOnce = true
	m.mu.Unlock()

	m.setState(StateConnected)
	log.Info().Str("url", m.opts.URL).Int("rooms", len(rooms)).Bool("reconnect", reconnect).Msg("realtime: connected")
	if reconnect {
		m.fireReconnect()
	}

	go m.keepalive(connCtx, conn, cancel)

	for {
		_, frame, err := conn.Read(connCtx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
				return fmt.Errorf("realtime.Manager.serve: %w", ErrUnauthorized)
			}
			return fmt.Errorf("realtime.Manager.serve: read: %w", err)
		}

		ev, err := domain.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Msg("realtime: discarding malformed frame")
			continue
		}
		if e, ok := ev.(domain.ErrorEvent); ok {
			log.Warn().Str("code", e.Code).Str("message", e.Message).Msg("realtime: relay reported error")
		}
		m.dispatch(ev)
	}
}

func (m *Manager) keepalive(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	if m.opts.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				log.Debug().Err(err).Msg("realtime: ping failed")
				cancel()
				return
			}
		}
	}
}

func (m *Manager) write(ctx context.Context, conn *websocket.Conn, ev domain.Event) error {
	frame, err := domain.Encode(ev)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("realtime.Manager.write: %w", err)
	}
	return nil
}

func (m *Manager) dispatch(ev domain.Event) {
	m.mu.Lock()
	hs := slices.Clone(m.handlers[ev.Name()])
	m.mu.Unlock()

	for _, h := range hs {
		h.fn(ev)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	hs := slices.Clone(m.stateHandlers)
	m.mu.Unlock()

	log.Debug().Stringer("state", s).Msg("realtime: state")
	for _, h := range hs {
		h.fn(s)
	}
}

func (m *Manager) fireReconnect() {
	m.mu.Lock()
	hs := slices.Clone(m.reconnHandlers)
	m.mu.Unlock()

	for _, h := range hs {
		h.fn()
	}
}
