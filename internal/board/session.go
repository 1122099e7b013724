package board

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
)

const resyncTimeout = 15 * time.Second

// Transport is the slice of the realtime connection a board session needs.
// *realtime.Manager satisfies it.
type Transport interface {
	Emit(ev domain.Event) bool
	Connected() bool
	On(name domain.EventName, fn func(domain.Event)) func()
	JoinProject(projectID uuid.UUID)
	LeaveProject(projectID uuid.UUID)
}

// reconnectNotifier is implemented by transports that can report a
// successful reconnect. Events published while the connection was down are
// lost, so the session refetches the board when it is told about one.
type reconnectNotifier interface {
	OnReconnect(fn func()) func()
}

// Session is one open board: the store, the applier feeding it from the
// transport, and the outbound side for local moves.
type Session struct {
	orgID     uuid.UUID
	projectID uuid.UUID
	origin    string

	store     *Store
	applier   *Applier
	transport Transport
	fetcher   Fetcher

	resyncCh chan string
	cancel   context.CancelFunc
	done     chan struct{}
	unsubs   []func()
}

// Open subscribes to the board's room and then loads the board, so moves
// published while the fetch is in flight are either in the snapshot or
// delivered to the session. If the fetch fails the room is left and no
// session is returned; a partial board is never shown.
func Open(ctx context.Context, transport Transport, fetcher Fetcher, orgID, projectID uuid.UUID) (*Session, error) {
	s := &Session{
		orgID:     orgID,
		projectID: projectID,
		origin:    uuid.NewString(),
		store:     NewStore(),
		transport: transport,
		fetcher:   fetcher,
		resyncCh:  make(chan string, 1),
		done:      make(chan struct{}),
	}
	s.applier = NewApplier(s.store, orgID, projectID, s)
	s.applier.BeginResync()

	s.unsubs = append(s.unsubs,
		transport.On(domain.EventCardMoved, s.handleMove),
		transport.On(domain.EventError, s.handleError),
	)
	if rn, ok := transport.(reconnectNotifier); ok {
		s.unsubs = append(s.unsubs, rn.OnReconnect(func() {
			s.ScheduleResync("reconnected")
		}))
	}
	transport.JoinProject(projectID)

	snap, err := fetcher.FetchBoard(ctx, projectID)
	if err != nil {
		s.unsubscribe()
		transport.LeaveProject(projectID)
		return nil, fmt.Errorf("board.Open: %w", err)
	}
	s.applier.Rebase(snap.Board, snap.Seq)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go s.resyncLoop(loopCtx)

	log.Info().
		Str("org_id", orgID.String()).
		Str("project_id", projectID.String()).
		Int("columns", len(snap.Board.Columns)).
		Uint64("seq", snap.Seq).
		Msg("board: session opened")

	return s, nil
}

// Store exposes the session's board state.
func (s *Session) Store() *Store {
	return s.store
}

// Drop handles the end of a drag gesture: plan the move, apply it locally
// and broadcast it. The intent is returned when the board changed.
func (s *Session) Drop(activeID, overID uuid.UUID) (domain.MoveIntent, bool) {
	intent, ok := Plan(s.store.Snapshot(), activeID, overID)
	if !ok {
		return domain.MoveIntent{}, false
	}
	if !s.store.Apply(intent) {
		return domain.MoveIntent{}, false
	}

	ev := intent.Event(s.orgID, s.projectID)
	ev.Origin = s.origin
	if !s.transport.Emit(ev) {
		// Offline moves are reconciled by the resync that follows the
		// reconnect. A failed write on a live connection is not.
		if s.transport.Connected() {
			log.Warn().
				Str("card_id", intent.CardID.String()).
				Msg("board: move not broadcast")
			s.ScheduleResync("emit failed")
		} else {
			log.Debug().
				Str("card_id", intent.CardID.String()).
				Msg("board: move not broadcast, transport offline")
		}
	}
	return intent, true
}

// ScheduleResync queues a full refetch. Requests made while one is already
// pending are folded into it.
func (s *Session) ScheduleResync(reason string) {
	select {
	case s.resyncCh <- reason:
	default:
	}
}

// Resync refetches the board now and replaces the local snapshot. Moves
// received during the fetch that the snapshot does not cover are kept.
func (s *Session) Resync(ctx context.Context) error {
	s.applier.BeginResync()
	snap, err := s.fetcher.FetchBoard(ctx, s.projectID)
	if err != nil {
		s.applier.AbortResync()
		return fmt.Errorf("board.Session.Resync: %w", err)
	}
	s.applier.Rebase(snap.Board, snap.Seq)
	return nil
}

// Close leaves the project room and stops background work.
func (s *Session) Close() {
	s.unsubscribe()
	s.transport.LeaveProject(s.projectID)
	s.cancel()
	<-s.done
}

func (s *Session) handleMove(ev domain.Event) {
	move, ok := ev.(domain.MoveEvent)
	if !ok {
		return
	}
	outcome := s.applier.Apply(move)
	log.Debug().
		Str("card_id", move.CardID.String()).
		Uint64("seq", move.Seq).
		Stringer("outcome", outcome).
		Msg("board: remote move")
}

// handleError resyncs when the relay refused a move, since the move has
// already been applied locally.
func (s *Session) handleError(ev domain.Event) {
	e, ok := ev.(domain.ErrorEvent)
	if !ok || !e.RejectsMove() {
		return
	}
	s.ScheduleResync("move rejected: " + e.Code)
}

func (s *Session) unsubscribe() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

func (s *Session) resyncLoop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-s.resyncCh:
			fetchCtx, cancel := context.WithTimeout(ctx, resyncTimeout)
			err := s.Resync(fetchCtx)
			cancel()
			if err != nil {
				log.Error().Err(err).Str("reason", reason).Msg("board: resync failed")
				continue
			}
			log.Info().Str("reason", reason).Msg("board: resynced")
		}
	}
}
