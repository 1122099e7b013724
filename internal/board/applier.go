package board

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
)

// Outcome reports how an inbound move event was handled.
type Outcome int

const (
	Applied Outcome = iota
	Unchanged
	Stale
	Ignored
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Unchanged:
		return "unchanged"
	case Stale:
		return "stale"
	case Ignored:
		return "ignored"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Resyncer is asked for a full board refetch when local state has drifted.
type Resyncer interface {
	ScheduleResync(reason string)
}

// ResyncFunc adapts a plain function to Resyncer.
type ResyncFunc func(reason string)

func (f ResyncFunc) ScheduleResync(reason string) { f(reason) }

// Applier reconciles move events from peers into a Store. Placement is
// set-then-place: the card is found wherever it currently is, not where the
// sender believed it was, so re-applying an event is harmless.
//
// Events stamped by the relay carry a per-room sequence number. The applier
// keeps the last sequence applied to each card and discards anything older,
// and asks for a resync when it notices a hole in the room sequence.
//
// A resync is bracketed by BeginResync and Rebase. Events arriving in
// between are applied live and also kept, then replayed on top of the new
// snapshot unless the snapshot's sequence already covers them.
//
// Store listeners are never called with the applier's lock held.
type Applier struct {
	store     *Store
	orgID     uuid.UUID
	projectID uuid.UUID
	resync    Resyncer

	mu       sync.Mutex
	versions map[uuid.UUID]uint64
	lastSeq  uint64
	floor    uint64
	based    bool
	syncing  bool
	pending  []domain.MoveEvent
}

func NewApplier(store *Store, orgID, projectID uuid.UUID, resync Resyncer) *Applier {
	return &Applier{
		store:     store,
		orgID:     orgID,
		projectID: projectID,
		resync:    resync,
		versions:  make(map[uuid.UUID]uint64),
	}
}

// Apply reconciles one event into the store.
func (a *Applier) Apply(ev domain.MoveEvent) Outcome {
	if ev.OrgID != a.orgID || ev.ProjectID != a.projectID {
		return Ignored
	}

	a.mu.Lock()
	if a.syncing {
		a.pending = append(a.pending, ev)
	}
	outcome, reason := a.apply(ev, a.store.place)
	a.mu.Unlock()

	if outcome == Applied {
		a.store.notify()
	}
	if reason != "" {
		a.schedule(reason)
	}
	return outcome
}

// BeginResync starts recording events until the next Rebase. Drops and
// sequence gaps seen meanwhile do not ask for another resync.
func (a *Applier) BeginResync() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncing = true
	a.pending = nil
}

// AbortResync stops recording after a failed fetch. The live board is kept.
func (a *Applier) AbortResync() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncing = false
	a.pending = nil
}

// Rebase installs a fetched board covering every move up to seq, then
// replays the events recorded since BeginResync that it does not cover.
func (a *Applier) Rebase(b domain.Board, seq uint64) {
	a.mu.Lock()
	pending := a.pending
	a.syncing = false
	a.pending = nil
	a.versions = make(map[uuid.UUID]uint64)
	a.lastSeq = seq
	a.floor = seq
	a.based = true

	var reason string
	replayed := 0
	a.store.replaceWith(b, func(place placeFunc) {
		for _, ev := range pending {
			if ev.Seq > 0 && ev.Seq <= seq {
				continue
			}
			replayed++
			if _, r := a.apply(ev, place); r != "" && reason == "" {
				reason = r
			}
		}
	})
	a.mu.Unlock()

	if replayed > 0 {
		log.Debug().
			Uint64("seq", seq).
			Int("replayed", replayed).
			Msg("board: replayed moves received during resync")
	}
	a.store.notify()
	if reason != "" {
		a.schedule(reason)
	}
}

// apply places ev and updates the sequence bookkeeping. It returns a resync
// reason when one is needed. Caller holds a.mu.
func (a *Applier) apply(ev domain.MoveEvent, place placeFunc) (Outcome, string) {
	gap := false
	if ev.Seq > 0 {
		if a.based && ev.Seq <= a.floor {
			return Stale, ""
		}
		if seen, ok := a.versions[ev.CardID]; ok && ev.Seq <= seen {
			log.Debug().
				Str("card_id", ev.CardID.String()).
				Uint64("seq", ev.Seq).
				Uint64("card_seq", seen).
				Msg("board: stale move discarded")
			return Stale, ""
		}
		gap = (a.based || a.lastSeq > 0) && ev.Seq > a.lastSeq+1
		if ev.Seq > a.lastSeq {
			a.lastSeq = ev.Seq
		}
	}

	result := place(ev.CardID, ev.ToColumn, ev.Order)
	switch result {
	case PlaceUnknownCard, PlaceUnknownColumn:
		if a.syncing {
			return Dropped, ""
		}
		reason := "unknown card"
		if result == PlaceUnknownColumn {
			reason = "unknown column"
		}
		log.Warn().
			Str("card_id", ev.CardID.String()).
			Str("to_column", ev.ToColumn.String()).
			Uint64("seq", ev.Seq).
			Msg("board: move dropped, " + reason)
		return Dropped, reason
	}

	if ev.Seq > 0 {
		a.versions[ev.CardID] = ev.Seq
	}

	reason := ""
	if gap && !a.syncing {
		reason = "sequence gap"
	}
	if result == PlaceUnchanged {
		return Unchanged, reason
	}
	return Applied, reason
}

func (a *Applier) schedule(reason string) {
	if a.resync != nil {
		a.resync.ScheduleResync(reason)
	}
}
