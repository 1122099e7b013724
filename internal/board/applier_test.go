package board_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/board"
	"github.com/gosuda/boardsync/internal/domain"
)

type resyncRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (r *resyncRecorder) ScheduleResync(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *resyncRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

type applierEnv struct {
	f       *fixture
	store   *board.Store
	applier *board.Applier
	resync  *resyncRecorder
	org     uuid.UUID
	project uuid.UUID
}

func newApplierEnv(cols ...col) *applierEnv {
	env := &applierEnv{
		f:       newFixture(),
		store:   board.NewStore(),
		resync:  &resyncRecorder{},
		org:     uuid.New(),
		project: uuid.New(),
	}
	env.store.ReplaceBoard(env.f.board(cols...))
	env.applier = board.NewApplier(env.store, env.org, env.project, env.resync)
	return env
}

func (e *applierEnv) move(card, to string, order int, seq uint64) domain.MoveEvent {
	return domain.MoveEvent{
		CardID:    e.f.id(card),
		ToColumn:  e.f.id(to),
		Order:     order,
		OrgID:     e.org,
		ProjectID: e.project,
		Seq:       seq,
	}
}

func TestApplier_Apply(t *testing.T) {
	t.Parallel()

	env := newApplierEnv(col{"Todo", []string{"C1", "C2"}}, col{"Done", nil})

	assert.Equal(t, board.Applied, env.applier.Apply(env.move("C1", "Done", 0, 0)))
	assertLayout(t, env.f, map[string][]string{"Todo": {"C2"}, "Done": {"C1"}}, env.store.Snapshot())

	// Same event again: the card is found where it now is and nothing changes.
	assert.Equal(t, board.Unchanged, env.applier.Apply(env.move("C1", "Done", 0, 0)))
	assertLayout(t, env.f, map[string][]string{"Todo": {"C2"}, "Done": {"C1"}}, env.store.Snapshot())
	assert.Empty(t, env.resync.all())
}

func TestApplier_IgnoresOtherRooms(t *testing.T) {
	t.Parallel()

	env := newApplierEnv(col{"Todo", []string{"C1"}}, col{"Done", nil})

	otherProject := env.move("C1", "Done", 0, 0)
	otherProject.ProjectID = uuid.New()
	otherOrg := env.move("C1", "Done", 0, 0)
	otherOrg.OrgID = uuid.New()

	assert.Equal(t, board.Ignored, env.applier.Apply(otherProject))
	assert.Equal(t, board.Ignored, env.applier.Apply(otherOrg))
	assertLayout(t, env.f, map[string][]string{"Todo": {"C1"}, "Done": {}}, env.store.Snapshot())
}

func TestApplier_DropsUnknownTargets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		card   string
		column string
		reason string
	}{
		{name: "unknown card", card: "Ghost", column: "Done", reason: "unknown card"},
		{name: "unknown column", card: "C1", column: "Archive", reason: "unknown column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newApplierEnv(col{"Todo", []string{"C1"}}, col{"Done", nil})

			assert.Equal(t, board.Dropped, env.applier.Apply(env.move(tt.card, tt.column, 0, 1)))
			assertLayout(t, env.f, map[string][]string{"Todo": {"C1"}, "Done": {}}, env.store.Snapshot())
			assert.Equal(t, []string{tt.reason}, env.resync.all())
		})
	}
}

func TestApplier_DiscardsStaleSequence(t *testing.T) {
	t.Parallel()

	env := newApplierEnv(col{"Todo", []string{"C1"}}, col{"Doing", nil}, col{"Done", nil})

	require.Equal(t, board.Applied, env.applier.Apply(env.move("C1", "Doing", 0, 1)))
	require.Equal(t, board.Applied, env.applier.Apply(env.move("C1", "Done", 0, 2)))

	// A late duplicate of seq 1 must not drag the card back.
	assert.Equal(t, board.Stale, env.applier.Apply(env.move("C1", "Doing", 0, 1)))
	assert.Equal(t, board.Stale, env.applier.Apply(env.move("C1", "Doing", 0, 2)))
	assertLayout(t, env.f, map[string][]string{"Todo": {}, "Doing": {}, "Done": {"C1"}}, env.store.Snapshot())
	assert.Empty(t, env.resync.all())
}

func TestApplier_SequenceIsPerCard(t *testing.T) {
	t.Parallel()

	env := newApplierEnv(col{"Todo", []string{"C1", "C2"}}, col{"Done", nil})

	require.Equal(t, board.Applied, env.applier.Apply(env.move("C1", "Done", 0, 2)))
	// C2 has not been seen yet, so its older room sequence still applies.
	assert.Equal(t, board.Applied, env.applier.Apply(env.move("C2", "Done", 1, 1)))
	assertLayout(t, env.f, map[string][]string{"Todo": {}, "Done": {"C1", "C2"}}, env.store.Snapshot())
}

func TestApplier_GapSchedulesResync(t *testing.T) {
	t.Parallel()

	env := newApplierEnv(col{"Todo", []string{"C1", "C2"}}, col{"Done", nil})

	require.Equal(t, board.Applied, env.applier.Apply(env.move("C1", "Done", 0, 1)))
	assert.Empty(t, env.resync.all())

	// Seq 2 and 3 never arrived.
	assert.Equal(t, board.Applied, env.applier.Apply(env.move("C2", "Done", 0, 4)))
	assert.Equal(t, []string{"sequence gap"}, env.resync.all())
	assertLayout(t, env.f, map[string][]string{"Todo": {}, "Done": {"C2", "C1"}}, env.store.Snapshot())
}

func TestApplier_UnsequencedEventsAlwaysApply(t *testing.T) {
	t.Parallel()

	env := newApplierEnv(col{"Todo", []string{"C1"}}, col{"Done", nil})

	require.Equal(t, board.Applied, env.applier.Apply(env.move("C1", "Done", 0, 5)))
	assert.Equal(t, board.Applied, env.applier.Apply(env.move("C1", "Todo", 0, 0)))
	assertLayout(t, env.f, map[string][]string{"Todo": {"C1"}, "Done": {}}, env.store.Snapshot())
}

func TestApplier_RebaseReplaysMovesMissingFromSnapshot(t *testing.T) {
	t.Parallel()

	env := newApplierEnv(col{"Todo", []string{"C1", "C2"}}, col{"Done", nil})
	snapshot := env.f.board(col{"Todo", []string{"C1", "C2"}}, col{"Done", nil})

	env.applier.BeginResync()
	// The server read the board at seq 1; seq 2 arrives before the reply.
	require.Equal(t, board.Applied, env.applier.Apply(env.move("C1", "Done", 0, 2)))
	env.applier.Rebase(snapshot, 1)

	assertLayout(t, env.f, map[string][]string{"Todo": {"C2"}, "Done": {"C1"}}, env.store.Snapshot())
	assert.Empty(t, env.resync.all())

	// The replayed move still counts for staleness and gap tracking.
	assert.Equal(t, board.Stale, env.applier.Apply(env.move("C1", "Todo", 0, 2)))
	assert.Equal(t, board.Applied, env.applier.Apply(env.move("C2", "Done", 1, 3)))
	assert.Empty(t, env.resync.all())
}

func TestApplier_RebaseSkipsMovesCoveredBySnapshot(t *testing.T) {
	t.Parallel()

	env := newApplierEnv(col{"Todo", []string{"C1", "C2"}}, col{"Done", nil})
	// By seq 3 C1 went to Done and came back.
	snapshot := env.f.board(col{"Todo", []string{"C1", "C2"}}, col{"Done", nil})

	env.applier.BeginResync()
	env.applier.Apply(env.move("C1", "Done", 0, 2))
	env.applier.Rebase(snapshot, 3)

	assertLayout(t, env.f, map[string][]string{"Todo": {"C1", "C2"}, "Done": {}}, env.store.Snapshot())

	// Seq 3 is already in the snapshot when it finally arrives.
	assert.Equal(t, board.Stale, env.applier.Apply(env.move("C1", "Todo", 0, 3)))
	assert.Equal(t, board.Applied, env.applier.Apply(env.move("C2", "Done", 0, 4)))
	assert.Empty(t, env.resync.all())
}

func TestApplier_RebaseSeedsGapDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		snapSeq  uint64
		eventSeq uint64
		want     []string
	}{
		{name: "next in sequence", snapSeq: 5, eventSeq: 6},
		{name: "hole after snapshot", snapSeq: 5, eventSeq: 7, want: []string{"sequence gap"}},
		{name: "hole in unused room", snapSeq: 0, eventSeq: 2, want: []string{"sequence gap"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newApplierEnv()
			env.applier.Rebase(env.f.board(col{"Todo", []string{"C1"}}, col{"Done", nil}), tt.snapSeq)

			assert.Equal(t, board.Applied, env.applier.Apply(env.move("C1", "Done", 0, tt.eventSeq)))
			assert.Equal(t, tt.want, env.resync.all())
		})
	}
}

func TestApplier_DropsDuringResyncAreDeferred(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		snapshot []col
		want     map[string][]string
		resyncs  []string
	}{
		{
			name:     "snapshot knows the card",
			snapshot: []col{{"Todo", []string{"C1", "C9"}}, {"Done", nil}},
			want:     map[string][]string{"Todo": {"C1"}, "Done": {"C9"}},
		},
		{
			name:     "snapshot still lacks the card",
			snapshot: []col{{"Todo", []string{"C1"}}, {"Done", nil}},
			want:     map[string][]string{"Todo": {"C1"}, "Done": {}},
			resyncs:  []string{"unknown card"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newApplierEnv(col{"Todo", []string{"C1"}}, col{"Done", nil})

			env.applier.BeginResync()
			assert.Equal(t, board.Dropped, env.applier.Apply(env.move("C9", "Done", 0, 2)))
			assert.Empty(t, env.resync.all())

			env.applier.Rebase(env.f.board(tt.snapshot...), 1)
			assertLayout(t, env.f, tt.want, env.store.Snapshot())
			assert.Equal(t, tt.resyncs, env.resync.all())
		})
	}
}

func TestApplier_AbortResync(t *testing.T) {
	t.Parallel()

	env := newApplierEnv(col{"Todo", []string{"C1"}}, col{"Done", nil})

	env.applier.BeginResync()
	require.Equal(t, board.Applied, env.applier.Apply(env.move("C1", "Done", 0, 1)))
	env.applier.AbortResync()

	assertLayout(t, env.f, map[string][]string{"Todo": {}, "Done": {"C1"}}, env.store.Snapshot())
	assert.Equal(t, board.Dropped, env.applier.Apply(env.move("Ghost", "Done", 0, 2)))
	assert.Equal(t, []string{"unknown card"}, env.resync.all())
}

func TestApplier_ListenersMayCallBack(t *testing.T) {
	t.Parallel()

	env := newApplierEnv(col{"Todo", []string{"C1"}}, col{"Done", nil})
	ev := env.move("C1", "Done", 0, 1)

	var outcomes []board.Outcome
	env.store.OnChange(func(domain.Board) {
		outcomes = append(outcomes, env.applier.Apply(ev))
	})

	done := make(chan board.Outcome, 1)
	go func() { done <- env.applier.Apply(ev) }()

	select {
	case got := <-done:
		assert.Equal(t, board.Applied, got)
	case <-time.After(2 * time.Second):
		t.Fatal("applier deadlocked in a change listener")
	}
	assert.Equal(t, []board.Outcome{board.Stale}, outcomes)
}

func TestApplier_NilResyncer(t *testing.T) {
	t.Parallel()

	f := newFixture()
	s := board.NewStore()
	s.ReplaceBoard(f.board(col{"Todo", []string{"C1"}}))
	org, project := uuid.New(), uuid.New()
	a := board.NewApplier(s, org, project, nil)

	ev := domain.MoveEvent{CardID: uuid.New(), ToColumn: f.id("Todo"), OrgID: org, ProjectID: project}
	assert.Equal(t, board.Dropped, a.Apply(ev))
}

func TestApplier_ResyncFunc(t *testing.T) {
	t.Parallel()

	f := newFixture()
	s := board.NewStore()
	s.ReplaceBoard(f.board(col{"Todo", []string{"C1"}}))
	org, project := uuid.New(), uuid.New()

	var got string
	a := board.NewApplier(s, org, project, board.ResyncFunc(func(reason string) { got = reason }))
	a.Apply(domain.MoveEvent{CardID: f.id("C1"), ToColumn: uuid.New(), OrgID: org, ProjectID: project})

	assert.Equal(t, "unknown column", got)
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "applied", board.Applied.String())
	assert.Equal(t, "unchanged", board.Unchanged.String())
	assert.Equal(t, "stale", board.Stale.String())
	assert.Equal(t, "ignored", board.Ignored.String())
	assert.Equal(t, "dropped", board.Dropped.String())
	assert.Equal(t, "unknown", board.Outcome(42).String())
}

// Two clients both move C1 to Done at order 0 before seeing each other's
// event. Once the events cross they hold the same board.
func TestApplier_ConcurrentDuplicateMovesConverge(t *testing.T) {
	t.Parallel()

	f := newFixture()
	initial := f.board(col{"Todo", []string{"C1"}}, col{"Done", nil})
	org, project := uuid.New(), uuid.New()

	clientA, clientB := board.NewStore(), board.NewStore()
	clientA.ReplaceBoard(initial)
	clientB.ReplaceBoard(initial)
	applyA := board.NewApplier(clientA, org, project, nil)
	applyB := board.NewApplier(clientB, org, project, nil)

	intentA, ok := board.Plan(clientA.Snapshot(), f.id("C1"), f.id("Done"))
	require.True(t, ok)
	require.True(t, clientA.Apply(intentA))

	intentB, ok := board.Plan(clientB.Snapshot(), f.id("C1"), f.id("Done"))
	require.True(t, ok)
	require.True(t, clientB.Apply(intentB))

	evA := intentA.Event(org, project)
	evB := intentB.Event(org, project)

	assert.Equal(t, board.Unchanged, applyB.Apply(evA))
	assert.Equal(t, board.Unchanged, applyA.Apply(evB))

	want := map[string][]string{"Todo": {}, "Done": {"C1"}}
	assertLayout(t, f, want, clientA.Snapshot())
	assertLayout(t, f, want, clientB.Snapshot())
	assert.Equal(t, clientA.Snapshot(), clientB.Snapshot())
}

// The relay echoes sequenced events to every member, including the sender.
// Diverging local moves are overwritten in relay order.
func TestApplier_RelayOrderWins(t *testing.T) {
	t.Parallel()

	f := newFixture()
	initial := f.board(col{"Todo", []string{"C1", "C2"}}, col{"Doing", nil}, col{"Done", nil})
	org, project := uuid.New(), uuid.New()

	clientA, clientB := board.NewStore(), board.NewStore()
	clientA.ReplaceBoard(initial)
	clientB.ReplaceBoard(initial)

	intentA, ok := board.Plan(clientA.Snapshot(), f.id("C1"), f.id("Doing"))
	require.True(t, ok)
	clientA.Apply(intentA)
	intentB, ok := board.Plan(clientB.Snapshot(), f.id("C1"), f.id("Done"))
	require.True(t, ok)
	clientB.Apply(intentB)

	// The relay accepted B's move first.
	evB := intentB.Event(org, project)
	evB.Seq = 1
	evA := intentA.Event(org, project)
	evA.Seq = 2

	for _, s := range []*board.Store{clientA, clientB} {
		a := board.NewApplier(s, org, project, nil)
		a.Apply(evB)
		a.Apply(evA)
	}

	want := map[string][]string{"Todo": {"C2"}, "Doing": {"C1"}, "Done": {}}
	assertLayout(t, f, want, clientA.Snapshot())
	assertLayout(t, f, want, clientB.Snapshot())
}
