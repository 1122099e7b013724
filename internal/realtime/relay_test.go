package realtime_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/realtime"
)

// fakeRelay is a websocket endpoint that records decoded client frames per
// connection and lets the test push frames or drop the connection.
type fakeRelay struct {
	srv      *httptest.Server
	reject   atomic.Int32 // non-zero: answer the handshake with this status
	attempts atomic.Int32
	auth     atomic.Value // Authorization header of the last handshake
	accepted chan *relayConn
}

type relayConn struct {
	conn   *websocket.Conn
	frames chan domain.Event
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()

	r := &fakeRelay{accepted: make(chan *relayConn, 8)}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *fakeRelay) serve(w http.ResponseWriter, req *http.Request) {
	r.attempts.Add(1)
	r.auth.Store(req.Header.Get("Authorization"))
	if status := r.reject.Load(); status != 0 {
		w.WriteHeader(int(status))
		return
	}

	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		return
	}
	rc := &relayConn{conn: conn, frames: make(chan domain.Event, 64)}
	r.accepted <- rc

	for {
		_, frame, err := conn.Read(context.Background())
		if err != nil {
			close(rc.frames)
			return
		}
		ev, err := domain.Decode(frame)
		if err != nil {
			continue
		}
		rc.frames <- ev
	}
}

func (r *fakeRelay) next(t *testing.T) *relayConn {
	t.Helper()

	select {
	case rc := <-r.accepted:
		return rc
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func (rc *relayConn) expect(t *testing.T) domain.Event {
	t.Helper()

	select {
	case ev, ok := <-rc.frames:
		require.True(t, ok, "connection closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func (rc *relayConn) send(t *testing.T, ev domain.Event, seq uint64) {
	t.Helper()

	frame, err := domain.EncodeSeq(ev, seq)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, rc.conn.Write(ctx, websocket.MessageText, frame))
}

func (rc *relayConn) sendRaw(t *testing.T, frame string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, rc.conn.Write(ctx, websocket.MessageText, []byte(frame)))
}

// startManager runs a manager against url until the test ends and returns a
// channel carrying Run's result.
func startManager(t *testing.T, url string, org uuid.UUID) (*realtime.Manager, <-chan error) {
	t.Helper()

	m, err := realtime.NewManager(realtime.Options{
		URL:        url,
		OrgID:      org,
		Token:      func() string { return "test-token" },
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("manager did not stop")
		}
	})
	return m, done
}

func waitState(t *testing.T, m *realtime.Manager, want realtime.State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 3*time.Second, 5*time.Millisecond,
		"state never became %s", want)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for handler")
		var zero T
		return zero
	}
}
