package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eternisai/marketplace-sync/internal/auth"
	apierrors "github.com/eternisai/marketplace-sync/internal/errors"
	"github.com/eternisai/marketplace-sync/internal/events"
)

type testServer struct {
	*httptest.Server
	handshakes atomic.Int32
	reject     atomic.Int32 // non-zero: refuse handshakes with this status
	conns      chan *websocket.Conn

	mu         sync.Mutex
	lastAuth   string
	lastToken  string
	serverConn []*websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *websocket.Conn, 16)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.handshakes.Add(1)
		ts.mu.Lock()
		ts.lastAuth = r.Header.Get("Authorization")
		ts.lastToken = r.URL.Query().Get("token")
		ts.mu.Unlock()

		if code := ts.reject.Load(); code != 0 {
			http.Error(w, "rejected", int(code))
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.serverConn = append(ts.serverConn, conn)
		ts.mu.Unlock()
		ts.conns <- conn
	}))

	t.Cleanup(func() {
		ts.mu.Lock()
		for _, c := range ts.serverConn {
			c.Close()
		}
		ts.mu.Unlock()
		ts.Close()
	})
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ts.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no connection accepted within 3s")
		return nil
	}
}

type frameRecorder struct {
	frames chan []byte
}

func (r *frameRecorder) HandleFrame(_ context.Context, raw []byte) {
	r.frames <- raw
}

func readFrame(t *testing.T, c *websocket.Conn) events.Frame {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("server read failed: %v", err)
	}
	f, err := events.ParseFrame(data)
	if err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 10 * time.Millisecond
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	m, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	t.Cleanup(m.Disconnect)
	return m
}

var alice = &auth.Session{UserID: "u-alice", Token: "tok-alice"}

func TestNewManagerRejectsBadURL(t *testing.T) {
	for _, u := range []string{"http://example.com", "://bad", ""} {
		if _, err := NewManager(Options{URL: u}); err == nil {
			t.Errorf("NewManager(%q) should fail", u)
		}
	}
}

func TestConnectJoinsUserRoomFirst(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(t, Options{URL: ts.wsURL()})

	m.Connect(alice)
	conn := ts.accept(t)

	f := readFrame(t, conn)
	if f.Type != events.TypeJoinUserRoom {
		t.Fatalf("first frame = %s, want join-user-room", f.Type)
	}
	var join events.JoinUserRoom
	json.Unmarshal(f.Data, &join)
	if join.UserID != "u-alice" {
		t.Errorf("userId = %q, want u-alice", join.UserID)
	}

	ts.mu.Lock()
	gotAuth, gotToken := ts.lastAuth, ts.lastToken
	ts.mu.Unlock()
	if gotAuth != "Bearer tok-alice" || gotToken != "tok-alice" {
		t.Errorf("handshake credentials = %q, %q", gotAuth, gotToken)
	}

	waitFor(t, "connected", m.Connected)
	if m.Epoch() != 1 {
		t.Errorf("Epoch = %d, want 1", m.Epoch())
	}

	e := NewEmitter(m, nil, nil)
	if !e.NewApplication("j1", "Logo", "c1", "Alice") {
		t.Fatal("Emit while connected returned false")
	}
	if f := readFrame(t, conn); f.Type != events.TypeNewApplication {
		t.Errorf("second frame = %s, want new-application", f.Type)
	}
}

func TestInboundFramesKeepOrder(t *testing.T) {
	ts := newTestServer(t)
	rec := &frameRecorder{frames: make(chan []byte, 10)}
	m := newTestManager(t, Options{URL: ts.wsURL(), Handler: rec})

	m.Connect(alice)
	conn := ts.accept(t)
	readFrame(t, conn) // join

	for _, msg := range []string{"one", "two", "three"} {
		raw, _ := json.Marshal(map[string]any{"type": "private-message", "data": map[string]string{"message": msg}})
		conn.WriteMessage(websocket.TextMessage, raw)
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case raw := <-rec.frames:
			if !strings.Contains(string(raw), want) {
				t.Errorf("got %s, want frame %q", raw, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("frame %q not delivered", want)
		}
	}
}

func TestEmitDroppedWhenNotConnected(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(t, Options{URL: ts.wsURL()})
	e := NewEmitter(m, nil, nil)

	if e.PrivateMessage("u2", "hi", "Alice") {
		t.Error("Emit before Connect should be dropped")
	}
	if ts.handshakes.Load() != 0 {
		t.Error("Emit must not open a connection")
	}
}

func TestConnectIsIdempotentForSameSession(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(t, Options{URL: ts.wsURL()})

	m.Connect(alice)
	ts.accept(t)
	waitFor(t, "connected", m.Connected)

	m.Connect(alice)
	m.Connect(&auth.Session{UserID: alice.UserID, Token: alice.Token})
	m.Connect(nil)
	time.Sleep(50 * time.Millisecond)

	if n := ts.handshakes.Load(); n != 1 {
		t.Errorf("handshakes = %d, want 1", n)
	}
	if m.Epoch() != 1 {
		t.Errorf("Epoch = %d, want 1", m.Epoch())
	}
}

func TestNewSessionReplacesConnection(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(t, Options{URL: ts.wsURL()})

	m.Connect(alice)
	first := ts.accept(t)
	readFrame(t, first)
	waitFor(t, "connected", m.Connected)

	bob := &auth.Session{UserID: "u-bob", Token: "tok-bob"}
	m.Connect(bob)

	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := first.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("old connection read error = %v, want normal close", err)
	}

	second := ts.accept(t)
	f := readFrame(t, second)
	var join events.JoinUserRoom
	json.Unmarshal(f.Data, &join)
	if join.UserID != "u-bob" {
		t.Errorf("second join userId = %q, want u-bob", join.UserID)
	}
	waitFor(t, "connected", m.Connected)
	if m.Session() != bob {
		t.Error("manager should be bound to the new session")
	}
}

func TestReconnectStopsAfterAttemptsExhausted(t *testing.T) {
	ts := newTestServer(t)
	ts.reject.Store(http.StatusServiceUnavailable)

	var mu sync.Mutex
	var states []State
	final := make(chan struct{})
	m := newTestManager(t, Options{URL: ts.wsURL(), ReconnectAttempts: 5})
	m.OnStateChange(func(_, to State, _ uint64) {
		mu.Lock()
		states = append(states, to)
		mu.Unlock()
		if to == StateDisconnected {
			close(final)
		}
	})

	m.Connect(alice)

	select {
	case <-final:
	case <-time.After(5 * time.Second):
		t.Fatal("manager kept retrying")
	}

	// One initial attempt plus five reconnection attempts.
	if n := ts.handshakes.Load(); n != 6 {
		t.Errorf("handshakes = %d, want 6", n)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State = %s, want disconnected", m.State())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateReconnecting, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
		}
	}

	time.Sleep(50 * time.Millisecond)
	if n := ts.handshakes.Load(); n != 6 {
		t.Errorf("handshakes grew to %d after giving up", n)
	}
}

func TestExplicitConnectAfterExhaustion(t *testing.T) {
	ts := newTestServer(t)
	ts.reject.Store(http.StatusBadGateway)
	m := newTestManager(t, Options{URL: ts.wsURL(), ReconnectAttempts: 1})

	m.Connect(alice)
	waitFor(t, "two handshakes", func() bool { return ts.handshakes.Load() == 2 })
	waitFor(t, "disconnected", func() bool { return m.State() == StateDisconnected })

	ts.reject.Store(0)
	m.Connect(alice)
	ts.accept(t)
	waitFor(t, "connected", m.Connected)
}

func TestHandshakeUnauthorizedIsNotRetried(t *testing.T) {
	ts := newTestServer(t)
	ts.reject.Store(http.StatusUnauthorized)

	failures := make(chan error, 1)
	m := newTestManager(t, Options{
		URL: ts.wsURL(),
		OnAuthFailure: func(s *auth.Session, err error) {
			if s != alice {
				t.Errorf("auth failure for %v, want alice", s)
			}
			failures <- err
		},
	})

	m.Connect(alice)

	select {
	case err := <-failures:
		if !apierrors.IsUnauthorized(err) {
			t.Errorf("err = %v, want unauthorized", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("auth failure not reported")
	}

	waitFor(t, "disconnected", func() bool { return m.State() == StateDisconnected })
	time.Sleep(50 * time.Millisecond)
	if n := ts.handshakes.Load(); n != 1 {
		t.Errorf("handshakes = %d, want 1", n)
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(t, Options{URL: ts.wsURL()})

	m.Connect(alice)
	first := ts.accept(t)
	readFrame(t, first)
	waitFor(t, "connected", m.Connected)

	first.Close()

	second := ts.accept(t)
	if f := readFrame(t, second); f.Type != events.TypeJoinUserRoom {
		t.Errorf("first frame after reconnect = %s, want join-user-room", f.Type)
	}
	waitFor(t, "epoch 2", func() bool { return m.Epoch() == 2 && m.Connected() })
}

func TestDisconnect(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(t, Options{URL: ts.wsURL()})

	m.Disconnect() // nothing to tear down

	m.Connect(alice)
	conn := ts.accept(t)
	readFrame(t, conn)
	waitFor(t, "connected", m.Connected)

	m.Disconnect()

	if m.State() != StateDisconnected {
		t.Errorf("State = %s right after Disconnect, want disconnected", m.State())
	}
	if m.Session() != nil {
		t.Error("session should be released")
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("server read error = %v, want normal close", err)
	}
	if NewEmitter(m, nil, nil).PrivateMessage("u2", "hi", "Alice") {
		t.Error("Emit after Disconnect should be dropped")
	}

	m.Disconnect()
}

func TestDisconnectDuringBackoff(t *testing.T) {
	ts := newTestServer(t)
	ts.reject.Store(http.StatusServiceUnavailable)
	m := newTestManager(t, Options{URL: ts.wsURL(), ReconnectDelay: time.Hour})

	m.Connect(alice)
	waitFor(t, "reconnecting", func() bool { return m.State() == StateReconnecting })

	done := make(chan struct{})
	go func() {
		m.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Disconnect blocked on the reconnect timer")
	}
	if m.State() != StateDisconnected {
		t.Errorf("State = %s, want disconnected", m.State())
	}
}
