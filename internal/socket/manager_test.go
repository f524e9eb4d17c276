package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer is an in-process websocket backend. Accepted connections are
// handed to the test through the conns channel.
type testServer struct {
	server *httptest.Server
	conns  chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := &testServer{conns: make(chan *websocket.Conn, 8)}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func fastPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		MaxRetries:      20,
	}
}

func testManager(t *testing.T, ts *testServer) *Manager {
	t.Helper()
	m := NewManager(Config{URL: ts.url(), Token: "tok", Reconnect: fastPolicy()})
	t.Cleanup(m.Disconnect)
	return m
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectDeliversInboundFrames(t *testing.T) {
	ts := newTestServer(t)
	m := testManager(t, ts)

	received := make(chan json.RawMessage, 1)
	m.On("newMsg", func(data json.RawMessage) {
		received <- data
	})

	require.NoError(t, m.Connect(context.Background()))
	require.Equal(t, Connected, m.State())

	server := ts.accept(t)
	require.NoError(t, server.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"newMsg","data":{"id":"m1"}}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"id":"m1"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestConnectIdempotent(t *testing.T) {
	ts := newTestServer(t)
	m := testManager(t, ts)

	require.NoError(t, m.Connect(context.Background()))
	ts.accept(t)
	require.NoError(t, m.Connect(context.Background()))

	select {
	case <-ts.conns:
		t.Fatal("second Connect must not open a new connection")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectWhileReconnectingIsNoOp(t *testing.T) {
	ts := newTestServer(t)
	m := testManager(t, ts)

	m.mu.Lock()
	m.state = Reconnecting
	m.mu.Unlock()

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, Reconnecting, m.State())

	select {
	case <-ts.conns:
		t.Fatal("Connect must not dial while the backoff loop owns recovery")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEmitNotConnected(t *testing.T) {
	m := NewManager(Config{URL: "ws://127.0.0.1:0", Token: "tok", Reconnect: fastPolicy()})

	err := m.Emit("sendMessage", map[string]string{"text": "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEmitWritesFrame(t *testing.T) {
	ts := newTestServer(t)
	m := testManager(t, ts)

	require.NoError(t, m.Connect(context.Background()))
	server := ts.accept(t)

	require.NoError(t, m.Emit("sendMessage", map[string]string{"text": "hi"}))

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := server.ReadMessage()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "sendMessage", frame.Event)
	assert.JSONEq(t, `{"text":"hi"}`, string(frame.Data))
}

func TestSubscriptionRelease(t *testing.T) {
	ts := newTestServer(t)
	m := testManager(t, ts)

	var calls atomic.Int32
	sub := m.On("newMsg", func(json.RawMessage) { calls.Add(1) })
	sub.Release()
	sub.Release() // idempotent

	require.NoError(t, m.Connect(context.Background()))
	server := ts.accept(t)
	require.NoError(t, server.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"newMsg","data":{}}`)))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestReconnectAfterNetworkLoss(t *testing.T) {
	ts := newTestServer(t)
	m := testManager(t, ts)

	require.NoError(t, m.Connect(context.Background()))
	first := ts.accept(t)

	var reconnects atomic.Int32
	m.On(EventReconnected, func(json.RawMessage) { reconnects.Add(1) })

	// Sever the connection server-side; the manager must come back on its
	// own and announce exactly one reconnection.
	first.Close()
	ts.accept(t)
	waitFor(t, func() bool { return m.State() == Connected }, "manager did not reconnect")
	waitFor(t, func() bool { return reconnects.Load() == 1 }, "reconnected notification not dispatched")

	// The restored connection still delivers frames and accepts writes.
	require.NoError(t, m.Emit("sendMessage", map[string]string{"text": "back"}))
	assert.Equal(t, int32(1), reconnects.Load())
}

func TestDisconnectStopsReconnection(t *testing.T) {
	ts := newTestServer(t)
	m := testManager(t, ts)

	require.NoError(t, m.Connect(context.Background()))
	ts.accept(t)

	m.Disconnect()
	m.Disconnect() // idempotent
	assert.Equal(t, Disconnected, m.State())

	select {
	case <-ts.conns:
		t.Fatal("manager must not reconnect after Disconnect")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReconnectGivesUpAfterMaxRetries(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(Config{
		URL:   ts.url(),
		Token: "tok",
		Reconnect: ReconnectPolicy{
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     10 * time.Millisecond,
			MaxRetries:      2,
		},
	})
	t.Cleanup(m.Disconnect)

	require.NoError(t, m.Connect(context.Background()))
	server := ts.accept(t)

	// Take the backend away entirely so every retry fails.
	ts.server.CloseClientConnections()
	ts.server.Close()
	server.Close()

	waitFor(t, func() bool { return m.State() == Disconnected },
		"manager did not give up after max retries")
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	ts := newTestServer(t)
	m := testManager(t, ts)

	order := make(chan int, 2)
	m.On("newMsg", func(json.RawMessage) { order <- 1 })
	m.On("newMsg", func(json.RawMessage) { order <- 2 })

	require.NoError(t, m.Connect(context.Background()))
	server := ts.accept(t)
	require.NoError(t, server.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"newMsg","data":{}}`)))

	assert.Equal(t, 1, <-order)
	assert.Equal(t, 2, <-order)
}
