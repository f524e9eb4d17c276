// Package socket owns the single persistent bidirectional channel to the
// messaging backend. One Manager instance is shared by the direct sync and
// every room session; it is constructed explicitly and injected, never a
// package-level global.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messaging-core/internal/observability"
)

// EventReconnected is dispatched locally on every transition into
// Connected. The transport does not preserve room channel membership across
// a reconnect, so sessions subscribe to this to re-join their rooms.
const EventReconnected = "reconnected"

// ErrNotConnected is returned by Emit while the channel is down. Callers
// must surface it so an optimistic message can be marked failed instead of
// silently lost.
var ErrNotConnected = errors.New("socket: not connected")

var errClosed = errors.New("socket: manager closed")

// Frame is the wire format of every channel message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler receives the raw payload of one inbound frame. Handlers for the
// same connection run sequentially in frame-arrival order.
type Handler func(data json.RawMessage)

// Conn is the subset of *websocket.Conn the manager needs; tests substitute
// their own implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer establishes one channel connection. The default wraps the gorilla
// dialer.
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

func gorillaDial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ReconnectPolicy configures the exponential backoff applied between
// reconnection attempts after a network loss.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxRetries bounds consecutive failed attempts before the manager
	// gives up and reports Disconnected. Zero means retry indefinitely.
	MaxRetries uint64
}

// DefaultReconnectPolicy mirrors the backoff the backend tolerates well.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxRetries:      10,
	}
}

// Config parameterizes a Manager.
type Config struct {
	// URL is the websocket endpoint.
	URL string
	// Token is the bearer credential carried on the handshake.
	Token string
	// Reconnect is the backoff policy; zero value falls back to the default.
	Reconnect ReconnectPolicy
	// Dial overrides the transport, for tests. Nil uses gorilla.
	Dial Dialer
}

type handlerEntry struct {
	id int
	fn Handler
}

// Manager implements the shared channel: lazy connect, auth handshake,
// event subscription registry, best-effort emit and reconnection.
type Manager struct {
	cfg    Config
	dial   Dialer
	connID string

	mu      sync.Mutex
	state   State
	conn    Conn
	closing bool

	writeMu sync.Mutex

	hmu      sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   int
}

// NewManager builds a Manager; it does not connect.
func NewManager(cfg Config) *Manager {
	if cfg.Reconnect == (ReconnectPolicy{}) {
		cfg.Reconnect = DefaultReconnectPolicy()
	}
	dial := cfg.Dial
	if dial == nil {
		dial = gorillaDial
	}
	return &Manager{
		cfg:      cfg,
		dial:     dial,
		connID:   uuid.NewString(),
		handlers: make(map[string][]handlerEntry),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the channel. Idempotent: a no-op while Connected or
// Connecting, and while Reconnecting, where the backoff loop owns recovery.
// A second dial racing the backoff loop would leave two live read loops
// feeding the same handler registry.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = Connecting
	m.closing = false
	m.mu.Unlock()
	observability.SetConnectionState(Connecting.String())

	ctx, span := otel.Tracer("messaging-core/socket").Start(ctx, "channel.handshake")
	defer span.End()

	conn, err := m.handshake(ctx)
	if err != nil {
		m.setState(Disconnected)
		return fmt.Errorf("channel handshake: %w", err)
	}

	m.install(conn)
	m.publishLifecycle("channel_connect", "")
	return nil
}

// Disconnect tears the channel down. Safe to call multiple times; no
// reconnection is attempted afterwards until Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
		m.publishLifecycle("channel_disconnect", "")
	}
	m.setState(Disconnected)
}

// On registers a handler for a named inbound event and returns its release
// handle. Handlers fire at most once per frame, in registration order.
func (m *Manager) On(event string, handler Handler) *Subscription {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.nextID++
	id := m.nextID
	m.handlers[event] = append(m.handlers[event], handlerEntry{id: id, fn: handler})
	return &Subscription{manager: m, event: event, id: id}
}

func (m *Manager) off(event string, id int) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	entries := m.handlers[event]
	for i, e := range entries {
		if e.id == id {
			m.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(m.handlers[event]) == 0 {
		delete(m.handlers, event)
	}
}

// Emit sends one frame. It fails with ErrNotConnected while the channel is
// down; no queuing is attempted.
func (m *Manager) Emit(event string, payload interface{}) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if state != Connected || conn == nil {
		return fmt.Errorf("%w: cannot emit %q", ErrNotConnected, event)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	observability.IncChannelEvent(event, "out")
	return nil
}

func (m *Manager) handshake(ctx context.Context) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.cfg.Token)
	return m.dial(ctx, m.cfg.URL, header)
}

// install publishes the new connection and dispatches the reconnected
// notification. Fired on every transition into Connected.
func (m *Manager) install(conn Conn) {
	m.mu.Lock()
	old := m.conn
	m.conn = conn
	m.state = Connected
	m.mu.Unlock()
	if old != nil && old != conn {
		// A superseded connection must not keep its read loop alive.
		old.Close()
	}
	observability.SetConnectionState(Connected.String())

	go m.readLoop(conn)
	m.dispatch(EventReconnected, nil)
}

func (m *Manager) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()

			m.mu.Lock()
			if m.conn != conn {
				// Superseded by Disconnect or a newer connection.
				m.mu.Unlock()
				return
			}
			m.conn = nil
			closing := m.closing
			m.mu.Unlock()

			if closing {
				m.setState(Disconnected)
				return
			}
			log.Printf("channel: connection lost: %v", err)
			m.publishLifecycle("channel_drop", err.Error())
			m.reconnect()
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			log.Printf("channel: dropping malformed frame: %v", err)
			continue
		}
		observability.IncChannelEvent(frame.Event, "in")
		m.dispatch(frame.Event, frame.Data)
	}
}

func (m *Manager) reconnect() {
	m.setState(Reconnecting)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.Reconnect.InitialInterval
	policy.MaxInterval = m.cfg.Reconnect.MaxInterval
	policy.MaxElapsedTime = 0

	var strategy backoff.BackOff = policy
	if m.cfg.Reconnect.MaxRetries > 0 {
		strategy = backoff.WithMaxRetries(policy, m.cfg.Reconnect.MaxRetries)
	}

	attempt := func() error {
		m.mu.Lock()
		if m.closing {
			m.mu.Unlock()
			return backoff.Permanent(errClosed)
		}
		m.mu.Unlock()

		conn, err := m.handshake(context.Background())
		if err != nil {
			return err
		}

		m.mu.Lock()
		if m.closing {
			m.mu.Unlock()
			conn.Close()
			return backoff.Permanent(errClosed)
		}
		m.mu.Unlock()

		m.install(conn)
		return nil
	}

	if err := backoff.Retry(attempt, strategy); err != nil {
		// Reported, not fatal: the caller may Connect again later.
		log.Printf("channel: reconnect abandoned: %v", err)
		m.setState(Disconnected)
		m.publishLifecycle("channel_reconnect_failed", err.Error())
		return
	}

	observability.IncReconnect()
	m.publishLifecycle("channel_reconnect", "")
}

func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.hmu.RLock()
	entries := append([]handlerEntry(nil), m.handlers[event]...)
	m.hmu.RUnlock()

	for _, e := range entries {
		e.fn(data)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	observability.SetConnectionState(s.String())
}

func (m *Manager) publishLifecycle(name, reason string) {
	payload := map[string]interface{}{
		"channel": map[string]interface{}{
			"event":   name,
			"conn_id": m.connID,
			"reason":  reason,
		},
	}
	_ = observability.PublishEvent(context.Background(), observability.RoutingKeyChannel, observability.EventEnvelope{
		EventType: "channel_events",
		EventName: name,
		Payload:   payload,
	}, observability.BuildHeaders(m.connID, ""))
}
