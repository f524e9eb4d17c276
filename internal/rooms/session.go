// Package rooms implements the encrypted room channel: join/leave, message
// encryption and decryption under the room key, an ordered local log, and
// automatic re-join after a reconnect.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"messaging-core/internal/compose"
	"messaging-core/internal/models"
	"messaging-core/internal/observability"
	"messaging-core/internal/presence"
	"messaging-core/internal/roomcrypt"
	"messaging-core/internal/socket"
)

// ErrNotJoined is returned by Send before Join or after Leave.
var ErrNotJoined = errors.New("rooms: not joined")

// MetadataFetcher is the REST side: room metadata including the room's
// symmetric key. *api.Client satisfies it.
type MetadataFetcher interface {
	RoomInfo(ctx context.Context, roomID string) (models.RoomInfo, error)
}

// Channel is the slice of the shared connection the session needs.
// *socket.Manager satisfies it.
type Channel interface {
	Emit(event string, payload interface{}) error
	On(event string, handler socket.Handler) *socket.Subscription
}

// Config parameterizes a Session.
type Config struct {
	RoomID  string
	Self    models.User
	Token   string
	Channel Channel
	Backend MetadataFetcher
	Tracker *presence.Tracker
	// OnUpdate is invoked with a copy of the log whenever it grows. Optional.
	OnUpdate func([]models.Message)
}

// Session is the per-room state: the derived room key, the ordered message
// log and the channel subscriptions. The key is fetched at join time, held
// only in process memory, and dropped on leave.
type Session struct {
	cfg Config
	key models.ConversationKey

	mu     sync.Mutex
	codec  *roomcrypt.Codec
	msgs   []models.Message
	subs   []*socket.Subscription
	joined bool
}

// NewSession builds a Session for one room.
func NewSession(cfg Config) *Session {
	return &Session{cfg: cfg, key: models.RoomKey(cfg.RoomID)}
}

// Join fetches room metadata, derives the room key, subscribes to the
// room's broadcast events and announces this participant. Idempotent while
// joined. Membership is severed by any disconnect, so the session
// re-announces itself whenever the channel reports a reconnect.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ctx, span := otel.Tracer("messaging-core/rooms").Start(ctx, "room.join")
	defer span.End()

	info, err := s.cfg.Backend.RoomInfo(ctx, s.cfg.RoomID)
	if err != nil {
		return fmt.Errorf("fetch room metadata: %w", err)
	}
	codec, err := roomcrypt.New(info.Secret)
	if err != nil {
		return fmt.Errorf("derive room key: %w", err)
	}

	s.mu.Lock()
	s.codec = codec
	s.subs = []*socket.Subscription{
		s.cfg.Channel.On(models.EventNewMessage, s.handleBroadcast),
		s.cfg.Channel.On(models.EventNewMessageAll, s.handleBroadcast),
		s.cfg.Channel.On(models.EventUpdateOnlineUsers, s.handlePresenceSnapshot),
		s.cfg.Channel.On(models.EventNewUser, s.handleUserJoined),
		s.cfg.Channel.On(models.EventQuitRoom, s.handleUserLeft),
		s.cfg.Channel.On(socket.EventReconnected, s.handleReconnected),
	}
	s.joined = true
	s.mu.Unlock()

	s.announce()
	observability.IncActiveRooms()
	_ = observability.PublishEvent(ctx, observability.RoutingKeyRooms, observability.EventEnvelope{
		EventType: "channel_events",
		EventName: "room_join",
		Payload:   map[string]interface{}{"room_id": s.cfg.RoomID, "user_id": s.cfg.Self.ID},
	}, nil)
	return nil
}

// Leave announces departure, releases every subscription and drops the room
// key and presence state. The message log survives until the session itself
// is discarded. Must be called on teardown to avoid leaking presence
// server-side.
func (s *Session) Leave() {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return
	}
	subs := s.subs
	s.subs = nil
	s.codec = nil
	s.joined = false
	s.mu.Unlock()

	// Best effort: a down channel already severed membership server-side.
	_ = s.cfg.Channel.Emit(models.EventQuitRoom, models.RoomAnnouncePayload{
		Username: s.cfg.Self.Username,
		RoomID:   s.cfg.RoomID,
	})

	for _, sub := range subs {
		sub.Release()
	}
	s.cfg.Tracker.Clear(s.cfg.RoomID)
	observability.DecActiveRooms()
	_ = observability.PublishEvent(context.Background(), observability.RoutingKeyRooms, observability.EventEnvelope{
		EventType: "channel_events",
		EventName: "room_leave",
		Payload:   map[string]interface{}{"room_id": s.cfg.RoomID, "user_id": s.cfg.Self.ID},
	}, nil)
}

// Send encrypts content and attachment independently under the room key
// and emits them. The message is not appended locally; it comes back
// through the broadcast like any other participant's message. A non-nil
// error (socket.ErrNotConnected in particular) means nothing was sent.
func (s *Session) Send(content string, attachment []byte) error {
	s.mu.Lock()
	codec := s.codec
	joined := s.joined
	s.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}

	trimmed, err := compose.Compose(content, attachment, compose.Room)
	if err != nil {
		return err
	}

	var cipherContent, cipherImage string
	if trimmed != "" {
		if cipherContent, err = codec.EncryptString(trimmed); err != nil {
			return fmt.Errorf("encrypt content: %w", err)
		}
	}
	if len(attachment) > 0 {
		if cipherImage, err = codec.Encrypt(attachment); err != nil {
			return fmt.Errorf("encrypt attachment: %w", err)
		}
	}

	return s.cfg.Channel.Emit(models.EventSendMessage, models.SendRoomPayload{
		RoomID:        s.cfg.RoomID,
		UserID:        s.cfg.Self.ID,
		Username:      s.cfg.Self.Username,
		Content:       cipherContent,
		Image:         cipherImage,
		CorrelationID: uuid.NewString(),
		Token:         s.cfg.Token,
	})
}

// Messages returns a copy of the log, in channel-arrival order.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// OnlineCount reports the current presence set size for this room.
func (s *Session) OnlineCount() int {
	return s.cfg.Tracker.Count(s.cfg.RoomID)
}

func (s *Session) announce() {
	err := s.cfg.Channel.Emit(models.EventNewUser, models.RoomAnnouncePayload{
		Username: s.cfg.Self.Username,
		RoomID:   s.cfg.RoomID,
	})
	if err != nil {
		// The next reconnect notification re-announces.
		log.Printf("rooms: join announce failed room=%s: %v", s.cfg.RoomID, err)
	}
}

func (s *Session) handleReconnected(json.RawMessage) {
	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()
	if joined {
		s.announce()
	}
}

// handleBroadcast decrypts one inbound room message. A payload that cannot
// be decrypted becomes a visible placeholder entry instead of dropping the
// message or failing the session.
func (s *Session) handleBroadcast(data json.RawMessage) {
	var payload models.RoomMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Printf("rooms: dropping malformed broadcast room=%s: %v", s.cfg.RoomID, err)
		return
	}
	if err := payload.Validate(); err != nil {
		log.Printf("rooms: dropping invalid broadcast room=%s: %v", s.cfg.RoomID, err)
		return
	}

	s.mu.Lock()
	codec := s.codec
	s.mu.Unlock()
	if codec == nil {
		return
	}

	msg := models.Message{
		ConversationKey: s.key,
		SenderID:        payload.Sender.UserID,
		SenderName:      payload.Sender.Username,
		CreatedAt:       payload.CreatedAt,
	}

	content, err := codec.DecryptString(payload.Content)
	attachment, attErr := codec.Decrypt(payload.Image)
	if err != nil || attErr != nil {
		observability.IncDecryptFailure()
		msg.Undecryptable = true
	} else {
		msg.Content = content
		msg.Attachment = attachment
	}

	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handlePresenceSnapshot(data json.RawMessage) {
	var payload models.PresenceSnapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Printf("rooms: dropping malformed presence snapshot: %v", err)
		return
	}
	if payload.RoomID != "" && payload.RoomID != s.cfg.RoomID {
		return
	}
	s.cfg.Tracker.Snapshot(s.cfg.RoomID, payload.Users)
}

func (s *Session) handleUserJoined(data json.RawMessage) {
	var payload models.RoomAnnouncePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if payload.RoomID == s.cfg.RoomID {
		s.cfg.Tracker.Join(s.cfg.RoomID, payload.Username)
	}
}

func (s *Session) handleUserLeft(data json.RawMessage) {
	var payload models.RoomAnnouncePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if payload.RoomID == s.cfg.RoomID {
		s.cfg.Tracker.Leave(s.cfg.RoomID, payload.Username)
	}
}

func (s *Session) notify() {
	if s.cfg.OnUpdate == nil {
		return
	}
	s.cfg.OnUpdate(s.Messages())
}
