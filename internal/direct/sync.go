// Package direct keeps one consistent, deduplicated, time-ordered message
// list per 1:1 conversation by merging a polled REST snapshot with
// push-delivered channel events.
package direct

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"messaging-core/internal/compose"
	"messaging-core/internal/models"
	"messaging-core/internal/observability"
	"messaging-core/internal/socket"
)

// correlationWindow bounds the fallback match between a pending entry and
// a confirmed one when the backend does not echo the correlation id: same
// sender, same content, timestamps this close.
const correlationWindow = 2 * time.Minute

// HistoryFetcher is the REST side: the full direct-message history for one
// peer, oldest first. *api.Client satisfies it.
type HistoryFetcher interface {
	DirectHistory(ctx context.Context, peerID string) ([]models.DirectMessagePayload, error)
}

// Channel is the slice of the shared connection the sync needs.
// *socket.Manager satisfies it.
type Channel interface {
	Emit(event string, payload interface{}) error
	On(event string, handler socket.Handler) *socket.Subscription
}

// PollPolicy configures the REST polling loop.
type PollPolicy struct {
	// Interval between polls.
	Interval time.Duration
	// Jitter adds a uniform random delay in [0, Jitter) to each wait.
	Jitter time.Duration
	// MaxFailures stops polling after this many consecutive transport
	// failures. Zero keeps polling forever.
	MaxFailures int
}

// DefaultPollPolicy matches the backend's expected fetch cadence.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Interval: 4 * time.Second, Jitter: 500 * time.Millisecond}
}

// Config parameterizes a Sync.
type Config struct {
	Self    models.User
	PeerID  string
	Token   string
	Channel Channel
	Backend HistoryFetcher
	Policy  PollPolicy
	// OnUpdate is invoked with a copy of the list whenever visible state
	// changes. Optional.
	OnUpdate func([]models.Message)
}

// Sync reconciles poll snapshots and push events for one conversation.
type Sync struct {
	cfg Config
	key models.ConversationKey

	mu       sync.Mutex
	msgs     []models.Message
	failures int

	sub       *socket.Subscription
	done      chan struct{}
	closeOnce sync.Once
}

// NewSync builds a Sync for the conversation with cfg.PeerID.
func NewSync(cfg Config) *Sync {
	if cfg.Policy.Interval <= 0 {
		cfg.Policy = DefaultPollPolicy()
	}
	return &Sync{
		cfg:  cfg,
		key:  models.DirectKey(cfg.Self.ID, cfg.PeerID),
		done: make(chan struct{}),
	}
}

// Start subscribes to push events and begins polling. The first poll fires
// immediately.
func (s *Sync) Start(ctx context.Context) {
	s.sub = s.cfg.Channel.On(models.EventNewMsg, s.handlePush)
	go s.pollLoop(ctx)
}

// Close tears down the polling timer and the push subscription. Safe to
// call multiple times; required on conversation teardown so neither leaks
// across navigations.
func (s *Sync) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sub.Release()
	})
}

// Messages returns a copy of the current ordered list.
func (s *Sync) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Send creates an optimistic pending message, surfaces it immediately, then
// emits it over the channel. The returned message is always the local
// entry; a non-nil error (socket.ErrNotConnected in particular) means the
// entry is stuck pending and the caller must surface the failure. Sends are
// never retried automatically.
func (s *Sync) Send(content string) (models.Message, error) {
	trimmed, err := compose.Compose(content, nil, compose.Direct)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		CorrelationID:   uuid.NewString(),
		ConversationKey: s.key,
		SenderID:        s.cfg.Self.ID,
		SenderName:      s.cfg.Self.Username,
		Content:         trimmed,
		CreatedAt:       time.Now(),
		Pending:         true,
	}

	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	s.notify()

	err = s.cfg.Channel.Emit(models.EventSendMessage, models.SendDirectPayload{
		Participants:  [2]string{s.cfg.Self.ID, s.cfg.PeerID},
		ReceiverID:    s.cfg.PeerID,
		Text:          trimmed,
		CorrelationID: msg.CorrelationID,
		Token:         s.cfg.Token,
	})
	if err != nil {
		return msg, err
	}
	return msg, nil
}

func (s *Sync) pollLoop(ctx context.Context) {
	for {
		if !s.poll(ctx) {
			return
		}

		wait := s.cfg.Policy.Interval
		if s.cfg.Policy.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(s.cfg.Policy.Jitter)))
		}

		select {
		case <-time.After(wait):
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// poll fetches one snapshot and reconciles it. Returns false once polling
// must stop.
func (s *Sync) poll(ctx context.Context) bool {
	payloads, err := s.cfg.Backend.DirectHistory(ctx, s.cfg.PeerID)
	if err != nil {
		// Availability over freshness: keep the previous good list.
		observability.IncPoll("error")
		log.Printf("direct: poll failed peer=%s: %v", s.cfg.PeerID, err)

		s.mu.Lock()
		s.failures++
		failures := s.failures
		s.mu.Unlock()

		if s.cfg.Policy.MaxFailures > 0 && failures >= s.cfg.Policy.MaxFailures {
			log.Printf("direct: polling stopped peer=%s after %d consecutive failures", s.cfg.PeerID, failures)
			_ = observability.PublishEvent(ctx, observability.RoutingKeyDirect, observability.EventEnvelope{
				EventType: "channel_events",
				EventName: "direct_poll_stopped",
				Payload:   map[string]interface{}{"peer_id": s.cfg.PeerID, "failures": failures},
			}, nil)
			return false
		}
		return true
	}

	observability.IncPoll("success")
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()

	s.reconcile(s.fromPayloads(payloads))
	return true
}

// reconcile replaces the list with the snapshot, keeping local pending
// entries the snapshot has not confirmed yet. The list only changes, and
// observers only fire, when the merged result differs structurally.
func (s *Sync) reconcile(snapshot []models.Message) {
	s.mu.Lock()
	merged := snapshot
	for _, m := range s.msgs {
		if m.Pending && !confirms(snapshot, m) {
			merged = append(merged, m)
		}
	}
	changed := !models.EqualMessages(s.msgs, merged)
	if changed {
		s.msgs = merged
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	s.markRead(snapshot)
}

func (s *Sync) handlePush(data json.RawMessage) {
	var payload models.DirectMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Printf("direct: dropping malformed push: %v", err)
		return
	}
	if err := payload.Validate(); err != nil {
		log.Printf("direct: dropping invalid push: %v", err)
		return
	}
	// The shared channel carries every conversation's traffic; only this
	// pair's messages belong in this list.
	if payload.SenderID != s.cfg.PeerID && payload.SenderID != s.cfg.Self.ID {
		return
	}
	msg := s.fromPayload(payload)

	s.mu.Lock()
	for _, existing := range s.msgs {
		if existing.ID == msg.ID {
			// Already known through an earlier poll or push.
			s.mu.Unlock()
			return
		}
	}
	if i := s.pendingIndex(msg); i >= 0 {
		s.msgs[i] = msg
	} else {
		s.msgs = append(s.msgs, msg)
	}
	s.mu.Unlock()

	s.notify()
	if msg.SenderID == s.cfg.PeerID {
		s.emitMarkRead()
	}
}

// pendingIndex finds the optimistic entry the confirmed message supersedes.
// Caller holds s.mu.
func (s *Sync) pendingIndex(confirmed models.Message) int {
	for i, m := range s.msgs {
		if !m.Pending {
			continue
		}
		if matches(confirmed, m) {
			return i
		}
	}
	return -1
}

// confirms reports whether the snapshot contains the confirmed form of the
// pending entry.
func confirms(snapshot []models.Message, pending models.Message) bool {
	for _, m := range snapshot {
		if matches(m, pending) {
			return true
		}
	}
	return false
}

// matches pairs a confirmed message with a pending one: by correlation id
// when the backend echoes it, otherwise by sender, content and a bounded
// time distance.
func matches(confirmed, pending models.Message) bool {
	if confirmed.CorrelationID != "" {
		return confirmed.CorrelationID == pending.CorrelationID
	}
	if confirmed.SenderID != pending.SenderID || confirmed.Content != pending.Content {
		return false
	}
	delta := confirmed.CreatedAt.Sub(pending.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= correlationWindow
}

// markRead emits the read receipt when the history carries unread messages
// from the peer.
func (s *Sync) markRead(snapshot []models.Message) {
	for _, m := range snapshot {
		if m.SenderID == s.cfg.PeerID && !m.Read {
			s.emitMarkRead()
			return
		}
	}
}

func (s *Sync) emitMarkRead() {
	// Best effort: a down channel just means the receipt waits for the
	// next history fetch.
	_ = s.cfg.Channel.Emit(models.EventMessageRead, models.MarkReadPayload{
		OtherUserID: s.cfg.PeerID,
		Token:       s.cfg.Token,
	})
}

func (s *Sync) fromPayloads(payloads []models.DirectMessagePayload) []models.Message {
	msgs := make([]models.Message, 0, len(payloads))
	for _, p := range payloads {
		if err := p.Validate(); err != nil {
			log.Printf("direct: dropping invalid history entry: %v", err)
			continue
		}
		msgs = append(msgs, s.fromPayload(p))
	}
	// Non-decreasing by createdAt, ties broken by arrival order.
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs
}

func (s *Sync) fromPayload(p models.DirectMessagePayload) models.Message {
	return models.Message{
		ID:              p.ID,
		CorrelationID:   p.CorrelationID,
		ConversationKey: s.key,
		SenderID:        p.SenderID,
		Content:         p.Message,
		CreatedAt:       p.CreatedAt,
		Read:            p.IsRead,
	}
}

func (s *Sync) notify() {
	if s.cfg.OnUpdate == nil {
		return
	}
	s.cfg.OnUpdate(s.Messages())
}
