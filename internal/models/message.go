package models

import (
	"bytes"
	"strings"
	"time"
)

// ConversationKey identifies a conversation: either a normalized pair of
// user ids for a direct chat or a room id for a room chat.
type ConversationKey string

// DirectKey builds the key for a 1:1 conversation. The pair is unordered,
// so the two ids are normalized lexically before joining.
func DirectKey(a, b string) ConversationKey {
	if b < a {
		a, b = b, a
	}
	return ConversationKey("direct:" + a + ":" + b)
}

// RoomKey builds the key for a room conversation.
func RoomKey(roomID string) ConversationKey {
	return ConversationKey("room:" + roomID)
}

// IsRoom reports whether the key refers to a room conversation.
func (k ConversationKey) IsRoom() bool {
	return strings.HasPrefix(string(k), "room:")
}

// Message is one unit of conversation content. Content is always held as
// plaintext; room payloads are decrypted at the channel boundary.
type Message struct {
	// ID is assigned by the server once the message is persisted. Empty
	// while the message exists only as a local optimistic entry.
	ID string `json:"id,omitempty"`

	// CorrelationID is a client-generated id attached to every optimistic
	// send so the confirmed echo can be matched unambiguously.
	CorrelationID string `json:"correlation_id,omitempty"`

	ConversationKey ConversationKey `json:"conversation_key"`
	SenderID        string          `json:"sender_id"`
	SenderName      string          `json:"sender_name,omitempty"`
	Content         string          `json:"content"`
	Attachment      []byte          `json:"attachment,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`

	// Pending marks a message not yet acknowledged by the server.
	Pending bool `json:"pending"`
	// Read applies to direct messages only.
	Read bool `json:"read"`
	// Undecryptable marks a room message whose payload could not be
	// decrypted with the locally held key.
	Undecryptable bool `json:"undecryptable"`
}

// Confirmed reports whether the message has been acknowledged by the server.
func (m Message) Confirmed() bool {
	return m.ID != "" && !m.Pending
}

// Equal compares two messages structurally.
func (m Message) Equal(o Message) bool {
	return m.ID == o.ID &&
		m.CorrelationID == o.CorrelationID &&
		m.ConversationKey == o.ConversationKey &&
		m.SenderID == o.SenderID &&
		m.Content == o.Content &&
		bytes.Equal(m.Attachment, o.Attachment) &&
		m.CreatedAt.Equal(o.CreatedAt) &&
		m.Pending == o.Pending &&
		m.Read == o.Read &&
		m.Undecryptable == o.Undecryptable
}

// EqualMessages compares two message lists structurally, not just by
// length. Used to decide whether a poll snapshot actually changes state.
func EqualMessages(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
