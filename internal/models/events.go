package models

import (
	"errors"
	"time"
)

// Channel event names. Inbound and outbound frames are tagged with one of
// these; payload shapes are the typed structs below, validated at the
// boundary before entering the core.
const (
	EventSendMessage       = "sendMessage"
	EventNewMsg            = "newMsg"
	EventMessageRead       = "message:read"
	EventNewUser           = "newUser"
	EventNewMessage        = "newMessage"
	EventNewMessageAll     = "newMessageAll"
	EventUpdateOnlineUsers = "updateOnlineUsers"
	EventQuitRoom          = "quitRoom"
)

// DirectMessagePayload mirrors the backend "newMsg" frame: a confirmed
// direct message.
type DirectMessagePayload struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"senderId"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"createdAt"`
	IsRead        bool      `json:"isRead"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// Validate checks the payload before it enters the message log.
func (p DirectMessagePayload) Validate() error {
	if p.ID == "" {
		return errors.New("direct message payload: missing id")
	}
	if p.SenderID == "" {
		return errors.New("direct message payload: missing sender")
	}
	return nil
}

// SendDirectPayload is the outbound "sendMessage" frame for direct chats.
type SendDirectPayload struct {
	Participants  [2]string `json:"participants"`
	ReceiverID    string    `json:"receiverId"`
	Text          string    `json:"text"`
	CorrelationID string    `json:"correlationId"`
	Token         string    `json:"token"`
}

// MarkReadPayload is the outbound "message:read" frame.
type MarkReadPayload struct {
	OtherUserID string `json:"otherUserId"`
	Token       string `json:"token"`
}

// RoomSender identifies the author of a room broadcast.
type RoomSender struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	UserPP   string `json:"userPP,omitempty"`
}

// RoomMessagePayload mirrors the "newMessage"/"newMessageAll" broadcast
// frames. Content and Image are ciphertext on the wire.
type RoomMessagePayload struct {
	Sender    RoomSender `json:"sender"`
	Content   string     `json:"content"`
	Image     string     `json:"image,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Validate checks the payload before decryption is attempted.
func (p RoomMessagePayload) Validate() error {
	if p.Sender.UserID == "" && p.Sender.Username == "" {
		return errors.New("room message payload: missing sender")
	}
	if p.Content == "" && p.Image == "" {
		return errors.New("room message payload: empty body")
	}
	return nil
}

// SendRoomPayload is the outbound "sendMessage" frame for rooms. Content
// and Image carry ciphertext.
type SendRoomPayload struct {
	RoomID        string `json:"roomId"`
	UserID        string `json:"userId"`
	Username      string `json:"username"`
	Content       string `json:"content,omitempty"`
	Image         string `json:"image,omitempty"`
	CorrelationID string `json:"correlationId"`
	Token         string `json:"token"`
}

// RoomAnnouncePayload is the "newUser"/"quitRoom" join and leave frame.
type RoomAnnouncePayload struct {
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

// PresenceSnapshotPayload is the "updateOnlineUsers" frame: the full set of
// participants currently online in one room.
type PresenceSnapshotPayload struct {
	RoomID string   `json:"roomId"`
	Users  []string `json:"users"`
}
