package models

import "time"

// User is the identity shape returned by the backend.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"userPP,omitempty"`
}

// Conversation is one row of the paginated conversation list.
type Conversation struct {
	PeerID       string    `json:"peerId"`
	PeerUsername string    `json:"peerUsername"`
	LastMessage  string    `json:"lastMessage,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RoomInfo is the room metadata document. Secret is the room's symmetric
// key material, distributed out of band by the backend; it is held in
// process memory only and must never be logged.
type RoomInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Secret string `json:"secret"`
}
