package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectHistorySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages/peer-7", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages":[
			{"id":"m1","senderId":"peer-7","message":"hi","createdAt":"2026-01-02T10:00:00Z","isRead":false},
			{"id":"m2","senderId":"me","message":"hello","createdAt":"2026-01-02T10:00:05Z","isRead":true}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", nil)
	msgs, err := client.DirectHistory(context.Background(), "peer-7")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "hello", msgs[1].Message)
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "expired", nil)

	_, err := client.CurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = client.DirectHistory(context.Background(), "peer")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestServerErrorIsNotUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", nil)
	_, err := client.Conversations(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestRoomInfoCarriesSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms/general", r.URL.Path)
		w.Write([]byte(`{"id":"general","name":"General","secret":"room-pass"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", nil)
	info, err := client.RoomInfo(context.Background(), "general")
	require.NoError(t, err)
	assert.Equal(t, "room-pass", info.Secret)
}

func TestConversationsPageQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		w.Write([]byte(`{"conversations":[{"peerId":"p1","peerUsername":"alice"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", nil)
	convs, err := client.Conversations(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "alice", convs[0].PeerUsername)
}
