// Package api is the REST side of the messaging backend: direct history,
// the conversation list, room metadata and the current-user identity. The
// channel side lives in internal/socket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"messaging-core/internal/models"
)

// ErrUnauthorized maps HTTP 401. It is surfaced to the external session
// collaborator; the core never retries or recovers from it.
var ErrUnauthorized = errors.New("api: unauthorized")

const defaultTimeout = 10 * time.Second

// Client is a bearer-authenticated HTTP client for the messaging backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a Client. A nil httpClient falls back to a default with
// a request timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// CurrentUser fetches the identity bound to the bearer credential.
func (c *Client) CurrentUser(ctx context.Context) (models.User, error) {
	var out models.User
	if err := c.get(ctx, "/api/users/me", nil, &out); err != nil {
		return models.User{}, err
	}
	return out, nil
}

// Conversations fetches one page of the conversation list.
func (c *Client) Conversations(ctx context.Context, page int) ([]models.Conversation, error) {
	var out struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	query := url.Values{"page": []string{strconv.Itoa(page)}}
	if err := c.get(ctx, "/api/conversations", query, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// DirectHistory fetches the full message history of the conversation with
// the given peer, oldest first.
func (c *Client) DirectHistory(ctx context.Context, peerID string) ([]models.DirectMessagePayload, error) {
	var out struct {
		Messages []models.DirectMessagePayload `json:"messages"`
	}
	if err := c.get(ctx, "/api/messages/"+url.PathEscape(peerID), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// RoomInfo fetches room metadata, including the room's symmetric key.
func (c *Client) RoomInfo(ctx context.Context, roomID string) (models.RoomInfo, error) {
	var out models.RoomInfo
	if err := c.get(ctx, "/api/rooms/"+url.PathEscape(roomID), nil, &out); err != nil {
		return models.RoomInfo{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, path)
	case resp.StatusCode >= 400:
		return fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}
