package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"messaging-core/internal/models"
)

// BackendMock doubles the REST client surface consumed by the core.
type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) CurrentUser(ctx context.Context) (models.User, error) {
	args := m.Called(ctx)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *BackendMock) Conversations(ctx context.Context, page int) ([]models.Conversation, error) {
	args := m.Called(ctx, page)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *BackendMock) DirectHistory(ctx context.Context, peerID string) ([]models.DirectMessagePayload, error) {
	args := m.Called(ctx, peerID)
	var msgs []models.DirectMessagePayload
	if val := args.Get(0); val != nil {
		msgs = val.([]models.DirectMessagePayload)
	}
	return msgs, args.Error(1)
}

func (m *BackendMock) RoomInfo(ctx context.Context, roomID string) (models.RoomInfo, error) {
	args := m.Called(ctx, roomID)
	var info models.RoomInfo
	if val := args.Get(0); val != nil {
		info = val.(models.RoomInfo)
	}
	return info, args.Error(1)
}

// PublisherMock doubles the observability event publisher.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	args := m.Called(ctx, routingKey, message, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
