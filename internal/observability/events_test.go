package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-core/internal/mocks"
)

func TestPublishEventForwardsToPublisher(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	publisher.On("PublishJSON", mock.Anything, RoutingKeyRooms, mock.Anything, mock.Anything).Return(nil)
	SetPublisher(publisher)
	defer SetPublisher(nil)

	err := PublishEvent(context.Background(), RoutingKeyRooms, EventEnvelope{
		EventType: "channel_events",
		EventName: "room_join",
	}, BuildHeaders("conn-1", "trace-1"))

	require.NoError(t, err)
	publisher.AssertExpectations(t)
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), RoutingKeyChannel, EventEnvelope{}, nil))
}

func TestBuildHeaders(t *testing.T) {
	headers := BuildHeaders("conn-1", "trace-1")
	assert.Equal(t, "conn-1", headers["x-conn-id"])
	assert.Equal(t, "trace-1", headers["trace_id"])

	assert.Empty(t, BuildHeaders("", ""))
}
