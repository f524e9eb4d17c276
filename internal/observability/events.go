package observability

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// Routing keys for channel lifecycle events.
const (
	RoutingKeyChannel = "channel_events"
	RoutingKeyRooms   = "channel_events.rooms"
	RoutingKeyDirect  = "channel_events.direct"
)

func BuildHeaders(connID, traceID string) map[string]string {
	headers := map[string]string{}
	if connID != "" {
		headers["x-conn-id"] = connID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
