package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "messaging_connection_state",
			Help: "Current connection state of the shared channel (1 for the active state).",
		},
		[]string{"state"},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_reconnects_total",
			Help: "Total number of successful channel reconnections.",
		},
	)
	channelEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_channel_events_total",
			Help: "Total number of channel frames by event name and direction.",
		},
		[]string{"event", "direction"},
	)
	pollRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_poll_requests_total",
			Help: "Total number of direct-history poll requests by result.",
		},
		[]string{"result"},
	)
	decryptFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_decrypt_failures_total",
			Help: "Total number of inbound room payloads that failed to decrypt.",
		},
	)
	activeRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_active_rooms",
			Help: "Number of room sessions currently joined.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		connectionState,
		reconnectsTotal,
		channelEventsTotal,
		pollRequestsTotal,
		decryptFailuresTotal,
		activeRooms,
		amqpPublishErrorsTotal,
	)
}

var knownStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// SetConnectionState marks the active state gauge, zeroing the others.
func SetConnectionState(state string) {
	for _, s := range knownStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		connectionState.WithLabelValues(s).Set(value)
	}
}

func IncReconnect() {
	reconnectsTotal.Inc()
}

func IncChannelEvent(event, direction string) {
	channelEventsTotal.WithLabelValues(event, direction).Inc()
}

func IncPoll(result string) {
	pollRequestsTotal.WithLabelValues(result).Inc()
}

func IncDecryptFailure() {
	decryptFailuresTotal.Inc()
}

func IncActiveRooms() {
	activeRooms.Inc()
}

func DecActiveRooms() {
	activeRooms.Dec()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
