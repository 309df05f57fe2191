package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream client metrics. Transport-scoped series are labelled with the
// transport name ("chat", "proactive").
var (
	// Connection metrics
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voice_stream_connection_state",
			Help: "Current connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		},
		[]string{"transport"},
	)

	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_stream_reconnect_attempts_total",
			Help: "Total number of scheduled reconnect attempts",
		},
		[]string{"transport"},
	)

	ReconnectsExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_stream_reconnects_exhausted_total",
			Help: "Total number of times reconnection gave up after max failures",
		},
		[]string{"transport"},
	)

	StaleSockets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_stream_stale_sockets_total",
			Help: "Total number of sockets dropped by the inactivity watchdog",
		},
		[]string{"transport"},
	)

	StreamResumes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_stream_resume_requests_total",
			Help: "Total number of stream_resume frames sent after reconnecting",
		},
		[]string{"transport"},
	)

	// Frame metrics
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_stream_frames_total",
			Help: "Total number of frames by direction",
		},
		[]string{"transport", "direction"}, // direction: inbound/outbound/queued
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voice_stream_offline_queue_depth",
			Help: "Number of outbound frames waiting for a ready connection",
		},
		[]string{"transport"},
	)

	// Dispatcher metrics
	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_stream_events_dispatched_total",
			Help: "Total number of inbound events routed to a handler",
		},
		[]string{"event"},
	)

	UnknownEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_stream_unknown_events_total",
			Help: "Total number of inbound frames with a missing or unknown type",
		},
	)

	ParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_stream_parse_failures_total",
			Help: "Total number of inbound frames that were not valid JSON",
		},
	)

	// Message lifecycle metrics
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_stream_sends_total",
			Help: "Total number of send_message outcomes",
		},
		[]string{"transport", "outcome"}, // outcome: acked/rejected/timeout/queued
	)

	StreamsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_stream_streams_ended_total",
			Help: "Total number of response streams that ended",
		},
		[]string{"transport", "outcome"}, // outcome: completed/cancelled/error
	)

	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_stream_notifications_dropped_total",
			Help: "Total number of notifications suppressed by dedup or session filtering",
		},
		[]string{"transport", "reason"},
	)

	// Development backend metrics
	GatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voice_stream_gateway_connections",
			Help: "Current number of websocket connections on the development backend",
		},
	)

	GatewayReplayedChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_stream_gateway_replayed_chunks_total",
			Help: "Total number of chunks replayed by the development backend on stream_resume",
		},
	)
)
