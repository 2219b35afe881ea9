package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	// Connection metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_sessions",
			Help: "Live websocket sessions on this instance",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_online_users",
			Help: "Users with at least one session on this instance",
		},
	)

	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_inbound_events_total",
			Help: "Inbound events by type and outcome",
		},
		[]string{"type", "outcome"}, // "ok", "rejected", "failed"
	)

	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_emitted_total",
			Help: "Outbound events handed to the fan-out layer",
		},
		[]string{"type"},
	)

	// Messaging metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_sent_total",
			Help: "Messages persisted, by initial status",
		},
		[]string{"status"}, // "sent" or "delivered"
	)

	AutoReplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_auto_replies_total",
			Help: "Auto replies generated",
		},
	)

	MessagesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_messages_read_total",
			Help: "Messages transitioned to read",
		},
	)

	UnauthorizedSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_unauthorized_sends_total",
			Help: "Messages rejected by the contact gate",
		},
	)

	// Call metrics
	CallTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_call_transitions_total",
			Help: "Call state transitions by resulting status",
		},
		[]string{"status"},
	)

	SignalsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_signals_total",
			Help: "Call signals by outcome",
		},
		[]string{"outcome"}, // "relayed" or "dropped"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"event"},
	)
)
