package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertsCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "alerts_created_total", Help: "Total emergency alerts created"})
	AlertsAssigned = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "alerts_assigned_total", Help: "Total successful ambulance assignments"})
	AlertsResolved = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "alerts_resolved_total", Help: "Total alerts resolved"})
	AssignConflict = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "assign_conflicts_total", Help: "Assignments rejected because the unit was no longer available"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "emergency_dispatch", Name: "ws_connections", Help: "Open realtime connections"})
	ChatUsers     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "emergency_dispatch", Name: "chat_users", Help: "Connected chat end users"})
	ChatAgents    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "emergency_dispatch", Name: "chat_agents", Help: "Connected support agents"})

	BroadcastsSent  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "ws_broadcasts_total", Help: "Realtime frames fanned out, by kind"}, []string{"kind"})
	FramesDropped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "ws_frames_dropped_total", Help: "Malformed inbound frames dropped"})
	SendFailures    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "ws_send_failures_total", Help: "Per-recipient send failures during fan-out"})
	MessagesChatted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "chat_messages_total", Help: "Chat messages routed"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "emergency_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
