package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the collaborative whiteboard server.
// Declared in one package to keep metrics close to business logic
// and avoid coupling between packages.
//
// Naming convention: namespace_subsystem_name
// - namespace: collabboard (application-level grouping)
// - subsystem: websocket, room, board, presence (feature-level grouping)
// - name: specific metric (connections_active, messages_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, participants)
// - Counter: Cumulative events (messages processed, errors)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections (Gauge - current state)
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collabboard",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collabboard",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the number of participants in each room (GaugeVec with room_id label - current state per room)
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collabboard",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room_id"})

	// RoomsCreated counts room creations over the process lifetime.
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collabboard",
		Subsystem: "room",
		Name:      "created_total",
		Help:      "Total rooms created",
	})

	// RoomsDeleted counts rooms removed after their grace period.
	RoomsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collabboard",
		Subsystem: "room",
		Name:      "deleted_total",
		Help:      "Total rooms deleted after the empty grace period",
	})

	// WebsocketMessages tracks the total number of WebSocket messages processed (CounterVec - cumulative)
	WebsocketMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabboard",
		Subsystem: "websocket",
		Name:      "messages_total",
		Help:      "Total WebSocket messages processed",
	}, []string{"message_type", "status"})

	// MessageSizeBytes tracks the size of inbound WebSocket frames.
	MessageSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "collabboard",
		Subsystem: "websocket",
		Name:      "message_size_bytes",
		Help:      "Size of inbound WebSocket frames",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
	})

	// MessageProcessingDuration tracks the time spent processing WebSocket messages (HistogramVec - latency distribution)
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collabboard",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"message_type"})

	// StrokeActions counts accepted drawing mutations by action (start/add/end/move).
	StrokeActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabboard",
		Subsystem: "board",
		Name:      "stroke_actions_total",
		Help:      "Total accepted stroke mutations",
	}, []string{"action"})

	// StrokesEvicted counts strokes dropped by the per-room history bound.
	StrokesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collabboard",
		Subsystem: "board",
		Name:      "strokes_evicted_total",
		Help:      "Total strokes evicted from room history FIFO",
	})

	// CursorUpdates counts cursor moves by outcome (ok, limited, muted).
	CursorUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabboard",
		Subsystem: "presence",
		Name:      "cursor_updates_total",
		Help:      "Total cursor updates by outcome",
	}, []string{"status"})

	// Mutes counts users muted for repeated rate-limit violations.
	Mutes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collabboard",
		Subsystem: "presence",
		Name:      "mutes_total",
		Help:      "Total rate-limit mutes applied",
	})

	// ErrorsSent counts error frames sent to clients by code.
	ErrorsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabboard",
		Subsystem: "websocket",
		Name:      "errors_sent_total",
		Help:      "Total error frames sent to clients",
	}, []string{"code"})

	// ConnectLimitExceeded counts WebSocket connection attempts rejected by the per-IP limiter.
	ConnectLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collabboard",
		Subsystem: "websocket",
		Name:      "connect_limit_exceeded_total",
		Help:      "Total connection attempts rejected by the per-IP limiter",
	})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
