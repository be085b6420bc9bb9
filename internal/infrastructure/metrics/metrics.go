package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Conversation gateway metrics
var (
	ChatTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdn",
			Subsystem: "conversation",
			Name:      "chat_turns_total",
			Help:      "Chat turn tasks by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	ChatTurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mdn",
			Subsystem: "conversation",
			Name:      "chat_turn_duration_seconds",
			Help:      "Wall time of one upstream streaming call",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdn",
			Subsystem: "conversation",
			Name:      "stream_events_total",
			Help:      "Normalized update events emitted by provider adapters",
		},
		[]string{"provider", "event"},
	)

	ToolRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdn",
			Subsystem: "conversation",
			Name:      "tool_runs_total",
			Help:      "Tool dispatches by tool name and outcome",
		},
		[]string{"tool", "status"},
	)

	ToolRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mdn",
			Subsystem: "conversation",
			Name:      "tool_run_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool"},
	)

	BroadcastEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdn",
			Subsystem: "conversation",
			Name:      "broadcast_events_total",
			Help:      "Events fanned out to conversation monitors",
		},
		[]string{"event"},
	)

	MonitorDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdn",
			Subsystem: "conversation",
			Name:      "monitor_drops_total",
			Help:      "Subscribers dropped during fan-out",
		},
		[]string{"reason"},
	)

	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mdn",
			Subsystem: "conversation",
			Name:      "websocket_connections",
			Help:      "Currently attached subscriber connections",
		},
	)

	TasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mdn",
			Subsystem: "conversation",
			Name:      "tasks_in_flight",
			Help:      "Background tasks currently running across all conversations",
		},
	)

	MCPToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdn",
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "MCP tool calls by tool name and outcome",
		},
		[]string{"tool", "status"},
	)

	ModelListTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdn",
			Subsystem: "conversation",
			Name:      "model_list_total",
			Help:      "Model catalog refreshes by provider and outcome",
		},
		[]string{"provider", "status"},
	)
)
