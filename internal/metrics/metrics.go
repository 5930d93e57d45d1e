// Package metrics provides Prometheus instrumentation for the hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manlab_http_requests_total",
		Help: "Total number of REST façade requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "manlab_http_request_duration_seconds",
		Help:    "REST façade request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Agent session metrics.
var (
	NodesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "manlab_nodes_online",
		Help: "Number of nodes currently Online.",
	})

	AgentSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "manlab_agent_sessions_active",
		Help: "Number of currently connected agent sessions.",
	})

	DashboardSubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "manlab_dashboard_subscribers_active",
		Help: "Number of currently connected dashboard subscribers.",
	})

	HeartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manlab_heartbeats_total",
		Help: "Total heartbeats received, by outcome.",
	}, []string{"outcome"})
)

// Command dispatcher metrics.
var (
	CommandsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manlab_commands_enqueued_total",
		Help: "Total commands enqueued, by type.",
	}, []string{"type"})

	CommandsTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manlab_commands_terminal_total",
		Help: "Total commands reaching a terminal state, by status.",
	}, []string{"status"})

	CommandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "manlab_command_queue_depth",
		Help: "Commands currently in Queued or Sent or InProgress across all nodes.",
	})
)

// Streaming metrics.
var (
	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "manlab_streams_active",
		Help: "Number of currently open StreamingDownloads.",
	})

	StreamBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "manlab_stream_bytes_total",
		Help: "Total bytes delivered across all streams.",
	})
)

// Tool session metrics.
var (
	ToolSessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "manlab_tool_sessions_active",
		Help: "Currently open tool sessions, by kind.",
	}, []string{"kind"})
)

// Scheduler and telemetry metrics.
var (
	MonitorRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manlab_monitor_runs_total",
		Help: "Total monitor job runs, by family and outcome.",
	}, []string{"family", "outcome"})

	ProcessAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manlab_process_alerts_total",
		Help: "Total process alerts published, by kind.",
	}, []string{"kind"})
)

// Memory-pressure metrics.
var (
	MemoryPressureRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "manlab_memory_pressure_ratio",
		Help: "Last-sampled system memory usage as a fraction of total memory.",
	})

	MemoryCleanupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manlab_memory_cleanups_total",
		Help: "Total cleanup passes triggered, by severity.",
	}, []string{"severity"})
)
