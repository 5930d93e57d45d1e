package protocol

import "encoding/json"

// RegisterPayload is sent by an agent on connect (§4.1 Register).
type RegisterPayload struct {
	Hostname          string          `json:"hostname"`
	OS                string          `json:"os"` // "linux" or "windows"
	AgentVersion      string          `json:"agent_version"`
	IP                string          `json:"ip,omitempty"`
	MAC               string          `json:"mac,omitempty"`
	PrimaryInterface  string          `json:"primary_interface,omitempty"`
	Capabilities      json.RawMessage `json:"capabilities,omitempty"`
	HeartbeatInterval int             `json:"heartbeat_interval_s,omitempty"`
}

// RegisteredPayload confirms registration and hands back the node id.
type RegisteredPayload struct {
	NodeID string `json:"node_id"`
}

// HeartbeatPayload carries a telemetry sample (§4.6).
type HeartbeatPayload struct {
	Timestamp     string          `json:"timestamp"`
	CPU           float64         `json:"cpu"`
	RAM           float64         `json:"ram"`
	Disk          float64         `json:"disk,omitempty"`
	TempC         float64         `json:"temp_c,omitempty"`
	NetRxBps      float64         `json:"net_rx_bps,omitempty"`
	NetTxBps      float64         `json:"net_tx_bps,omitempty"`
	PingMs        float64         `json:"ping_ms,omitempty"`
	TopProcesses  []ProcessUsage  `json:"top_processes,omitempty"`
	HardwareBlock json.RawMessage `json:"hardware,omitempty"` // SMART/GPU/UPS, opaque
}

// ProcessUsage is one entry of a heartbeat's TopProcesses list (§4.6).
type ProcessUsage struct {
	PID     int     `json:"pid"`
	Name    string  `json:"name"`
	CPU     float64 `json:"cpu"`
	RAMMB   float64 `json:"ram_mb"`
	Kind    string  `json:"kind,omitempty"` // e.g. "cpu_high", "ram_high"
}

// CommandPayload is the hub→agent push for a queued command (§4.2).
type CommandPayload struct {
	CommandID string          `json:"command_id"`
	Type      CommandType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// CommandStatusPayload is the agent→hub status callback (§4.1 OnCommandStatus).
type CommandStatusPayload struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"` // "inProgress" | "success" | "failed" | "cancelled"
	Logs      string `json:"logs,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CancelCommandPayload is the hub→agent best-effort cancellation push.
type CancelCommandPayload struct {
	CommandID string `json:"command_id"`
}

// SnapshotsPayload wraps an opaque array of snapshot rows (service status,
// SMART, GPU, UPS). The hub performs no schema enforcement beyond this
// envelope, per spec.md §9's open question on opaque snapshot payloads.
type SnapshotsPayload struct {
	Snapshots []json.RawMessage `json:"snapshots"`
}

// TerminalOutputPayload streams terminal bytes keyed by session id.
type TerminalOutputPayload struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"` // base64 or raw UTF-8 chunk
	IsError   bool   `json:"is_error,omitempty"`
}

// StreamChunkPayload carries one chunk of a StreamingDownload (§4.3).
type StreamChunkPayload struct {
	StreamID string `json:"stream_id"`
	Seq      uint64 `json:"seq"`
	Data     []byte `json:"data"`
}

// StreamCompletePayload signals a clean end of stream.
type StreamCompletePayload struct {
	StreamID   string `json:"stream_id"`
	TotalBytes int64  `json:"total_bytes"`
}

// StreamErrorPayload signals an end of stream carrying an error/cancellation.
type StreamErrorPayload struct {
	StreamID string `json:"stream_id"`
	Reason   string `json:"reason"` // e.g. "cancelled", "agent_error"
	Message  string `json:"message,omitempty"`
}

// RequestTelemetryPayload is an out-of-band telemetry prompt (§4.1).
type RequestTelemetryPayload struct{}

// RequestPingPayload is an out-of-band ping prompt (§4.1).
type RequestPingPayload struct{}
