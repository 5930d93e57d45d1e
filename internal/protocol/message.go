// Package protocol defines the wire messages shared between the hub and the
// two kinds of WebSocket client it accepts: agents (§6 agent↔hub) and
// dashboards (§6 dashboard↔hub). Both directions share the same envelope;
// ParsePayload fails fast on malformed bodies rather than on unknown message
// types, since an unknown type is routed by the caller, not by Message itself.
package protocol

import "encoding/json"

// Message is the envelope for every WebSocket frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage marshals payload into a Message envelope of the given type.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Payload: data}, nil
}

// ParsePayload unmarshals the envelope's payload into target.
func (m *Message) ParsePayload(target any) error {
	return json.Unmarshal(m.Payload, target)
}

// Encode marshals the message to its wire form.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Agent → hub message types.
const (
	TypeRegister               = "register"
	TypeHeartbeat              = "heartbeat"
	TypeCommandStatus          = "commandStatus"
	TypeServiceStatusSnapshots = "serviceStatusSnapshots"
	TypeSmartDriveSnapshots    = "smartDriveSnapshots"
	TypeGPUSnapshots           = "gpuSnapshots"
	TypeUPSSnapshots           = "upsSnapshots"
	TypeTerminalOutput         = "terminalOutput"
	TypeStreamChunk            = "streamChunk"
	TypeStreamComplete         = "streamComplete"
	TypeStreamError            = "streamError"
)

// Hub → agent message types.
const (
	TypeCommand          = "command"
	TypeRequestTelemetry = "requestTelemetry"
	TypeCancelCommand    = "cancelCommand"
	TypeRegistered       = "registered"
)

// Hub → dashboard broadcast message types.
const (
	TypeNodeRegistered      = "nodeRegistered"
	TypeNodeStatusChanged   = "nodeStatusChanged"
	TypeTelemetry           = "telemetry"
	TypeCommandUpdate       = "commandUpdate"
	TypeProcessAlerts       = "processAlerts"
	TypeDownloadProgress    = "downloadProgress"
	TypeDownloadStatus      = "downloadStatusChanged"
	TypeBackoffStatus       = "backoffStatus"
	TypeServerResourceUsage = "serverResourceUsage"
)
