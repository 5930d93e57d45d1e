// Package session implements the Agent Session Layer (§4.1): a persistent
// bidirectional WebSocket per agent, a separate broadcast group for
// dashboard subscribers, and the heartbeat-backoff sweep. Structurally this
// generalizes the teacher's dashboard.Hub/dashboard.Client to two peer kinds
// (agent, dashboard) and routes inbound traffic to pluggable handlers
// instead of hardcoded NixOS command types (§9 "weak handles" design note
// keeps this package from importing internal/dispatch or internal/streaming
// directly).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/metrics"
	"github.com/manlab-io/manlab/internal/protocol"
	"github.com/manlab-io/manlab/internal/registry"
	"github.com/rs/zerolog"
)

const (
	broadcastQueueSize = 1024
	panicRecoveryDelay = 100 * time.Millisecond
	agentMessageBuffer = 256
)

// CommandStatusHandler consumes agent→hub commandStatus callbacks (§4.1,
// implemented by internal/dispatch).
type CommandStatusHandler interface {
	OnCommandStatus(ctx context.Context, nodeID uuid.UUID, payload protocol.CommandStatusPayload)
}

// StreamHandler consumes agent→hub stream frames (§4.3, implemented by
// internal/streaming).
type StreamHandler interface {
	OnStreamChunk(nodeID uuid.UUID, payload protocol.StreamChunkPayload)
	OnStreamComplete(nodeID uuid.UUID, payload protocol.StreamCompletePayload)
	OnStreamError(nodeID uuid.UUID, payload protocol.StreamErrorPayload)
}

// TelemetryHandler consumes heartbeats (§4.6, implemented by internal/telemetry).
type TelemetryHandler interface {
	OnHeartbeat(ctx context.Context, nodeID uuid.UUID, hostname string, payload protocol.HeartbeatPayload)
}

// SnapshotHandler consumes opaque snapshot batches (§3, §9 opaque payloads).
type SnapshotHandler interface {
	OnSnapshots(ctx context.Context, nodeID uuid.UUID, kind string, snapshots []json.RawMessage)
}

// TerminalOutputHandler consumes proxied terminal bytes (§4.4).
type TerminalOutputHandler interface {
	OnTerminalOutput(nodeID uuid.UUID, payload protocol.TerminalOutputPayload)
}

type agentEnvelope struct {
	client  *Client
	message *protocol.Message
}

// Hub owns every live Client and the async broadcast queue to dashboards.
// Map mutation happens under mu; all I/O (registry writes, handler
// dispatch, broadcasts) happens outside the lock, per the teacher's
// phase-separated pattern.
type Hub struct {
	log      zerolog.Logger
	registry *registry.Registry

	commandStatus  CommandStatusHandler
	stream         StreamHandler
	telemetry      TelemetryHandler
	snapshots      SnapshotHandler
	terminalOutput TerminalOutputHandler

	mu          sync.RWMutex
	clients     map[*Client]bool
	dashboards  map[*Client]bool
	byNode      map[uuid.UUID]*Client

	registerCh   chan *Client
	unregisterCh chan *Client
	agentMsgs    chan *agentEnvelope
	broadcasts   chan []byte
}

func NewHub(log zerolog.Logger, reg *registry.Registry) *Hub {
	return &Hub{
		log:          log.With().Str("component", "session_hub").Logger(),
		registry:     reg,
		clients:      make(map[*Client]bool),
		dashboards:   make(map[*Client]bool),
		byNode:       make(map[uuid.UUID]*Client),
		registerCh:   make(chan *Client),
		unregisterCh: make(chan *Client),
		agentMsgs:    make(chan *agentEnvelope, agentMessageBuffer),
		broadcasts:   make(chan []byte, broadcastQueueSize),
	}
}

// SetHandlers wires the packages that consume inbound agent traffic. Called
// once at startup after the dispatcher/streaming/telemetry packages exist,
// breaking the natural import cycle between them and this package.
func (h *Hub) SetHandlers(cmd CommandStatusHandler, stream StreamHandler, telem TelemetryHandler, snap SnapshotHandler, term TerminalOutputHandler) {
	h.commandStatus = cmd
	h.stream = stream
	h.telemetry = telem
	h.snapshots = snap
	h.terminalOutput = term
}

// Run starts the hub's main loop and broadcast loop. Both auto-restart on
// panic, matching the teacher's supervisor pattern, and both exit cleanly on
// context cancellation.
func (h *Hub) Run(ctx context.Context) {
	go h.broadcastLoop(ctx)

	for {
		if err := h.runLoop(ctx); err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				h.log.Info().Msg("session hub shutting down")
				return
			}
			h.log.Error().Err(err).Msg("session hub loop crashed, restarting")
			time.Sleep(panicRecoveryDelay)
		}
	}
}

func (h *Hub) runLoop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session hub panic: %v\n%s", r, debug.Stack())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-h.registerCh:
			h.handleRegister(c)
		case c := <-h.unregisterCh:
			h.handleUnregister(c)
		case env := <-h.agentMsgs:
			h.handleAgentMessage(ctx, env)
		}
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	if c.kind == KindDashboard {
		h.dashboards[c] = true
		metrics.DashboardSubscribersActive.Inc()
	}
	h.mu.Unlock()
}

// handleUnregister: state mutation under lock, I/O (registry, broadcast)
// strictly outside it — CRITICAL to avoid the deadlock the teacher's
// comment calls out.
func (h *Hub) handleUnregister(c *Client) {
	var agentSession *registry.AgentSession

	h.mu.Lock()
	wasKnown := h.clients[c]
	wasDashboard := h.dashboards[c]
	delete(h.clients, c)
	delete(h.dashboards, c)
	if c.kind == KindAgent && c.session != nil {
		if h.byNode[c.session.NodeID] == c {
			delete(h.byNode, c.session.NodeID)
			agentSession = c.session
		}
	}
	h.mu.Unlock()

	if !wasKnown {
		return
	}
	if wasDashboard {
		metrics.DashboardSubscribersActive.Dec()
	}
	c.Close()

	if agentSession != nil {
		metrics.AgentSessionsActive.Dec()
		metrics.NodesOnline.Dec()
		h.registry.Unregister(agentSession)
		h.BroadcastEvent(protocol.TypeNodeStatusChanged, map[string]any{
			"node_id": agentSession.NodeID,
			"status":  "offline",
		})
	}
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("broadcast loop crashed, restarting")
			if ctx.Err() == nil {
				go h.broadcastLoop(ctx)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-h.broadcasts:
			h.doBroadcast(data)
		}
	}
}

func (h *Hub) doBroadcast(data []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.dashboards))
	for c := range h.dashboards {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.SafeSend(data)
	}
}

// BroadcastEvent queues a typed event for fan-out to every dashboard
// subscriber (§4.1 "Fan-out"). Non-blocking: a full queue drops the event
// with a warning rather than backing up the hub loop.
func (h *Hub) BroadcastEvent(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", msgType).Msg("failed to build broadcast message")
		return
	}
	data, err := msg.Encode()
	if err != nil {
		h.log.Error().Err(err).Str("type", msgType).Msg("failed to encode broadcast message")
		return
	}

	select {
	case h.broadcasts <- data:
	default:
		h.log.Warn().Str("type", msgType).Msg("broadcast queue full, dropping event")
	}
}

// SendToNode pushes a frame to the named node's live session, returning
// false if no session is connected or the transport rejected the write.
// "Delivered" means the transport accepted the frame, not that the agent
// executed it (§4.1 SendCommand contract).
func (h *Hub) SendToNode(nodeID uuid.UUID, msg *protocol.Message) bool {
	h.mu.RLock()
	c, ok := h.byNode[nodeID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	data, err := msg.Encode()
	if err != nil {
		return false
	}
	return c.SafeSend(data)
}

// NodeOnline reports whether a node currently has a live session.
func (h *Hub) NodeOnline(nodeID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byNode[nodeID]
	return ok
}

func (h *Hub) bindNode(c *Client, agentSession *registry.AgentSession) {
	h.mu.Lock()
	h.byNode[agentSession.NodeID] = c
	h.mu.Unlock()
	metrics.AgentSessionsActive.Inc()
	metrics.NodesOnline.Inc()
}

func (h *Hub) handleAgentMessage(ctx context.Context, env *agentEnvelope) {
	c, msg := env.client, env.message

	switch msg.Type {
	case protocol.TypeRegister:
		h.handleAgentRegister(ctx, c, msg)

	case protocol.TypeHeartbeat:
		var payload protocol.HeartbeatPayload
		if err := msg.ParsePayload(&payload); err != nil {
			h.log.Warn().Err(err).Msg("bad heartbeat payload")
			return
		}
		if c.session == nil {
			return
		}
		if err := h.registry.Heartbeat(ctx, c.session.NodeID); err != nil {
			metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
			h.log.Error().Err(err).Msg("heartbeat registry update failed")
		} else {
			metrics.HeartbeatsTotal.WithLabelValues("accepted").Inc()
		}
		if h.telemetry != nil {
			h.telemetry.OnHeartbeat(ctx, c.session.NodeID, c.session.Hostname, payload)
		}
		h.BroadcastEvent(protocol.TypeTelemetry, map[string]any{
			"node_id": c.session.NodeID,
			"sample":  payload,
		})

	case protocol.TypeCommandStatus:
		var payload protocol.CommandStatusPayload
		if err := msg.ParsePayload(&payload); err != nil || c.session == nil {
			return
		}
		if h.commandStatus != nil {
			h.commandStatus.OnCommandStatus(ctx, c.session.NodeID, payload)
		}
		h.BroadcastEvent(protocol.TypeCommandUpdate, map[string]any{
			"node_id": c.session.NodeID,
			"status":  payload,
		})

	case protocol.TypeServiceStatusSnapshots, protocol.TypeSmartDriveSnapshots,
		protocol.TypeGPUSnapshots, protocol.TypeUPSSnapshots:
		var payload protocol.SnapshotsPayload
		if err := msg.ParsePayload(&payload); err != nil || c.session == nil {
			return
		}
		if h.snapshots != nil {
			h.snapshots.OnSnapshots(ctx, c.session.NodeID, msg.Type, payload.Snapshots)
		}

	case protocol.TypeTerminalOutput:
		var payload protocol.TerminalOutputPayload
		if err := msg.ParsePayload(&payload); err != nil || c.session == nil {
			return
		}
		if h.terminalOutput != nil {
			h.terminalOutput.OnTerminalOutput(c.session.NodeID, payload)
		}

	case protocol.TypeStreamChunk:
		var payload protocol.StreamChunkPayload
		if err := msg.ParsePayload(&payload); err != nil || c.session == nil {
			return
		}
		if h.stream != nil {
			h.stream.OnStreamChunk(c.session.NodeID, payload)
		}

	case protocol.TypeStreamComplete:
		var payload protocol.StreamCompletePayload
		if err := msg.ParsePayload(&payload); err != nil || c.session == nil {
			return
		}
		if h.stream != nil {
			h.stream.OnStreamComplete(c.session.NodeID, payload)
		}

	case protocol.TypeStreamError:
		var payload protocol.StreamErrorPayload
		if err := msg.ParsePayload(&payload); err != nil || c.session == nil {
			return
		}
		if h.stream != nil {
			h.stream.OnStreamError(c.session.NodeID, payload)
		}

	default:
		h.log.Warn().Str("type", msg.Type).Msg("orphan message: unknown type, dropped")
	}
}

func (h *Hub) handleAgentRegister(ctx context.Context, c *Client, msg *protocol.Message) {
	var payload protocol.RegisterPayload
	if err := msg.ParsePayload(&payload); err != nil {
		h.log.Warn().Err(err).Msg("bad register payload")
		return
	}

	agentSession, err := h.registry.Register(ctx, registry.RegisterMeta{
		Hostname:         payload.Hostname,
		IP:               payload.IP,
		MAC:              payload.MAC,
		OS:               payload.OS,
		AgentVersion:     payload.AgentVersion,
		PrimaryInterface: payload.PrimaryInterface,
		Capabilities:     payload.Capabilities,
	}, c)
	if err != nil {
		h.log.Error().Err(err).Str("hostname", payload.Hostname).Msg("registration rejected")
		return
	}

	c.session = agentSession
	h.bindNode(c, agentSession)

	resp, err := protocol.NewMessage(protocol.TypeRegistered, protocol.RegisteredPayload{
		NodeID: agentSession.NodeID.String(),
	})
	if err == nil {
		if data, encErr := resp.Encode(); encErr == nil {
			c.SafeSend(data)
		}
	}

	h.BroadcastEvent(protocol.TypeNodeRegistered, map[string]any{
		"node_id":  agentSession.NodeID,
		"hostname": payload.Hostname,
	})

	h.log.Info().Str("hostname", payload.Hostname).Str("node_id", agentSession.NodeID.String()).Msg("agent registered")
}

// BroadcastBackoffStatus publishes a BackoffStatus event for each session
// the heartbeat sweep transitioned to offline this tick (§4.1).
func (h *Hub) BroadcastBackoffStatus(nodeID uuid.UUID, consecutiveFailures int, nextRetryAt time.Time) {
	h.BroadcastEvent(protocol.TypeBackoffStatus, map[string]any{
		"node_id":              nodeID,
		"consecutive_failures": consecutiveFailures,
		"next_retry_at":        nextRetryAt,
	})
}
