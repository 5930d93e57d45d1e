// Package simagent implements a reference agent that speaks the exact §6
// wire contract a real ManLab agent would, fabricating plausible telemetry
// and command outcomes instead of shelling out to OS tools — used by
// cmd/manlab-agent as a drop-in node and by integration tests to drive the
// hub's dispatcher/session/streaming/telemetry code paths end to end.
package simagent

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/manlab-io/manlab/internal/config"
	"github.com/manlab-io/manlab/internal/protocol"
	"github.com/rs/zerolog"
)

const agentVersion = "sim-0.1.0"

// Agent coordinates the WebSocket connection, heartbeat loop, and command
// handling for one simulated node.
type Agent struct {
	cfg *config.Agent
	log zerolog.Logger
	ws  *WebSocketClient

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	registered bool
	nodeID     string

	rng *rand.Rand
}

// New builds a simulated agent; Run blocks until ctx is cancelled.
func New(cfg *config.Agent, log zerolog.Logger) *Agent {
	a := &Agent{
		cfg: cfg,
		log: log.With().Str("component", "simagent").Str("hostname", cfg.Hostname).Logger(),
		rng: rand.New(rand.NewSource(1)),
	}
	a.ws = NewWebSocketClient(cfg.HubURL, cfg.AuthToken, a.log, a)
	return a
}

// Run starts the connection loop and the heartbeat loop, blocking until ctx
// is cancelled.
func (a *Agent) Run(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.heartbeatLoop()
	}()
	go func() {
		defer wg.Done()
		a.messageLoop()
	}()

	a.ws.Run(a.ctx)
	wg.Wait()
}

// Shutdown cancels the agent's context and closes the connection.
func (a *Agent) Shutdown() {
	if a.cancel != nil {
		a.cancel()
	}
	_ = a.ws.Close()
}

// IsRegistered reports whether the hub has acknowledged this agent's
// registration.
func (a *Agent) IsRegistered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registered
}

// OnConnected implements ConnectionHandler: send Register immediately.
func (a *Agent) OnConnected() {
	a.log.Info().Msg("connected to hub")

	payload := protocol.RegisterPayload{
		Hostname:          a.cfg.Hostname,
		OS:                "linux",
		AgentVersion:      agentVersion,
		PrimaryInterface:  "eth0",
		HeartbeatInterval: int(a.cfg.HeartbeatInterval.Seconds()),
	}
	if err := a.ws.SendMessage(protocol.TypeRegister, payload); err != nil {
		a.log.Error().Err(err).Msg("failed to send registration")
	}
}

// OnDisconnected implements ConnectionHandler.
func (a *Agent) OnDisconnected() {
	a.mu.Lock()
	a.registered = false
	a.mu.Unlock()
	a.log.Warn().Msg("disconnected from hub")
}

func (a *Agent) messageLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case msg, ok := <-a.ws.Messages():
			if !ok || msg == nil {
				return
			}
			a.handleMessage(msg)
		}
	}
}

func (a *Agent) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeRegistered:
		var payload protocol.RegisteredPayload
		if err := msg.ParsePayload(&payload); err != nil {
			a.log.Error().Err(err).Msg("failed to parse registered payload")
			return
		}
		a.mu.Lock()
		a.registered = true
		a.nodeID = payload.NodeID
		a.mu.Unlock()
		a.log.Info().Str("node_id", payload.NodeID).Msg("registered with hub")
		a.sendHeartbeat()

	case protocol.TypeCommand:
		var payload protocol.CommandPayload
		if err := msg.ParsePayload(&payload); err != nil {
			a.log.Error().Err(err).Msg("failed to parse command payload")
			return
		}
		go a.runCommand(payload)

	case protocol.TypeCancelCommand:
		var payload protocol.CancelCommandPayload
		if err := msg.ParsePayload(&payload); err == nil {
			a.log.Info().Str("command_id", payload.CommandID).Msg("command cancellation requested")
		}

	case protocol.TypeRequestTelemetry:
		a.sendHeartbeat()

	default:
		a.log.Debug().Str("type", msg.Type).Msg("unhandled message type")
	}
}
