package simagent

import (
	"time"

	"github.com/manlab-io/manlab/internal/protocol"
)

// heartbeatLoop emits a fabricated telemetry sample on cfg.HeartbeatInterval,
// matching the cadence it told the hub about at registration.
func (a *Agent) heartbeatLoop() {
	interval := a.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if a.IsRegistered() {
				a.sendHeartbeat()
			}
		}
	}
}

// sendHeartbeat fabricates a plausible HeartbeatPayload — a random walk
// around a baseline rather than a flat line, so dashboards and alert rules
// have something to react to. Occasionally attaches a high-usage process so
// the hub's process-alert pipeline (§4.6) gets exercised.
func (a *Agent) sendHeartbeat() {
	a.mu.Lock()
	cpu := 15 + a.rng.Float64()*20
	ram := 40 + a.rng.Float64()*15
	a.mu.Unlock()

	payload := protocol.HeartbeatPayload{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		CPU:       cpu,
		RAM:       ram,
		Disk:      55 + a.rng.Float64()*5,
		PingMs:    2 + a.rng.Float64()*8,
		NetRxBps:  a.rng.Float64() * 1_000_000,
		NetTxBps:  a.rng.Float64() * 250_000,
	}

	if a.rng.Float64() < 0.1 {
		payload.TopProcesses = []protocol.ProcessUsage{{
			PID:   1000 + a.rng.Intn(5000),
			Name:  "sim-load-generator",
			CPU:   92 + a.rng.Float64()*7,
			RAMMB: 512,
			Kind:  "cpu_high",
		}}
	}

	if err := a.ws.SendMessage(protocol.TypeHeartbeat, payload); err != nil {
		a.log.Error().Err(err).Msg("failed to send heartbeat")
	}
}
