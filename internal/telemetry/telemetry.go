// Package telemetry implements the Telemetry Ingestion and Process-Alert
// Pipeline (§4.6): heartbeat persistence, rollup queries (delegated to
// internal/store), and a dedicated process-alert evaluator consuming an
// internal bus with a bounded, cooldown-suppressing alert table.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/metrics"
	"github.com/manlab-io/manlab/internal/notify"
	"github.com/manlab-io/manlab/internal/protocol"
	"github.com/manlab-io/manlab/internal/session"
	"github.com/manlab-io/manlab/internal/store"
	"github.com/rs/zerolog"
)

// Config tunes alert thresholds, cooldown, and the bounded cooldown table.
type Config struct {
	CPUThreshold   float64
	RAMMBThreshold float64
	AlertCooldown  time.Duration
	TableLimit     int
}

// ProcessAlertContext is published onto the internal bus whenever a
// heartbeat carries a non-empty TopProcesses list (§4.6).
type ProcessAlertContext struct {
	NodeID      uuid.UUID
	Hostname    string
	Processes   []protocol.ProcessUsage
	ReceivedAt  time.Time
}

// Ingestor implements session.TelemetryHandler: persists every heartbeat and
// forwards TopProcesses onto the alert bus.
type Ingestor struct {
	log   zerolog.Logger
	repo  *store.TelemetryRepo
	bus   chan ProcessAlertContext
}

var _ session.TelemetryHandler = (*Ingestor)(nil)

func NewIngestor(log zerolog.Logger, repo *store.TelemetryRepo, busCapacity int) *Ingestor {
	return &Ingestor{
		log:  log.With().Str("component", "telemetry").Logger(),
		repo: repo,
		bus:  make(chan ProcessAlertContext, busCapacity),
	}
}

// OnHeartbeat persists the sample and, if present, publishes the process
// list onto the alert bus — a non-blocking send, since a full bus means the
// evaluator is behind and dropping this new context is preferable to
// blocking the session's inbound message loop (§5 "session callbacks...
// must not block").
func (i *Ingestor) OnHeartbeat(ctx context.Context, nodeID uuid.UUID, hostname string, payload protocol.HeartbeatPayload) {
	sample := &store.TelemetrySample{
		NodeID:    nodeID,
		Timestamp: time.Now(),
		CPU:       payload.CPU,
		RAM:       payload.RAM,
		Disk:      payload.Disk,
		TempC:     payload.TempC,
		NetRxBps:  payload.NetRxBps,
		NetTxBps:  payload.NetTxBps,
		PingMs:    payload.PingMs,
	}
	if len(payload.TopProcesses) > 0 {
		if raw, err := json.Marshal(payload.TopProcesses); err == nil {
			sample.TopProcesses = raw
		}
	}

	if err := i.repo.Insert(ctx, sample); err != nil {
		i.log.Error().Err(err).Str("node", nodeID.String()).Msg("failed to persist telemetry sample")
	}

	if len(payload.TopProcesses) == 0 {
		return
	}

	alertCtx := ProcessAlertContext{
		NodeID:     nodeID,
		Hostname:   hostname,
		Processes:  payload.TopProcesses,
		ReceivedAt: time.Now(),
	}
	select {
	case i.bus <- alertCtx:
	default:
		i.log.Warn().Str("node", nodeID.String()).Msg("process alert bus full, dropping context")
	}
}

// Bus exposes the read side for the Evaluator.
func (i *Ingestor) Bus() <-chan ProcessAlertContext {
	return i.bus
}

// Evaluator consumes the alert bus, applies the configured thresholds (one
// CPU/RAM pair shared by every node; there are no per-node thresholds), suppresses
// repeats via a bounded cooldown table, and hands surviving alerts to a
// Notifier plus the dashboard broadcast.
type Evaluator struct {
	log      zerolog.Logger
	hub      *session.Hub
	notifier notify.Notifier
	cfg      Config
	cooldown *cooldownTable
}

func NewEvaluator(log zerolog.Logger, hub *session.Hub, notifier notify.Notifier, cfg Config) *Evaluator {
	return &Evaluator{
		log:      log.With().Str("component", "telemetry_evaluator").Logger(),
		hub:      hub,
		notifier: notifier,
		cfg:      cfg,
		cooldown: newCooldownTable(cfg.TableLimit),
	}
}

// Run drains the bus until ctx is cancelled, evaluating each context in turn.
func (e *Evaluator) Run(ctx context.Context, bus <-chan ProcessAlertContext) {
	for {
		select {
		case <-ctx.Done():
			return
		case alertCtx, ok := <-bus:
			if !ok {
				return
			}
			e.evaluate(ctx, alertCtx)
		}
	}
}

func (e *Evaluator) evaluate(ctx context.Context, alertCtx ProcessAlertContext) {
	now := time.Now()
	var fired []notify.Alert

	for _, proc := range alertCtx.Processes {
		kind, value, threshold, breach := classify(proc, e.cfg)
		if !breach {
			continue
		}

		key := cooldownKey{NodeID: alertCtx.NodeID, PID: proc.PID, Kind: kind}
		if e.cooldown.suppressed(key, now, e.cfg.AlertCooldown) {
			continue
		}
		e.cooldown.record(key, now)
		metrics.ProcessAlertsTotal.WithLabelValues(kind).Inc()

		fired = append(fired, notify.Alert{
			NodeHostname: alertCtx.Hostname,
			PID:          proc.PID,
			ProcessName:  proc.Name,
			Kind:         kind,
			Value:        value,
			Threshold:    threshold,
		})
	}

	if len(fired) == 0 {
		return
	}

	e.hub.BroadcastEvent(protocol.TypeProcessAlerts, map[string]any{
		"node_id": alertCtx.NodeID,
		"alerts":  fired,
	})

	for _, alert := range fired {
		if err := e.notifier.Notify(ctx, alert); err != nil {
			e.log.Error().Err(err).Str("node", alertCtx.Hostname).Msg("notifier failed")
		}
	}
}

// classify applies the configured CPU/RAM thresholds, independent of
// whatever Kind the agent annotated — the hub is the source of truth for
// what counts as "high". The same thresholds apply to every node.
func classify(p protocol.ProcessUsage, cfg Config) (kind string, value, threshold float64, breach bool) {
	if p.CPU >= cfg.CPUThreshold {
		return "cpu_high", p.CPU, cfg.CPUThreshold, true
	}
	if p.RAMMB >= cfg.RAMMBThreshold {
		return "ram_high", p.RAMMB, cfg.RAMMBThreshold, true
	}
	return "", 0, 0, false
}
