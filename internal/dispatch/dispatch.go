// Package dispatch implements the Command Queue & Dispatcher (§4.2): a
// durable per-agent queue with the lifecycle Queued→Sent→InProgress→
// (Success|Failed|Cancelled), at-most-once execution, and best-effort
// cancellation. Grounded on the teacher's command_state.go for the shape of
// a bounded, broadcast-on-write output log, generalized from NixOS-specific
// validators to the closed CommandType enum (internal/protocol).
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/audit"
	"github.com/manlab-io/manlab/internal/manlaberr"
	"github.com/manlab-io/manlab/internal/metrics"
	"github.com/manlab-io/manlab/internal/protocol"
	"github.com/manlab-io/manlab/internal/session"
	"github.com/manlab-io/manlab/internal/store"
	"github.com/rs/zerolog"
)

// Config tunes the dispatcher's timing (§9 open question: "cancel-timeout
// and command-deadline defaults are not documented... expose them as
// configuration").
type Config struct {
	CommandDeadline   time.Duration
	CommandCancelWait time.Duration
	OutputLogByteCap  int
}

// Dispatcher is the process-wide command dispatcher, injected at startup.
type Dispatcher struct {
	log     zerolog.Logger
	repo    *store.CommandRepo
	hub     *session.Hub
	audit   *audit.Recorder
	cfg     Config
}

func New(log zerolog.Logger, repo *store.CommandRepo, hub *session.Hub, auditRec *audit.Recorder, cfg Config) *Dispatcher {
	return &Dispatcher{
		log:   log.With().Str("component", "dispatch").Logger(),
		repo:  repo,
		hub:   hub,
		audit: auditRec,
		cfg:   cfg,
	}
}

// Enqueue validates the command type against the closed enum and persists a
// new Queued row. If the node is already online, it immediately attempts
// dispatch (the same path reconnect bootstrapping uses).
func (d *Dispatcher) Enqueue(ctx context.Context, nodeID uuid.UUID, cmdType string, payload []byte, requester string) (uuid.UUID, error) {
	if _, ok := protocol.ParseCommandType(cmdType); !ok {
		return uuid.Nil, fmt.Errorf("dispatch: unsupported command type %q: %w", cmdType, manlaberr.ErrBadRequest)
	}

	item := &store.CommandQueueItem{
		ID:        uuid.New(),
		NodeID:    nodeID,
		Type:      cmdType,
		Payload:   payload,
		Status:    "queued",
		Requester: requester,
		CreatedAt: time.Now(),
	}
	if err := d.repo.Create(ctx, item); err != nil {
		return uuid.Nil, fmt.Errorf("dispatch: create command: %w", manlaberr.ErrInternal)
	}
	metrics.CommandsEnqueuedTotal.WithLabelValues(cmdType).Inc()

	if d.hub.NodeOnline(nodeID) {
		d.DispatchQueued(ctx, nodeID)
	}
	return item.ID, nil
}

// DispatchQueued scans Queued commands for a node (FIFO by created-at, ties
// by id) and attempts to send each over its session — run on connect and
// whenever Enqueue finds the node already online (§4.2 "Dispatch loop").
func (d *Dispatcher) DispatchQueued(ctx context.Context, nodeID uuid.UUID) {
	items, err := d.repo.ListQueued(ctx, nodeID)
	if err != nil {
		d.log.Error().Err(err).Str("node", nodeID.String()).Msg("failed to list queued commands")
		return
	}

	for _, item := range items {
		d.sendOne(ctx, item)
	}
}

func (d *Dispatcher) sendOne(ctx context.Context, item store.CommandQueueItem) {
	msg, err := protocol.NewMessage(protocol.TypeCommand, protocol.CommandPayload{
		CommandID: item.ID.String(),
		Type:      protocol.CommandType(item.Type),
		Payload:   item.Payload,
	})
	if err != nil {
		d.log.Error().Err(err).Str("command", item.ID.String()).Msg("failed to build command message")
		return
	}

	if !d.hub.SendToNode(item.NodeID, msg) {
		// Transport didn't accept the frame; leave Queued, a later
		// DispatchQueued call (reconnect) will retry.
		return
	}

	applied, err := d.repo.CompareAndSetStatus(ctx, item.ID, "queued", "sent", nil)
	if err != nil {
		d.log.Error().Err(err).Str("command", item.ID.String()).Msg("failed to transition to sent")
		return
	}
	if applied {
		d.hub.BroadcastEvent(protocol.TypeCommandUpdate, map[string]any{
			"command_id": item.ID,
			"node_id":    item.NodeID,
			"status":     "sent",
		})
	}
}

// GetStatus returns the current row for a command.
func (d *Dispatcher) GetStatus(ctx context.Context, id uuid.UUID) (*store.CommandQueueItem, error) {
	item, err := d.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("dispatch: get command: %w", manlaberr.ErrNotFound)
	}
	return item, nil
}

// List returns recent commands for a node, newest first.
func (d *Dispatcher) List(ctx context.Context, nodeID uuid.UUID, limit int) ([]store.CommandQueueItem, error) {
	return d.repo.List(ctx, nodeID, limit)
}

// Cancel implements §4.2's cancellation semantics: Queued cancels
// immediately; Sent/InProgress push a best-effort cancel to the agent and
// fall back to a forced transition after CommandCancelWait.
func (d *Dispatcher) Cancel(ctx context.Context, id uuid.UUID) error {
	item, err := d.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("dispatch: get command: %w", manlaberr.ErrNotFound)
	}

	switch item.Status {
	case "queued":
		applied, err := d.repo.CompareAndSetStatus(ctx, id, "queued", "cancelled", nil)
		if err != nil {
			return fmt.Errorf("dispatch: cancel queued command: %w", manlaberr.ErrInternal)
		}
		if applied {
			d.finalize(item.NodeID, id, "cancelled")
		}
		return nil

	case "sent", "in_progress":
		msg, _ := protocol.NewMessage(protocol.TypeCancelCommand, protocol.CancelCommandPayload{CommandID: id.String()})
		d.hub.SendToNode(item.NodeID, msg)

		go d.awaitCancelAck(item.NodeID, id)
		return nil

	case "success", "failed", "cancelled":
		return fmt.Errorf("dispatch: cancel terminal command: %w", manlaberr.ErrConflict)

	default:
		return fmt.Errorf("dispatch: unknown command status %q: %w", item.Status, manlaberr.ErrInternal)
	}
}

// awaitCancelAck force-transitions to Cancelled if the agent doesn't ACK (or
// reach any other terminal state) within the cancel-timeout.
func (d *Dispatcher) awaitCancelAck(nodeID, id uuid.UUID) {
	time.Sleep(d.cfg.CommandCancelWait)

	ctx := context.Background()
	item, err := d.repo.Get(ctx, id)
	if err != nil {
		return
	}
	if item.Status == "success" || item.Status == "failed" || item.Status == "cancelled" {
		return // agent already reached a terminal state; that wins
	}

	applied, err := d.repo.CompareAndSetStatus(ctx, id, item.Status, "cancelled", map[string]any{
		"error": "cancelled: no acknowledgement within cancel-timeout",
	})
	if err != nil {
		d.log.Error().Err(err).Str("command", id.String()).Msg("failed to force-cancel command")
		return
	}
	if applied {
		d.finalize(nodeID, id, "cancelled")
	}
}

// OnCommandStatus is the session layer's inbound callback (implements
// session.CommandStatusHandler). It enforces the monotone state machine at
// the SQL layer: a stale InProgress report arriving after a later terminal
// state simply loses its CompareAndSetStatus race.
func (d *Dispatcher) OnCommandStatus(ctx context.Context, nodeID uuid.UUID, payload protocol.CommandStatusPayload) {
	id, err := uuid.Parse(payload.CommandID)
	if err != nil {
		d.log.Warn().Str("command_id", payload.CommandID).Msg("bad command id in status callback")
		return
	}

	item, err := d.repo.Get(ctx, id)
	if err != nil {
		d.log.Warn().Str("command", id.String()).Msg("status callback for unknown command")
		return
	}

	if payload.Logs != "" {
		if err := d.repo.AppendOutput(ctx, id, []byte(payload.Logs), d.cfg.OutputLogByteCap); err != nil {
			d.log.Error().Err(err).Str("command", id.String()).Msg("failed to append output")
		}
	}

	newStatus, ok := normalizeStatus(payload.Status)
	if !ok {
		d.log.Warn().Str("status", payload.Status).Msg("unknown command status reported")
		return
	}

	// in_progress is reachable from sent only (§8 invariant 2: "No command
	// transitions from Queued to InProgress without passing Sent").
	from := item.Status
	if from == "success" || from == "failed" || from == "cancelled" {
		return
	}
	if newStatus == "in_progress" && from != "sent" {
		return
	}

	extra := map[string]any{}
	if payload.Error != "" {
		extra["error"] = payload.Error
	}

	applied, err := d.repo.CompareAndSetStatus(ctx, id, from, newStatus, extra)
	if err != nil {
		d.log.Error().Err(err).Str("command", id.String()).Msg("failed to apply status transition")
		return
	}
	if applied {
		d.finalize(nodeID, id, newStatus)
	}
}

func (d *Dispatcher) finalize(nodeID, id uuid.UUID, status string) {
	if status != "in_progress" {
		metrics.CommandsTerminalTotal.WithLabelValues(status).Inc()
	}
	d.hub.BroadcastEvent(protocol.TypeCommandUpdate, map[string]any{
		"command_id": id,
		"node_id":    nodeID,
		"status":     status,
	})
	if status == "failed" || status == "cancelled" {
		d.audit.Record(context.Background(), audit.Event{
			Kind:     "command",
			Name:     status,
			TargetID: id.String(),
			Success:  status != "failed",
		})
	}
}

func normalizeStatus(s string) (string, bool) {
	switch s {
	case "inProgress", "in_progress":
		return "in_progress", true
	case "success":
		return "success", true
	case "failed":
		return "failed", true
	case "cancelled":
		return "cancelled", true
	default:
		return "", false
	}
}

// RunTimeoutSweep periodically fails commands stuck in Sent/InProgress past
// CommandDeadline with Failed(TimedOut) (§4.2, §8 scenario S2). No retransmit
// ever occurs for these — at-most-once execution.
func (d *Dispatcher) RunTimeoutSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce(ctx)
		}
	}
}

func (d *Dispatcher) sweepOnce(ctx context.Context) {
	stale, err := d.repo.ListStaleSent(ctx, d.cfg.CommandDeadline)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to list stale commands")
		return
	}

	for _, item := range stale {
		applied, err := d.repo.CompareAndSetStatus(ctx, item.ID, item.Status, "failed", map[string]any{
			"error": "TimedOut",
		})
		if err != nil {
			d.log.Error().Err(err).Str("command", item.ID.String()).Msg("failed to time out command")
			continue
		}
		if applied {
			d.finalize(item.NodeID, item.ID, "failed")
		}
	}
}
