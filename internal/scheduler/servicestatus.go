package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/protocol"
)

// runServiceStatusLoop is the §4.5 command-enqueuing scheduler: on a fixed
// interval, for every node with ≥1 enabled ServiceMonitorConfig, enqueue a
// single service.status refresh — gated by online state, the pending
// cooldown, and snapshot staleness — using one batched query per tick rather
// than one query per node.
func (s *Scheduler) runServiceStatusLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ServiceStatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.serviceStatusTick(ctx)
		}
	}
}

func (s *Scheduler) serviceStatusTick(ctx context.Context) {
	byNode, err := s.monitors.ListEnabledServiceMonitorsByNode(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list enabled service monitors")
		return
	}

	for nodeID, configs := range byNode {
		if s.shouldEnqueueServiceStatus(ctx, nodeID) {
			if _, err := s.dispatch.Enqueue(ctx, nodeID, string(protocol.CommandServiceStatus), nil, "scheduler"); err != nil {
				s.log.Error().Err(err).Str("node", nodeID.String()).Msg("failed to enqueue service status refresh")
				continue
			}
			for _, cfg := range configs {
				if err := s.monitors.TouchServiceMonitor(ctx, cfg.ID); err != nil {
					s.log.Error().Err(err).Str("config", cfg.ID.String()).Msg("failed to touch service monitor")
				}
			}
		}
	}
}

// shouldEnqueueServiceStatus implements the three gates named in §4.5: the
// node is online, no ServiceStatus command already in flight within the
// cooldown window, and the newest snapshot is older than the min-snapshot-age
// — the guarantee that a node never receives more than one in-flight
// service.status at a time.
func (s *Scheduler) shouldEnqueueServiceStatus(ctx context.Context, nodeID uuid.UUID) bool {
	node, err := s.nodes.GetByID(ctx, nodeID)
	if err != nil || node.Status != "online" {
		return false
	}

	active, err := s.commands.HasActiveSince(ctx, nodeID, string(protocol.CommandServiceStatus), time.Now().Add(-s.cfg.ServiceStatusCooldown))
	if err != nil {
		s.log.Error().Err(err).Str("node", nodeID.String()).Msg("failed to check active service status commands")
		return false
	}
	if active {
		return false
	}

	lastSnapshot, err := s.monitors.LatestServiceStatusSnapshotAt(ctx, nodeID)
	if err != nil {
		s.log.Error().Err(err).Str("node", nodeID.String()).Msg("failed to check latest service status snapshot")
		return false
	}
	if lastSnapshot == nil {
		return true // no snapshot yet, definitely stale
	}
	return time.Since(*lastSnapshot) >= s.cfg.MinSnapshotAge
}
