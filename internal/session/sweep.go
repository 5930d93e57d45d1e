package session

import (
	"context"
	"time"

	"github.com/manlab-io/manlab/internal/protocol"
)

// RunHeartbeatSweep periodically runs the registry's backoff state machine
// and fans out a BackoffStatus event for every session that just went
// offline (§4.1). Intended to run as its own goroutine, started alongside
// Hub.Run.
func (h *Hub) RunHeartbeatSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			transitioned := h.registry.SweepHeartbeats(ctx)
			for _, s := range transitioned {
				failures, nextRetryAt := s.BackoffInfo()
				h.BroadcastBackoffStatus(s.NodeID, failures, nextRetryAt)
				h.BroadcastEvent(protocol.TypeNodeStatusChanged, map[string]any{"node_id": s.NodeID, "status": "offline"})
			}
		}
	}
}
