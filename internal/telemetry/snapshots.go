package telemetry

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/session"
	"github.com/manlab-io/manlab/internal/store"
	"github.com/rs/zerolog"
)

// kindByType maps each agent→hub snapshot message type to the storage kind
// internal/store.MonitorRepo.RecordSnapshots understands.
var kindByType = map[string]string{
	"serviceStatusSnapshots": "service_status",
	"smartDriveSnapshots":    "smart_drive",
	"gpuSnapshots":           "gpu",
	"upsSnapshots":           "ups",
}

// SnapshotIngestor implements session.SnapshotHandler: persists every opaque
// snapshot batch an agent reports (§3, §9 "no schema enforcement beyond the
// envelope").
type SnapshotIngestor struct {
	log  zerolog.Logger
	repo *store.MonitorRepo
}

var _ session.SnapshotHandler = (*SnapshotIngestor)(nil)

func NewSnapshotIngestor(log zerolog.Logger, repo *store.MonitorRepo) *SnapshotIngestor {
	return &SnapshotIngestor{log: log.With().Str("component", "snapshot_ingestor").Logger(), repo: repo}
}

// OnSnapshots persists the batch verbatim, keyed by the message type the
// agent sent it under.
func (s *SnapshotIngestor) OnSnapshots(ctx context.Context, nodeID uuid.UUID, kind string, snapshots []json.RawMessage) {
	storeKind, ok := kindByType[kind]
	if !ok {
		s.log.Warn().Str("kind", kind).Msg("unknown snapshot kind, dropping")
		return
	}

	data := make([][]byte, len(snapshots))
	for i, raw := range snapshots {
		data[i] = []byte(raw)
	}

	if err := s.repo.RecordSnapshots(ctx, nodeID, storeKind, data); err != nil {
		s.log.Error().Err(err).Str("node", nodeID.String()).Str("kind", kind).Msg("failed to persist snapshots")
	}
}
