// Package audit emits AuditEvent rows on every privileged transition named
// in §7: session create/close/expire, policy violations, cancellations,
// dispatch failures, config updates.
package audit

import (
	"context"
	"encoding/json"

	"github.com/manlab-io/manlab/internal/store"
	"github.com/rs/zerolog"
)

// Recorder writes audit events to the store and logs failures — audit
// writes must never block or panic the caller's privileged operation.
type Recorder struct {
	repo *store.AuditRepo
	log  zerolog.Logger
}

func New(repo *store.AuditRepo, log zerolog.Logger) *Recorder {
	return &Recorder{repo: repo, log: log.With().Str("component", "audit").Logger()}
}

// Event fields describe one privileged transition.
type Event struct {
	Kind     string
	Name     string
	ActorID  string
	TargetID string
	Success  bool
	Data     any
}

// Record persists an audit event. Marshal/write errors are logged, not
// returned — the caller's privileged operation already happened and must
// not be rolled back because the audit trail failed to write.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	var data []byte
	if ev.Data != nil {
		var err error
		data, err = json.Marshal(ev.Data)
		if err != nil {
			r.log.Error().Err(err).Str("kind", ev.Kind).Str("name", ev.Name).Msg("failed to marshal audit data")
		}
	}

	row := &store.AuditEvent{
		Kind:     ev.Kind,
		Name:     ev.Name,
		ActorID:  ev.ActorID,
		TargetID: ev.TargetID,
		Success:  ev.Success,
		Data:     data,
	}
	if err := r.repo.Record(ctx, row); err != nil {
		r.log.Error().Err(err).Str("kind", ev.Kind).Str("name", ev.Name).Msg("failed to record audit event")
	}
}
