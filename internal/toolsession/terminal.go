package toolsession

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/audit"
	"github.com/manlab-io/manlab/internal/manlaberr"
	"github.com/manlab-io/manlab/internal/protocol"
	"github.com/manlab-io/manlab/internal/session"
	"github.com/manlab-io/manlab/internal/store"
)

var _ session.TerminalOutputHandler = (*Terminals)(nil)

// Terminals wraps the generic Registry for TerminalSession (§4.4): creation
// and Close are audited and persisted, since a terminal is the most
// privileged of the four tool kinds; expiry and failure change only the
// in-memory handle. It also implements
// session.TerminalOutputHandler, fanning out agent output to whichever
// caller is reading a given session.
type Terminals struct {
	reg   *Registry
	repo  *store.TerminalSessionRepo
	audit *audit.Recorder

	outMu sync.Mutex
	out   map[string]chan protocol.TerminalOutputPayload
}

func NewTerminals(defaultTTL, maxTTL time.Duration, repo *store.TerminalSessionRepo, auditRec *audit.Recorder) *Terminals {
	return &Terminals{
		reg:   NewRegistry("terminal", defaultTTL, maxTTL),
		repo:  repo,
		audit: auditRec,
		out:   make(map[string]chan protocol.TerminalOutputPayload),
	}
}

// Subscribe returns a channel of output for a session, created on first
// subscription. Call Unsubscribe when the caller stops reading.
func (t *Terminals) Subscribe(sessionID string) <-chan protocol.TerminalOutputPayload {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	ch, ok := t.out[sessionID]
	if !ok {
		ch = make(chan protocol.TerminalOutputPayload, 64)
		t.out[sessionID] = ch
	}
	return ch
}

// Unsubscribe releases the output channel for a session.
func (t *Terminals) Unsubscribe(sessionID string) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	if ch, ok := t.out[sessionID]; ok {
		close(ch)
		delete(t.out, sessionID)
	}
}

// OnTerminalOutput implements session.TerminalOutputHandler: delivers the
// chunk to the session's subscriber, if any, dropping it otherwise rather
// than blocking the hub's inbound message loop.
func (t *Terminals) OnTerminalOutput(_ uuid.UUID, payload protocol.TerminalOutputPayload) {
	t.outMu.Lock()
	ch, ok := t.out[payload.SessionID]
	t.outMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- payload:
	default:
	}
}

func (t *Terminals) Create(ctx context.Context, nodeID uuid.UUID, ttl time.Duration, actorID string) (*Handle, error) {
	h, err := t.reg.Create(nodeID, ttl, nil)
	if err != nil {
		return nil, err
	}

	if err := t.repo.Create(ctx, &store.TerminalSession{
		ID:        uuid.MustParse(h.ID),
		NodeID:    nodeID,
		Status:    string(StatusOpen),
		CreatedAt: h.CreatedAt,
		ExpiresAt: h.ExpiresAt,
	}); err != nil {
		t.reg.Fail(h.ID)
		return nil, manlaberr.ErrInternal
	}

	t.audit.Record(ctx, audit.Event{Kind: "terminal_session", Name: "create", ActorID: actorID, TargetID: h.ID, Success: true})
	return h, nil
}

func (t *Terminals) TryGet(id string) (*Handle, error) {
	return t.reg.TryGet(id)
}

func (t *Terminals) Close(ctx context.Context, id string, actorID string) {
	t.reg.Close(id)
	if uid, err := uuid.Parse(id); err == nil {
		_ = t.repo.SetStatus(ctx, uid, string(StatusClosed))
	}
	t.Unsubscribe(id)
	t.audit.Record(ctx, audit.Event{Kind: "terminal_session", Name: "close", ActorID: actorID, TargetID: id, Success: true})
}

// RunSweeper runs the in-memory sweep on a fixed interval.
func (t *Terminals) RunSweeper(ctx context.Context, interval time.Duration) {
	t.reg.RunSweeper(ctx, interval)
}

// Name and Cleanup satisfy memwatch.Cleaner structurally (§4.7).
func (t *Terminals) Name() string { return "terminal_sessions" }
func (t *Terminals) Cleanup()     { t.reg.Sweep() }
