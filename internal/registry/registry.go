// Package registry implements the Node Registry (§3, §4.1): the exclusive
// owner of AgentSession handles, Node row caching, and the heartbeat-backoff
// state machine. Following the teacher's Hub, map mutation happens under a
// single RWMutex and all I/O (store writes, fan-out) happens outside it.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/manlaberr"
	"github.com/manlab-io/manlab/internal/store"
	"github.com/rs/zerolog"
)

// Transport is the minimal send/close contract a session layer connection
// must satisfy — a weak handle (§9 "Cyclic ownership") so the registry never
// imports the transport package directly.
type Transport interface {
	// SafeSend pushes a frame without blocking; returns false if the
	// connection is closed or its outbound buffer is full.
	SafeSend(data []byte) bool
	Close()
}

// AgentSession is the in-memory handle for one connected agent (§3).
type AgentSession struct {
	NodeID              uuid.UUID
	Hostname            string
	Transport           Transport
	EstablishedAt       time.Time
	mu                  sync.Mutex
	lastHeartbeatAt     time.Time
	consecutiveFailures int
	nextRetryAt         time.Time
	offline             bool
}

func (s *AgentSession) snapshot() (lastHeartbeat time.Time, failures int, offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeatAt, s.consecutiveFailures, s.offline
}

// BackoffInfo exposes the current failure count and next-retry time for
// dashboard fan-out (§4.1 "BackoffStatus event").
func (s *AgentSession) BackoffInfo() (consecutiveFailures int, nextRetryAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures, s.nextRetryAt
}

// RegisterMeta is what Register needs to create-or-update a Node row.
type RegisterMeta struct {
	Hostname         string
	IP               string
	MAC              string
	OS               string
	AgentVersion     string
	PrimaryInterface string
	Capabilities     []byte
}

// Config tunes the heartbeat backoff state machine (§4.1).
type Config struct {
	HeartbeatInterval  time.Duration
	MissLimit          int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	NewestWinsTieBreak bool
}

// Registry is the process-wide Node Registry: injected at startup, not a
// re-entrant singleton (§9 "Global state").
type Registry struct {
	log   zerolog.Logger
	nodes *store.NodeRepo
	cfg   Config

	mu         sync.RWMutex
	sessions   map[uuid.UUID]*AgentSession
	byHostname map[string]uuid.UUID
}

func New(log zerolog.Logger, nodes *store.NodeRepo, cfg Config) *Registry {
	return &Registry{
		log:        log.With().Str("component", "registry").Logger(),
		nodes:      nodes,
		cfg:        cfg,
		sessions:   make(map[uuid.UUID]*AgentSession),
		byHostname: make(map[string]uuid.UUID),
	}
}

// Register creates-or-updates the Node row and binds a new session to it.
// If a live session already exists for the hostname, the newest-wins
// tie-break (§4.1, §9 open question, made configurable) closes the old one
// — unless disabled, in which case registration is rejected with Conflict.
func (r *Registry) Register(ctx context.Context, meta RegisterMeta, transport Transport) (*AgentSession, error) {
	if meta.Hostname == "" {
		return nil, manlaberr.ErrBadRequest
	}

	var existing *AgentSession
	r.mu.RLock()
	if id, ok := r.byHostname[meta.Hostname]; ok {
		existing = r.sessions[id]
	}
	r.mu.RUnlock()

	if existing != nil && !r.cfg.NewestWinsTieBreak {
		return nil, manlaberr.ErrConflict
	}

	node := &store.Node{
		ID:               uuid.New(),
		Hostname:         meta.Hostname,
		IP:               meta.IP,
		MAC:              meta.MAC,
		OS:               meta.OS,
		AgentVersion:     meta.AgentVersion,
		PrimaryInterface: meta.PrimaryInterface,
		Capabilities:     meta.Capabilities,
		Status:           "online",
		LastSeenAt:       time.Now(),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if existing != nil {
		node.ID = existing.NodeID
	}
	if err := r.nodes.Upsert(ctx, node); err != nil {
		return nil, manlaberr.ErrInternal
	}

	// Re-read to pick up the real id on first insert (uniqueIndex on hostname
	// means Upsert's ON CONFLICT path keeps the existing row's id, not node.ID).
	row, err := r.nodes.GetByHostname(ctx, meta.Hostname)
	if err != nil {
		return nil, manlaberr.ErrInternal
	}

	session := &AgentSession{
		NodeID:          row.ID,
		Hostname:        meta.Hostname,
		Transport:       transport,
		EstablishedAt:   time.Now(),
		lastHeartbeatAt: time.Now(),
	}

	r.mu.Lock()
	r.sessions[row.ID] = session
	r.byHostname[meta.Hostname] = row.ID
	r.mu.Unlock()

	if existing != nil {
		existing.Transport.Close()
		r.log.Warn().Str("hostname", meta.Hostname).Msg("superseded existing agent session")
	}

	return session, nil
}

// Unregister removes a session if it is still the current one for its node
// (a superseded session's own readPump unwinding must not evict the new one).
func (r *Registry) Unregister(session *AgentSession) {
	r.mu.Lock()
	current, ok := r.sessions[session.NodeID]
	stillCurrent := ok && current == session
	if stillCurrent {
		delete(r.sessions, session.NodeID)
		delete(r.byHostname, session.Hostname)
	}
	r.mu.Unlock()

	if !stillCurrent {
		return
	}

	if err := r.nodes.SetStatus(context.Background(), session.NodeID, "offline", 0, nil); err != nil {
		r.log.Error().Err(err).Str("node", session.NodeID.String()).Msg("failed to mark node offline")
	}
}

// Get returns the live session for a node, if any.
func (r *Registry) Get(nodeID uuid.UUID) (*AgentSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[nodeID]
	return s, ok
}

// Count returns the number of live sessions, for metrics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Heartbeat marks a session alive: idempotent — repeated heartbeats just
// refresh last-heartbeat-at and clear the failure counter.
func (r *Registry) Heartbeat(ctx context.Context, nodeID uuid.UUID) error {
	session, ok := r.Get(nodeID)
	if !ok {
		return manlaberr.ErrNotFound
	}

	session.mu.Lock()
	wasOffline := session.offline
	session.lastHeartbeatAt = time.Now()
	session.consecutiveFailures = 0
	session.offline = false
	session.mu.Unlock()

	if wasOffline {
		if err := r.nodes.SetStatus(ctx, nodeID, "online", 0, nil); err != nil {
			return manlaberr.ErrInternal
		}
	} else {
		_ = r.nodes.SetStatus(ctx, nodeID, "online", 0, nil)
	}
	return nil
}

// SweepHeartbeats runs the backoff state machine (§4.1) over every live
// session and returns the sessions that transitioned in this tick, so the
// caller can fan out BackoffStatus events without the registry depending on
// the broadcast layer.
func (r *Registry) SweepHeartbeats(ctx context.Context) []*AgentSession {
	r.mu.RLock()
	sessions := make([]*AgentSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var transitioned []*AgentSession
	now := time.Now()

	for _, s := range sessions {
		lastHB, _, wasOffline := s.snapshot()
		missed := int(now.Sub(lastHB) / r.cfg.HeartbeatInterval)
		if missed < r.cfg.MissLimit {
			continue
		}

		s.mu.Lock()
		s.consecutiveFailures = missed
		backoff := r.cfg.BackoffBase * time.Duration(1<<uint(min(missed, 30)))
		if backoff > r.cfg.BackoffCap || backoff <= 0 {
			backoff = r.cfg.BackoffCap
		}
		s.nextRetryAt = now.Add(backoff)
		s.offline = true
		nextRetry := s.nextRetryAt
		s.mu.Unlock()

		if err := r.nodes.SetStatus(ctx, s.NodeID, "offline", missed, &nextRetry); err != nil {
			r.log.Error().Err(err).Str("node", s.NodeID.String()).Msg("failed to persist offline status")
		}

		if !wasOffline {
			transitioned = append(transitioned, s)
		}
	}
	return transitioned
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
