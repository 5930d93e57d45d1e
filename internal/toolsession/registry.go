// Package toolsession implements the short-lived, TTL-bound session
// registries shared by terminal, log-viewer, file-browser, and download
// tools (§4.4): one generic handle registry with O(1) lookup, lazy expiry,
// and periodic sweep, specialized per tool in terminal.go/logfile.go/
// download.go.
package toolsession

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/manlaberr"
	"github.com/manlab-io/manlab/internal/metrics"
)

// Status is the lifecycle of a tool session handle.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusExpired Status = "expired"
	StatusFailed  Status = "failed"
)

// Handle is the shared shape of every §4.4 session kind: id, node id,
// created-at, expires-at, status, and a cancellation token that aborts
// pending work when the session closes.
type Handle struct {
	ID        string
	NodeID    uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
	PolicyID  *uuid.UUID

	mu          sync.Mutex
	status      Status
	cancel      context.CancelFunc
	ctx         context.Context
	onLeaveOpen func()
}

func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Context is cancelled when the session closes, expires, or fails — any
// pending I/O bound to the session should select on it.
func (h *Handle) Context() context.Context {
	return h.ctx
}

func (h *Handle) transition(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
	h.cancel()
	if h.onLeaveOpen != nil {
		h.onLeaveOpen()
	}
}

// Registry is a generic TTL-bound handle registry: O(1) lookup, lazy expiry
// on TryGet, periodic sweep for handles nobody looks up again (§4.4).
type Registry struct {
	kind       string
	defaultTTL time.Duration
	maxTTL     time.Duration

	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry builds a registry for one §4.4 tool kind ("terminal",
// "logviewer", "filebrowser", "download") — the kind labels the
// ToolSessionsActive gauge.
func NewRegistry(kind string, defaultTTL, maxTTL time.Duration) *Registry {
	return &Registry{
		kind:       kind,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		handles:    make(map[string]*Handle),
	}
}

// Create allocates a new handle. A zero ttl uses the default; a ttl beyond
// maxTTL is rejected, as is a negative one (§4.4 "enforce the max TTL and
// reject zero/negative TTLs" — zero is accepted here as "use default",
// matching how every call site treats an unset duration).
func (r *Registry) Create(nodeID uuid.UUID, ttl time.Duration, policyID *uuid.UUID) (*Handle, error) {
	if ttl < 0 {
		return nil, manlaberr.ErrBadRequest
	}
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	if ttl > r.maxTTL {
		return nil, manlaberr.ErrBadRequest
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	h := &Handle{
		ID:        uuid.NewString(),
		NodeID:    nodeID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		PolicyID:  policyID,
		status:    StatusOpen,
		ctx:       ctx,
		cancel:    cancel,
	}
	h.onLeaveOpen = func() { metrics.ToolSessionsActive.WithLabelValues(r.kind).Dec() }

	r.mu.Lock()
	r.handles[h.ID] = h
	r.mu.Unlock()
	metrics.ToolSessionsActive.WithLabelValues(r.kind).Inc()
	return h, nil
}

// TryGet returns the handle if open and unexpired. A session found past its
// expires-at is lazily transitioned to Expired and reported as not found
// (§4.4, §8 "a session older than its TTL fails every lookup").
func (r *Registry) TryGet(id string) (*Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return nil, manlaberr.ErrNotFound
	}

	if h.Status() != StatusOpen {
		return nil, manlaberr.ErrNotFound
	}

	if !time.Now().Before(h.ExpiresAt) {
		h.transition(StatusExpired)
		return nil, manlaberr.ErrNotFound
	}

	return h, nil
}

// Close transitions a handle to Closed and cancels its token, idempotent on
// an already-terminal handle.
func (r *Registry) Close(id string) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if h.Status() == StatusOpen {
		h.transition(StatusClosed)
	}
}

// Fail transitions a handle to Failed, for when the underlying tool I/O
// breaks rather than the caller closing it.
func (r *Registry) Fail(id string) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if h.Status() == StatusOpen {
		h.transition(StatusFailed)
	}
}

// Sweep reclaims memory for any handle past its expiry, independent of
// TryGet ever being called again for it.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, h := range r.handles {
		if h.Status() != StatusOpen {
			delete(r.handles, id)
			continue
		}
		if !now.Before(h.ExpiresAt) {
			h.transition(StatusExpired)
			delete(r.handles, id)
		}
	}
}

// RunSweeper runs Sweep on a fixed interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
