package streaming

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/metrics"
	"github.com/manlab-io/manlab/internal/protocol"
	"github.com/manlab-io/manlab/internal/session"
	"github.com/rs/zerolog"
)

// Config tunes channel capacity, chunk size, progress throttling, and the
// sweeper's hard max age (§4.3 defaults: 16 chunks of 1 MiB, 250ms/N%, 4h).
type Config struct {
	ChannelCapacity int
	ChunkBytes      int
	ProgressEvery   time.Duration
	ProgressPct     float64
	MaxAge          time.Duration
}

// Registry owns every live Download, created by the dispatcher and consumed
// by an HTTP handler — co-owned per §3's ownership summary.
type Registry struct {
	log zerolog.Logger
	hub *session.Hub
	cfg Config

	mu      sync.RWMutex
	streams map[string]*Download
}

func New(log zerolog.Logger, hub *session.Hub, cfg Config) *Registry {
	return &Registry{
		log:     log.With().Str("component", "streaming").Logger(),
		hub:     hub,
		cfg:     cfg,
		streams: make(map[string]*Download),
	}
}

// Create registers a new Download bound to a session id echoed on every
// chunk (§4.3 "Session binding").
func (r *Registry) Create(nodeID uuid.UUID, virtualPath string, startOffset, endOffset, totalBytes int64) *Download {
	d := newDownload(uuid.NewString(), nodeID, virtualPath, startOffset, endOffset, totalBytes, r.cfg.ChannelCapacity)

	r.mu.Lock()
	r.streams[d.ID] = d
	r.mu.Unlock()
	metrics.StreamsActive.Inc()

	r.hub.BroadcastEvent(protocol.TypeDownloadStatus, map[string]any{
		"stream_id": d.ID,
		"node_id":   nodeID,
		"status":    "preparing",
	})
	return d
}

func (r *Registry) Get(streamID string) (*Download, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.streams[streamID]
	return d, ok
}

func (r *Registry) remove(streamID string) {
	r.mu.Lock()
	_, existed := r.streams[streamID]
	delete(r.streams, streamID)
	r.mu.Unlock()
	if existed {
		metrics.StreamsActive.Dec()
	}
}

// OnStreamChunk implements session.StreamHandler. Orphan chunks (unknown
// id) are dropped with a warning (§4.3).
func (r *Registry) OnStreamChunk(nodeID uuid.UUID, payload protocol.StreamChunkPayload) {
	d, ok := r.Get(payload.StreamID)
	if !ok {
		r.log.Warn().Str("stream_id", payload.StreamID).Msg("orphan stream chunk, dropped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if !d.Write(ctx, payload.Data) {
		return
	}
	metrics.StreamBytesTotal.Add(float64(len(payload.Data)))

	if d.shouldPublishProgress(r.cfg.ProgressEvery, r.cfg.ProgressPct) {
		r.hub.BroadcastEvent(protocol.TypeDownloadProgress, map[string]any{
			"stream_id":      d.ID,
			"node_id":        nodeID,
			"bytes_received": d.BytesReceived(),
			"total_bytes":    d.TotalBytes,
		})
	}
}

func (r *Registry) OnStreamComplete(nodeID uuid.UUID, payload protocol.StreamCompletePayload) {
	d, ok := r.Get(payload.StreamID)
	if !ok {
		r.log.Warn().Str("stream_id", payload.StreamID).Msg("orphan stream complete, dropped")
		return
	}
	d.Complete(payload.TotalBytes)
	r.hub.BroadcastEvent(protocol.TypeDownloadStatus, map[string]any{
		"stream_id":   d.ID,
		"node_id":     nodeID,
		"status":      "completed",
		"total_bytes": d.BytesReceived(),
	})
}

func (r *Registry) OnStreamError(nodeID uuid.UUID, payload protocol.StreamErrorPayload) {
	d, ok := r.Get(payload.StreamID)
	if !ok {
		r.log.Warn().Str("stream_id", payload.StreamID).Msg("orphan stream error, dropped")
		return
	}
	d.Fail(fmt.Errorf("%s: %s", payload.Reason, payload.Message))
	r.hub.BroadcastEvent(protocol.TypeDownloadStatus, map[string]any{
		"stream_id": d.ID,
		"node_id":   nodeID,
		"status":    "failed",
		"reason":    payload.Reason,
	})
}

// CancelStream cancels a stream from the hub/HTTP side (§4.3 "Cancellation
// from either side").
func (r *Registry) CancelStream(streamID string) bool {
	d, ok := r.Get(streamID)
	if !ok {
		return false
	}
	d.Cancel()
	return true
}

// RunSweeper periodically removes streams past MaxAge or already terminal,
// closing their channels and reclaiming memory (§4.3 "Cleanup").
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

// ForceSweep runs one sweep pass immediately, outside the ticker — used by
// internal/memwatch under memory pressure (§4.7).
func (r *Registry) ForceSweep() {
	r.sweepOnce()
}

// Name and Cleanup satisfy memwatch.Cleaner without this package importing
// internal/memwatch — Go interfaces are structural.
func (r *Registry) Name() string { return "streaming" }
func (r *Registry) Cleanup()     { r.ForceSweep() }

func (r *Registry) sweepOnce() {
	r.mu.RLock()
	candidates := make([]*Download, 0, len(r.streams))
	for _, d := range r.streams {
		candidates = append(candidates, d)
	}
	r.mu.RUnlock()

	now := time.Now()
	for _, d := range candidates {
		if d.IsTerminal() {
			r.remove(d.ID)
			continue
		}
		if now.Sub(d.CreatedAt) > r.cfg.MaxAge {
			d.Fail(fmt.Errorf("stream exceeded max age %s", r.cfg.MaxAge))
			r.remove(d.ID)
			r.log.Warn().Str("stream_id", d.ID).Msg("swept stream past hard max age")
		}
	}
}
