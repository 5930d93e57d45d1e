package toolsession

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/manlaberr"
	"github.com/manlab-io/manlab/internal/streaming"
)

// DownloadStatus is the status machine of a DownloadSession (§4.4):
// Queued -> Preparing -> Ready -> Downloading -> (Completed | Failed | Cancelled).
type DownloadStatus string

const (
	DownloadQueued      DownloadStatus = "queued"
	DownloadPreparing   DownloadStatus = "preparing"
	DownloadReady       DownloadStatus = "ready"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
	DownloadCancelled   DownloadStatus = "cancelled"
)

// DownloadSession binds a tool-session Handle to a streaming.Download, so the
// generic TTL/cancellation machinery applies uniformly while the byte
// transfer itself stays owned by internal/streaming (§3, §4.4).
type DownloadSession struct {
	Handle *Handle
	Stream *streaming.Download
}

// Downloads wraps the generic Registry for the download tool kind. It holds
// no policy (path validation for downloads happens one level up, at the
// file-browser session that requested the download).
type Downloads struct {
	reg     *Registry
	streams *streaming.Registry
}

func NewDownloads(defaultTTL, maxTTL time.Duration, streams *streaming.Registry) *Downloads {
	return &Downloads{reg: NewRegistry("download", defaultTTL, maxTTL), streams: streams}
}

// Create opens a tool-session handle and a bound streaming.Download in one
// step, starting life as Queued/Preparing.
func (d *Downloads) Create(nodeID uuid.UUID, virtualPath string, startOffset, endOffset, totalBytes int64, ttl time.Duration) (*DownloadSession, error) {
	h, err := d.reg.Create(nodeID, ttl, nil)
	if err != nil {
		return nil, err
	}

	stream := d.streams.Create(nodeID, virtualPath, startOffset, endOffset, totalBytes)
	return &DownloadSession{Handle: h, Stream: stream}, nil
}

// Get resolves both halves of a download session by handle id, failing if
// either the handle or its bound stream is gone.
func (d *Downloads) Get(handleID string, streamID string) (*DownloadSession, error) {
	h, err := d.reg.TryGet(handleID)
	if err != nil {
		return nil, err
	}
	stream, ok := d.streams.Get(streamID)
	if !ok {
		return nil, manlaberr.ErrNotFound
	}
	return &DownloadSession{Handle: h, Stream: stream}, nil
}

// Cancel cancels the bound stream and closes the tool-session handle,
// propagating through the handle's own cancellation token (§4.4, §4.3
// "Cancellation from either side").
func (d *Downloads) Cancel(handleID, streamID string) {
	d.streams.CancelStream(streamID)
	d.reg.Close(handleID)
}

func (d *Downloads) RunSweeper(ctx context.Context, interval time.Duration) {
	d.reg.RunSweeper(ctx, interval)
}

// Name and Cleanup satisfy memwatch.Cleaner structurally (§4.7).
func (d *Downloads) Name() string { return "download_sessions" }
func (d *Downloads) Cleanup()     { d.reg.Sweep() }

// Status derives the session-level status from the underlying stream's
// terminal state, folding streaming.Download's binary completed/err view
// into the richer DownloadStatus enum.
func (s *DownloadSession) Status() DownloadStatus {
	if !s.Stream.IsTerminal() {
		if s.Stream.BytesReceived() > 0 {
			return DownloadDownloading
		}
		return DownloadPreparing
	}

	switch s.Stream.Err() {
	case nil:
		return DownloadCompleted
	case streaming.ErrCancelled:
		return DownloadCancelled
	default:
		return DownloadFailed
	}
}
