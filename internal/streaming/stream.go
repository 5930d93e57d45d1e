// Package streaming implements the Streaming Subsystem (§4.3): a
// credit-based bounded channel per download stream, with end-to-end
// backpressure, throttled progress publication, and a background sweeper for
// stale or terminal streams. Only file downloads use it; terminal output
// travels through toolsession.Terminals, and command output is not streamed.
package streaming

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Download is a live byte-channel pair bound to a DownloadSession (§3
// "StreamingDownload"). The channel is single-writer/single-reader; closing
// it completes the reader with success or a carried error (§9 "error-carrying
// channels").
type Download struct {
	ID            string
	NodeID        uuid.UUID
	VirtualPath   string
	StartOffset   int64
	EndOffset     int64
	TotalBytes    int64 // -1 when unknown
	CreatedAt     time.Time

	chunks        chan []byte
	bytesReceived atomic.Int64
	lastActivity  atomic.Int64 // unix nano

	mu        sync.Mutex
	completed bool
	err       error

	progressMu      sync.Mutex
	lastProgressAt  time.Time
	lastProgressPct float64
}

func newDownload(id string, nodeID uuid.UUID, virtualPath string, start, end, total int64, capacity int) *Download {
	d := &Download{
		ID:          id,
		NodeID:      nodeID,
		VirtualPath: virtualPath,
		StartOffset: start,
		EndOffset:   end,
		TotalBytes:  total,
		CreatedAt:   time.Now(),
		chunks:      make(chan []byte, capacity),
	}
	d.lastActivity.Store(time.Now().UnixNano())
	return d
}

// Write pushes one chunk from the agent side. Blocking send provides
// backpressure all the way to the agent's transport; writing to an
// already-completed/failed stream is a no-op returning false. Follows the
// teacher's panic-recovering send (session.Client.SafeSend) so a race
// between this and Complete/Fail closing d.chunks can never panic the
// caller, since the completed check and the send can't be made atomic
// without holding d.mu across the blocking channel send.
func (d *Download) Write(ctx context.Context, chunk []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	d.mu.Lock()
	done := d.completed
	d.mu.Unlock()
	if done {
		return false
	}

	select {
	case d.chunks <- chunk:
		d.bytesReceived.Add(int64(len(chunk)))
		d.lastActivity.Store(time.Now().UnixNano())
		return true
	case <-ctx.Done():
		return false
	}
}

// Read consumes the next chunk in FIFO order. ok=false means end-of-stream;
// err carries the reason if the stream ended abnormally (cancelled or
// agent-side failure) rather than successfully.
func (d *Download) Read(ctx context.Context) (chunk []byte, ok bool, err error) {
	select {
	case chunk, open := <-d.chunks:
		if !open {
			d.mu.Lock()
			err = d.err
			d.mu.Unlock()
			return nil, false, err
		}
		return chunk, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Complete ends the stream successfully. Writing to a completed stream is a
// no-op per Write's contract.
func (d *Download) Complete(totalBytes int64) {
	d.mu.Lock()
	if d.completed {
		d.mu.Unlock()
		return
	}
	d.completed = true
	if totalBytes > 0 {
		d.TotalBytes = totalBytes
	}
	d.mu.Unlock()
	close(d.chunks)
}

// Fail ends the stream carrying an error — the reader observes this as
// end-of-stream-with-reason (§9).
func (d *Download) Fail(err error) {
	d.mu.Lock()
	if d.completed {
		d.mu.Unlock()
		return
	}
	d.completed = true
	d.err = err
	d.mu.Unlock()
	close(d.chunks)
}

// Cancel is Fail with a fixed sentinel reason, used by both dispatcher-side
// and session-side cancellation (§4.3 "Cancellation from either side").
func (d *Download) Cancel() {
	d.Fail(ErrCancelled)
}

// BytesReceived is read atomically for progress reporting (§4.3).
func (d *Download) BytesReceived() int64 {
	return d.bytesReceived.Load()
}

// IsTerminal reports whether the stream has completed (successfully or not).
func (d *Download) IsTerminal() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

// Err returns the terminal error, if the stream ended abnormally. nil on a
// stream that is still open or that completed successfully.
func (d *Download) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// shouldPublishProgress throttles progress events to at most once per
// `every` or per `pctThreshold` percent, whichever comes first (§4.3).
func (d *Download) shouldPublishProgress(every time.Duration, pctThreshold float64) bool {
	d.progressMu.Lock()
	defer d.progressMu.Unlock()

	now := time.Now()
	var pct float64
	if d.TotalBytes > 0 {
		pct = float64(d.BytesReceived()) / float64(d.TotalBytes) * 100
	}

	if now.Sub(d.lastProgressAt) >= every || pct-d.lastProgressPct >= pctThreshold {
		d.lastProgressAt = now
		d.lastProgressPct = pct
		return true
	}
	return false
}
