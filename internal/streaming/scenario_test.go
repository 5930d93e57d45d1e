package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/protocol"
	"github.com/manlab-io/manlab/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	hub := session.NewHub(zerolog.Nop(), nil)
	return New(zerolog.Nop(), hub, Config{
		ChannelCapacity: 4,
		ChunkBytes:      1024,
		ProgressEvery:   time.Hour,
		ProgressPct:     100,
		MaxAge:          time.Hour,
	})
}

// TestStream_WriteReadCompleteRoundTrip drives a full S3-adjacent happy path:
// Create, several Writes via OnStreamChunk, then OnStreamComplete — the
// reader must observe every chunk in order followed by a clean end-of-stream
// with no error.
func TestStream_WriteReadCompleteRoundTrip(t *testing.T) {
	r := newTestRegistry()
	d := r.Create(uuid.New(), "/var/log/app.log", 0, -1, -1)

	r.OnStreamChunk(d.NodeID, protocol.StreamChunkPayload{StreamID: d.ID, Data: []byte("chunk-1")})
	r.OnStreamChunk(d.NodeID, protocol.StreamChunkPayload{StreamID: d.ID, Data: []byte("chunk-2")})
	r.OnStreamComplete(d.NodeID, protocol.StreamCompletePayload{StreamID: d.ID, TotalBytes: 14})

	ctx := context.Background()
	chunk, ok, err := d.Read(ctx)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "chunk-1", string(chunk))

	chunk, ok, err = d.Read(ctx)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "chunk-2", string(chunk))

	_, ok, err = d.Read(ctx)
	assert.False(t, ok)
	assert.NoError(t, err)
}

// TestStream_CancelDuringTransfer is scenario S3 (cancel a file.stream
// mid-transfer): CancelStream concurrent with in-flight Writes must never
// panic the writer, and the reader must observe ErrCancelled once draining
// finishes.
func TestStream_CancelDuringTransfer(t *testing.T) {
	r := newTestRegistry()
	d := r.Create(uuid.New(), "/var/log/app.log", 0, -1, -1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.OnStreamChunk(d.NodeID, protocol.StreamChunkPayload{StreamID: d.ID, Data: []byte("x")})
		}
	}()

	assert.True(t, r.CancelStream(d.ID))
	wg.Wait()

	// drain whatever made it onto the channel before Cancel closed it.
	ctx := context.Background()
	var lastErr error
	for {
		_, ok, err := d.Read(ctx)
		if !ok {
			lastErr = err
			break
		}
	}
	assert.ErrorIs(t, lastErr, ErrCancelled)

	// a second cancel is a no-op, matching Fail's idempotent contract.
	assert.True(t, r.CancelStream(d.ID))
}

// TestDownload_WriteAfterCompleteIsNoOp is the Write/Complete round-trip law:
// no bytes accepted after the stream has ended, and no panic.
func TestDownload_WriteAfterCompleteIsNoOp(t *testing.T) {
	d := newDownload("s1", uuid.New(), "/x", 0, -1, -1, 4)
	d.Complete(0)

	sent := d.Write(context.Background(), []byte("too-late"))
	assert.False(t, sent)
}

func TestDownload_FailCarriesErrorToReader(t *testing.T) {
	d := newDownload("s1", uuid.New(), "/x", 0, -1, -1, 4)
	d.Fail(ErrCancelled)

	_, ok, err := d.Read(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCancelled)
}
