package toolsession

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/manlaberr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateRejectsOutOfRangeTTL(t *testing.T) {
	r := NewRegistry("terminal", time.Minute, 5*time.Minute)

	_, err := r.Create(uuid.New(), -time.Second, nil)
	assert.ErrorIs(t, err, manlaberr.ErrBadRequest)

	_, err = r.Create(uuid.New(), time.Hour, nil)
	assert.ErrorIs(t, err, manlaberr.ErrBadRequest)
}

func TestRegistry_CreateZeroTTLUsesDefault(t *testing.T) {
	r := NewRegistry("terminal", time.Minute, 5*time.Minute)

	h, err := r.Create(uuid.New(), 0, nil)
	require.NoError(t, err)
	assert.WithinDuration(t, h.CreatedAt.Add(time.Minute), h.ExpiresAt, time.Second)
}

func TestRegistry_TryGetExpiresLazily(t *testing.T) {
	r := NewRegistry("terminal", time.Millisecond, time.Second)

	h, err := r.Create(uuid.New(), 0, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = r.TryGet(h.ID)
	assert.ErrorIs(t, err, manlaberr.ErrNotFound)
	assert.Equal(t, StatusExpired, h.Status())
}

func TestRegistry_TryGetUnknownID(t *testing.T) {
	r := NewRegistry("terminal", time.Minute, 5*time.Minute)
	_, err := r.TryGet("does-not-exist")
	assert.ErrorIs(t, err, manlaberr.ErrNotFound)
}

func TestRegistry_CloseIsIdempotent(t *testing.T) {
	r := NewRegistry("terminal", time.Minute, 5*time.Minute)
	h, err := r.Create(uuid.New(), 0, nil)
	require.NoError(t, err)

	r.Close(h.ID)
	assert.Equal(t, StatusClosed, h.Status())

	r.Close(h.ID) // second close must not panic or change status
	assert.Equal(t, StatusClosed, h.Status())
}

func TestRegistry_FailOnlyAppliesToOpenHandles(t *testing.T) {
	r := NewRegistry("terminal", time.Minute, 5*time.Minute)
	h, err := r.Create(uuid.New(), 0, nil)
	require.NoError(t, err)

	r.Close(h.ID)
	r.Fail(h.ID)
	assert.Equal(t, StatusClosed, h.Status(), "Fail must not override an already-closed handle")
}

func TestRegistry_SweepRemovesExpiredAndNonOpenHandles(t *testing.T) {
	r := NewRegistry("terminal", time.Millisecond, time.Hour)

	expired, err := r.Create(uuid.New(), 0, nil)
	require.NoError(t, err)
	closed, err := r.Create(uuid.New(), time.Hour, nil)
	require.NoError(t, err)
	r.Close(closed.ID)

	time.Sleep(5 * time.Millisecond)
	r.Sweep()

	_, ok := r.handles[expired.ID]
	assert.False(t, ok)
	_, ok = r.handles[closed.ID]
	assert.False(t, ok)
}

func TestHandle_ContextCancelledOnTransition(t *testing.T) {
	r := NewRegistry("terminal", time.Minute, 5*time.Minute)
	h, err := r.Create(uuid.New(), 0, nil)
	require.NoError(t, err)

	select {
	case <-h.Context().Done():
		t.Fatal("context should not be cancelled while open")
	default:
	}

	r.Close(h.ID)
	select {
	case <-h.Context().Done():
	default:
		t.Fatal("context should be cancelled after close")
	}
}
