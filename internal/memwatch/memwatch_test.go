package memwatch

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeCleaner struct {
	name  string
	calls int
}

func (f *fakeCleaner) Name() string { return f.name }
func (f *fakeCleaner) Cleanup()     { f.calls++ }

func TestMonitor_OnHighRunsCleanersAndDrainsPool(t *testing.T) {
	c1 := &fakeCleaner{name: "terminal"}
	c2 := &fakeCleaner{name: "streaming"}
	pool := NewBufferPool(64)

	m := New(zerolog.Nop(), Config{
		HighWatermark:     0.85,
		CriticalWatermark: 0.95,
		CleanupCooldown:   time.Minute,
	}, pool, c1, c2)

	m.onHigh(0.9)
	assert.Equal(t, 1, c1.calls)
	assert.Equal(t, 1, c2.calls)
}

func TestMonitor_OnHighRespectsCooldown(t *testing.T) {
	c := &fakeCleaner{name: "terminal"}
	m := New(zerolog.Nop(), Config{
		HighWatermark:     0.85,
		CriticalWatermark: 0.95,
		CleanupCooldown:   time.Hour,
	}, NewBufferPool(64), c)

	m.onHigh(0.9)
	m.onHigh(0.9) // within cooldown window, must be a no-op
	assert.Equal(t, 1, c.calls)
}

func TestMonitor_OnCriticalAlwaysRunsIgnoringCooldown(t *testing.T) {
	c := &fakeCleaner{name: "terminal"}
	m := New(zerolog.Nop(), Config{
		HighWatermark:     0.85,
		CriticalWatermark: 0.95,
		CleanupCooldown:   time.Hour,
	}, NewBufferPool(64), c)

	m.onCritical(0.97)
	m.onCritical(0.98)
	assert.Equal(t, 2, c.calls, "critical cleanup is never debounced")
}
