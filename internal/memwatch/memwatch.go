// Package memwatch implements Memory-Pressure & Cleanup (§4.7): a
// background sampler that compares system memory pressure against
// high/critical watermarks and triggers debounced cleanup across the
// session/stream registries plus buffer-pool release.
package memwatch

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/manlab-io/manlab/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/mem"
)

// Config tunes the high/critical watermarks and the cleanup cooldown (§4.7
// defaults: 85%/95%, 2 min).
type Config struct {
	HighWatermark     float64
	CriticalWatermark float64
	CleanupCooldown   time.Duration
	SampleInterval    time.Duration
}

// Cleaner is implemented by every registry memwatch can ask to release
// memory under pressure (toolsession registries, streaming.Registry).
type Cleaner interface {
	// Name identifies the cleaner in log output.
	Name() string
	// Cleanup reclaims whatever memory it safely can — for session
	// registries this is the normal expiry sweep; for the streaming
	// registry it's the terminal/stale-stream sweep.
	Cleanup()
}

// Monitor samples system memory pressure on a fixed interval and runs
// cleanup when it crosses the high or critical watermark.
type Monitor struct {
	log      zerolog.Logger
	cfg      Config
	cleaners []Cleaner
	pool     *BufferPool

	mu            sync.Mutex
	lastCleanupAt time.Time
	wasCritical   bool
}

func New(log zerolog.Logger, cfg Config, pool *BufferPool, cleaners ...Cleaner) *Monitor {
	return &Monitor{
		log:      log.With().Str("component", "memwatch").Logger(),
		cfg:      cfg,
		cleaners: cleaners,
		pool:     pool,
	}
}

// Run samples memory pressure until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to sample memory pressure")
		return
	}
	ratio := vm.UsedPercent / 100
	metrics.MemoryPressureRatio.Set(ratio)

	switch {
	case ratio >= m.cfg.CriticalWatermark:
		m.onCritical(ratio)
	case ratio >= m.cfg.HighWatermark:
		m.onHigh(ratio)
	default:
		m.mu.Lock()
		m.wasCritical = false
		m.mu.Unlock()
	}
}

// onHigh runs cleanup + buffer release, debounced by CleanupCooldown — it
// will not run again within the cooldown window unless a critical sample
// resets the debounce (§4.7 "cooldown reset at critical").
func (m *Monitor) onHigh(ratio float64) {
	m.mu.Lock()
	since := time.Since(m.lastCleanupAt)
	if since < m.cfg.CleanupCooldown {
		m.mu.Unlock()
		return
	}
	m.lastCleanupAt = time.Now()
	m.mu.Unlock()

	m.log.Warn().Float64("ratio", ratio).Msg("memory pressure high, running cleanup")
	metrics.MemoryCleanupsTotal.WithLabelValues("high").Inc()
	m.runCleaners()
	if m.pool != nil {
		m.pool.Drain()
	}
}

// onCritical always runs cleanup (resetting the debounce window) and forces
// aggressive compaction via debug.FreeOSMemory (§4.7 "on critical, it also
// forces aggressive compaction").
func (m *Monitor) onCritical(ratio float64) {
	m.mu.Lock()
	m.lastCleanupAt = time.Now()
	m.wasCritical = true
	m.mu.Unlock()

	m.log.Error().Float64("ratio", ratio).Msg("memory pressure critical, running aggressive cleanup")
	metrics.MemoryCleanupsTotal.WithLabelValues("critical").Inc()
	m.runCleaners()
	if m.pool != nil {
		m.pool.Drain()
	}
	debug.FreeOSMemory()
}

func (m *Monitor) runCleaners() {
	for _, c := range m.cleaners {
		c.Cleanup()
		m.log.Info().Str("cleaner", c.Name()).Msg("ran memory-pressure cleanup")
	}
}
