package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/metrics"
	"github.com/manlab-io/manlab/internal/store"
)

// counterSample caches the previous byte counters for one interface so the
// next tick can derive a rate — "first observation establishes baseline and
// produces no rate values" (§4.5).
type counterSample struct {
	at      time.Time
	rxBytes uint64
	txBytes uint64
}

var (
	trafficBaselineMu sync.Mutex
	trafficBaseline   = map[uuid.UUID]counterSample{}
)

// runTrafficSample implements the §4.5 traffic-monitor algorithm: enumerate
// interfaces (skipping loopback/tunnel), diff byte counters against the
// cached previous sample, and persist rx/tx bytes/sec plus utilization.
func (s *Scheduler) runTrafficSample(ctx context.Context, configID uuid.UUID) {
	cfgs, err := s.monitors.ListEnabledTrafficConfigs(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to reload traffic monitor configs at tick time")
		return
	}

	var cfg *store.TrafficMonitorConfig
	for i := range cfgs {
		if cfgs[i].ID == configID {
			cfg = &cfgs[i]
			break
		}
	}
	if cfg == nil {
		return
	}

	counters, err := gopsnet.IOCountersWithContext(ctx, true)
	if err != nil {
		metrics.MonitorRunsTotal.WithLabelValues("traffic", "failure").Inc()
		s.log.Error().Err(err).Str("config", cfg.ID.String()).Msg("failed to read interface counters")
		return
	}

	for _, c := range counters {
		if c.Name != cfg.Interface {
			continue
		}
		if isLoopbackOrTunnel(c.Name) {
			return
		}
		metrics.MonitorRunsTotal.WithLabelValues("traffic", "success").Inc()
		s.recordTrafficSample(ctx, *cfg, c.BytesRecv, c.BytesSent)
		return
	}
	metrics.MonitorRunsTotal.WithLabelValues("traffic", "failure").Inc()
}

func isLoopbackOrTunnel(name string) bool {
	n := strings.ToLower(name)
	return n == "lo" || strings.HasPrefix(n, "lo0") || strings.HasPrefix(n, "tun") || strings.HasPrefix(n, "tap") || strings.HasPrefix(n, "docker") || strings.HasPrefix(n, "veth")
}

func (s *Scheduler) recordTrafficSample(ctx context.Context, cfg store.TrafficMonitorConfig, rxBytes, txBytes uint64) {
	now := time.Now()

	trafficBaselineMu.Lock()
	prev, ok := trafficBaseline[cfg.ID]
	trafficBaseline[cfg.ID] = counterSample{at: now, rxBytes: rxBytes, txBytes: txBytes}
	trafficBaselineMu.Unlock()

	if !ok {
		return // baseline established, no rate to record yet
	}

	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return
	}

	rxPerSec := float64(rxBytes-prev.rxBytes) / elapsed
	txPerSec := float64(txBytes-prev.txBytes) / elapsed

	sample := store.TrafficMonitorSample{
		ConfigID:      cfg.ID,
		RxBytesPerSec: rxPerSec,
		TxBytesPerSec: txPerSec,
		CreatedAt:     now,
	}
	if cfg.LinkSpeedBps > 0 {
		util := (rxPerSec + txPerSec) * 8 / float64(cfg.LinkSpeedBps) * 100
		sample.UtilPercent = &util
	}

	if err := s.monitors.RecordTrafficSample(ctx, &sample); err != nil {
		s.log.Error().Err(err).Str("config", cfg.ID.String()).Msg("failed to record traffic sample")
	}
}
