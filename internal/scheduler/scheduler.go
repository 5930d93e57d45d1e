// Package scheduler implements the Monitor Scheduler (§4.5): in-process cron
// probes (HTTP/traffic/network-tool) and a fixed-interval command-enqueuing
// scheduler (service-status refresh), wrapping gocron the way the teacher's
// own scheduler wraps it for backup-policy jobs — singleton mode per job,
// misfires discarded.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/dispatch"
	"github.com/manlab-io/manlab/internal/metrics"
	"github.com/manlab-io/manlab/internal/protocol"
	"github.com/manlab-io/manlab/internal/store"
	"github.com/rs/zerolog"
)

// Config tunes the service-status scheduler's tick, cooldown, and staleness
// gates (§4.5 "fixed interval... pending-cooldown... min-snapshot-age").
type Config struct {
	ServiceStatusInterval time.Duration
	ServiceStatusCooldown time.Duration
	MinSnapshotAge        time.Duration
}

// Scheduler owns every gocron job for the three §4.5 job families and the
// ticker-driven service-status scheduler.
type Scheduler struct {
	cron     gocron.Scheduler
	monitors *store.MonitorRepo
	nodes    *store.NodeRepo
	commands *store.CommandRepo
	dispatch *dispatch.Dispatcher
	log      zerolog.Logger
	cfg      Config
}

func New(monitors *store.MonitorRepo, nodes *store.NodeRepo, commands *store.CommandRepo, disp *dispatch.Dispatcher, log zerolog.Logger, cfg Config) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		cron:     cron,
		monitors: monitors,
		nodes:    nodes,
		commands: commands,
		dispatch: disp,
		log:      log.With().Str("component", "scheduler").Logger(),
		cfg:      cfg,
	}, nil
}

// Start bootstraps every persisted cron-scheduled config, starts the
// service-status ticker, and starts the underlying gocron scheduler (§4.5
// "Bootstrapping: at startup, every persisted cron-scheduled config is
// re-registered with the scheduler").
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.bootstrapHTTPJobs(ctx); err != nil {
		return err
	}
	if err := s.bootstrapTrafficJobs(ctx); err != nil {
		return err
	}
	if err := s.bootstrapNetworkToolJobs(ctx); err != nil {
		return err
	}

	s.cron.Start()
	go s.runServiceStatusLoop(ctx)
	s.log.Info().Msg("monitor scheduler started")
	return nil
}

// Stop gracefully shuts down the gocron scheduler, waiting for any in-flight
// job runs to finish.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown error: %w", err)
	}
	return nil
}

func (s *Scheduler) bootstrapHTTPJobs(ctx context.Context) error {
	cfgs, err := s.monitors.ListEnabledHTTPConfigs(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list http monitor configs: %w", err)
	}
	for i := range cfgs {
		if err := s.addHTTPJob(cfgs[i]); err != nil {
			s.log.Error().Err(err).Str("config", cfgs[i].ID.String()).Msg("failed to schedule http monitor")
		}
	}
	s.log.Info().Int("count", len(cfgs)).Msg("http monitors scheduled")
	return nil
}

func (s *Scheduler) bootstrapTrafficJobs(ctx context.Context) error {
	cfgs, err := s.monitors.ListEnabledTrafficConfigs(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list traffic monitor configs: %w", err)
	}
	for i := range cfgs {
		if err := s.addTrafficJob(cfgs[i]); err != nil {
			s.log.Error().Err(err).Str("config", cfgs[i].ID.String()).Msg("failed to schedule traffic monitor")
		}
	}
	s.log.Info().Int("count", len(cfgs)).Msg("traffic monitors scheduled")
	return nil
}

func (s *Scheduler) bootstrapNetworkToolJobs(ctx context.Context) error {
	cfgs, err := s.monitors.ListEnabledNetworkToolConfigs(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list network tool configs: %w", err)
	}
	for i := range cfgs {
		if err := s.addNetworkToolJob(cfgs[i]); err != nil {
			s.log.Error().Err(err).Str("config", cfgs[i].ID.String()).Msg("failed to schedule network tool")
		}
	}
	s.log.Info().Int("count", len(cfgs)).Msg("scheduled network tools scheduled")
	return nil
}

// addHTTPJob registers a cron-scheduled HTTP monitor probe with singleton
// mode (disallow-concurrent-execution) and misfires discarded, mirroring
// the teacher's policy->gocron.NewJob binding.
func (s *Scheduler) addHTTPJob(cfg store.HttpMonitorConfig) error {
	_, err := s.cron.NewJob(
		gocron.CronJob(cfg.CronSchedule, false),
		gocron.NewTask(func(id uuid.UUID) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.runHTTPCheck(ctx, id)
		}, cfg.ID),
		gocron.WithTags(cfg.ID.String()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: http job %s: %w", cfg.ID, err)
	}
	return nil
}

func (s *Scheduler) addTrafficJob(cfg store.TrafficMonitorConfig) error {
	_, err := s.cron.NewJob(
		gocron.CronJob(cfg.CronSchedule, false),
		gocron.NewTask(func(id uuid.UUID) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			s.runTrafficSample(ctx, id)
		}, cfg.ID),
		gocron.WithTags(cfg.ID.String()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: traffic job %s: %w", cfg.ID, err)
	}
	return nil
}

func (s *Scheduler) addNetworkToolJob(cfg store.ScheduledNetworkToolConfig) error {
	_, err := s.cron.NewJob(
		gocron.CronJob(cfg.CronSchedule, false),
		gocron.NewTask(func(id uuid.UUID) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.runNetworkTool(ctx, id)
		}, cfg.ID),
		gocron.WithTags(cfg.ID.String()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: network tool job %s: %w", cfg.ID, err)
	}
	return nil
}

// TriggerHTTP runs one HTTP monitor probe immediately, outside its cron
// schedule — the REST façade's "trigger monitor" endpoint (§6).
func (s *Scheduler) TriggerHTTP(ctx context.Context, configID uuid.UUID) {
	s.runHTTPCheck(ctx, configID)
}

// TriggerTraffic runs one traffic-interface sample immediately.
func (s *Scheduler) TriggerTraffic(ctx context.Context, configID uuid.UUID) {
	s.runTrafficSample(ctx, configID)
}

// TriggerNetworkTool enqueues one scheduled network-tool run immediately.
func (s *Scheduler) TriggerNetworkTool(ctx context.Context, configID uuid.UUID) {
	s.runNetworkTool(ctx, configID)
}

// runNetworkTool dispatches a ScheduledNetworkToolConfig as a one-shot
// command against its owning node (ping/traceroute), rather than running the
// tool on the hub — the hub has no direct network path to the target's LAN.
func (s *Scheduler) runNetworkTool(ctx context.Context, configID uuid.UUID) {
	// The config row only carries node/tool/target; resolution against the
	// live config happens via the dispatcher's own ParseCommandType gate.
	cfgs, err := s.monitors.ListEnabledNetworkToolConfigs(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to reload network tool configs at tick time")
		return
	}
	for _, cfg := range cfgs {
		if cfg.ID != configID {
			continue
		}
		payload := []byte(fmt.Sprintf(`{"tool":%q,"target":%q}`, cfg.Tool, cfg.Target))
		outcome := "success"
		if _, err := s.dispatch.Enqueue(ctx, cfg.NodeID, string(protocol.CommandShellExec), payload, "scheduler"); err != nil {
			outcome = "failure"
			s.log.Error().Err(err).Str("config", cfg.ID.String()).Msg("failed to enqueue scheduled network tool")
		}
		metrics.MonitorRunsTotal.WithLabelValues("network_tool", outcome).Inc()
		return
	}
}
