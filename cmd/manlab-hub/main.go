// Command manlab-hub is the fleet management hub: the single process that
// owns the Node Registry, Session Hub, Command Dispatcher, Stream Registry,
// tool-session registries, Monitor Scheduler, Telemetry pipeline, and
// Memory-Pressure Monitor, fronted by the REST/WebSocket façade in
// internal/httpapi.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/manlab-io/manlab/internal/audit"
	"github.com/manlab-io/manlab/internal/config"
	"github.com/manlab-io/manlab/internal/dispatch"
	"github.com/manlab-io/manlab/internal/httpapi"
	"github.com/manlab-io/manlab/internal/memwatch"
	"github.com/manlab-io/manlab/internal/notify"
	"github.com/manlab-io/manlab/internal/registry"
	"github.com/manlab-io/manlab/internal/scheduler"
	"github.com/manlab-io/manlab/internal/session"
	"github.com/manlab-io/manlab/internal/store"
	"github.com/manlab-io/manlab/internal/streaming"
	"github.com/manlab-io/manlab/internal/telemetry"
	"github.com/manlab-io/manlab/internal/toolsession"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "manlab-hub",
		Short: "manlab-hub — fleet management hub",
		Long:  "manlab-hub is the central process of the manlab fleet management system: it accepts agent WebSocket connections, dispatches commands, streams tool output, and fronts a REST API for dashboards.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to an optional YAML config file (env vars with MANLAB_HUB_ prefix always win)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newMigrateCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(*configPath)
		},
	}
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func runMigrate(configPath string) error {
	log := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("migrate: get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	log.Info().Msg("migrations applied")
	return nil
}

func runServe(ctx context.Context, configPath string) error {
	log := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Database ---
	db, err := store.New(store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- Repositories ---
	nodeRepo := store.NewNodeRepo(db)
	commandRepo := store.NewCommandRepo(db)
	telemetryRepo := store.NewTelemetryRepo(db)
	monitorRepo := store.NewMonitorRepo(db)
	auditRepo := store.NewAuditRepo(db)
	terminalRepo := store.NewTerminalSessionRepo(db)
	logViewerPolicyRepo := store.NewLogViewerPolicyRepo(db)
	fileBrowserPolicyRepo := store.NewFileBrowserPolicyRepo(db)

	auditRec := audit.New(auditRepo, log)

	// --- Registry & Session Hub ---
	nodeRegistry := registry.New(log, nodeRepo, registry.Config{
		HeartbeatInterval:  cfg.HeartbeatInterval,
		MissLimit:          cfg.HeartbeatMissLimit,
		BackoffBase:        cfg.BackoffBase,
		BackoffCap:         cfg.BackoffCap,
		NewestWinsTieBreak: cfg.NewestWinsTieBreak,
	})
	hub := session.NewHub(log, nodeRegistry)

	// --- Command Dispatcher ---
	dispatcher := dispatch.New(log, commandRepo, hub, auditRec, dispatch.Config{
		CommandDeadline:   cfg.CommandDeadline,
		CommandCancelWait: cfg.CommandCancelWait,
		OutputLogByteCap:  cfg.CommandLogByteCap,
	})

	// --- Stream Registry ---
	streams := streaming.New(log, hub, streaming.Config{
		ChannelCapacity: cfg.StreamChannelCapacity,
		ChunkBytes:      cfg.StreamChunkBytes,
		ProgressEvery:   cfg.StreamProgressEvery,
		ProgressPct:     5.0,
		MaxAge:          cfg.StreamMaxAge,
	})

	// --- Tool sessions ---
	terminals := toolsession.NewTerminals(cfg.ToolSessionDefaultTTL, cfg.ToolSessionMaxTTL, terminalRepo, auditRec)
	logViewers := toolsession.NewLogViewers(cfg.ToolSessionDefaultTTL, cfg.ToolSessionMaxTTL, toolsession.NewLogViewerPolicyLookup(logViewerPolicyRepo))
	fileBrowsers := toolsession.NewFileBrowsers(cfg.ToolSessionDefaultTTL, cfg.ToolSessionMaxTTL, toolsession.NewFileBrowserPolicyLookup(fileBrowserPolicyRepo))
	downloads := toolsession.NewDownloads(cfg.ToolSessionDefaultTTL, cfg.ToolSessionMaxTTL, streams)

	// --- Telemetry ---
	telemetryIngestor := telemetry.NewIngestor(log, telemetryRepo, 1024)
	snapshotIngestor := telemetry.NewSnapshotIngestor(log, monitorRepo)

	var notifier notify.Notifier
	logNotifier := notify.NewLogNotifier(log)
	if cfg.DiscordWebhookURL != "" {
		notifier = notify.NewMulti(logNotifier, notify.NewDiscordNotifier(cfg.DiscordWebhookURL))
	} else {
		notifier = logNotifier
	}
	evaluator := telemetry.NewEvaluator(log, hub, notifier, telemetry.Config{
		CPUThreshold:   cfg.ProcessAlertCPUThreshold,
		RAMMBThreshold: cfg.ProcessAlertRAMMBThreshold,
		AlertCooldown:  cfg.ProcessAlertCooldown,
		TableLimit:     cfg.ProcessAlertTableLimit,
	})

	hub.SetHandlers(dispatcher, streams, telemetryIngestor, snapshotIngestor, terminals)

	// --- Scheduler ---
	sched, err := scheduler.New(monitorRepo, nodeRepo, commandRepo, dispatcher, log, scheduler.Config{
		ServiceStatusInterval: cfg.ServiceStatusInterval,
		ServiceStatusCooldown: cfg.ServiceStatusPendingCooldown,
		MinSnapshotAge:        cfg.ServiceStatusMinSnapshotAge,
	})
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	// --- Memory-pressure monitor ---
	bufferPool := memwatch.NewBufferPool(cfg.StreamChunkBytes)
	memMonitor := memwatch.New(log, memwatch.Config{
		HighWatermark:     cfg.MemHighWatermark,
		CriticalWatermark: cfg.MemCriticalWatermark,
		CleanupCooldown:   cfg.MemCleanupCooldown,
		SampleInterval:    10 * time.Second,
	}, bufferPool, terminals, logViewers, fileBrowsers, downloads, streams)

	// --- HTTP façade ---
	apiServer := httpapi.New(cfg, log, httpapi.Deps{
		Hub:          hub,
		Registry:     nodeRegistry,
		Dispatcher:   dispatcher,
		Streams:      streams,
		Terminals:    terminals,
		LogViewers:   logViewers,
		FileBrowsers: fileBrowsers,
		Downloads:    downloads,
		Nodes:        nodeRepo,
		Telemetry:    telemetryRepo,
		Monitors:     monitorRepo,
		Audit:        auditRec,
		Scheduler:    sched,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming/WebSocket endpoints write past any fixed deadline
		IdleTimeout:  120 * time.Second,
	}

	// --- Background loops ---
	go hub.Run(ctx)
	go streams.RunSweeper(ctx, time.Minute)
	go terminals.RunSweeper(ctx, cfg.ToolSessionSweep)
	go logViewers.RunSweeper(ctx, cfg.ToolSessionSweep)
	go fileBrowsers.RunSweeper(ctx, cfg.ToolSessionSweep)
	go downloads.RunSweeper(ctx, cfg.ToolSessionSweep)
	go dispatcher.RunTimeoutSweep(ctx, 30*time.Second)
	go memMonitor.Run(ctx)
	go evaluator.Run(ctx, telemetryIngestor.Bus())
	go evaluator.RunSweeper(ctx, time.Minute, cfg.ProcessAlertCooldown*2)
	go runHeartbeatSweep(ctx, nodeRegistry, hub, log, cfg.HeartbeatInterval)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down manlab-hub")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
		cancel()
	}

	if err := sched.Stop(); err != nil {
		log.Warn().Err(err).Msg("scheduler shutdown error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server graceful shutdown error")
	}

	log.Info().Msg("manlab-hub stopped")
	return nil
}

// runHeartbeatSweep drives the registry's backoff state machine (§4.1) on a
// fixed tick and fans out BackoffStatus to dashboards for every session that
// transitioned to offline in this pass.
func runHeartbeatSweep(ctx context.Context, reg *registry.Registry, hub *session.Hub, log zerolog.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			transitioned := reg.SweepHeartbeats(ctx)
			for _, sess := range transitioned {
				failures, nextRetry := sess.BackoffInfo()
				hub.BroadcastBackoffStatus(sess.NodeID, failures, nextRetry)
			}
		}
	}
}
