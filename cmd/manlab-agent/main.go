// Command manlab-agent is the reference agent: it speaks the exact §6 wire
// contract but fabricates telemetry/command-status payloads instead of
// collecting real OS metrics, for exercising a hub without real fleet
// hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/manlab-io/manlab/internal/config"
	"github.com/manlab-io/manlab/internal/simagent"
	"github.com/rs/zerolog"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.BoolVar(showVersion, "v", false, "print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println("manlab-agent (simulated reference agent)")
		os.Exit(0)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Logger()

	cfg, err := config.LoadAgent()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().
		Str("hub_url", cfg.HubURL).
		Str("hostname", cfg.Hostname).
		Msg("manlab-agent starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := simagent.New(cfg, log)

	go func() {
		<-ctx.Done()
		log.Info().Msg("received shutdown signal")
		a.Shutdown()
	}()

	a.Run(ctx)
	log.Info().Msg("manlab-agent stopped")
}

func printUsage() {
	fmt.Printf(`Usage: manlab-agent [options]

manlab-agent connects to a manlab hub and reports simulated node telemetry.

Options:
  -v, --version   Print version and exit

Environment variables:
  MANLAB_HUB_URL                   Hub WebSocket URL, e.g. ws://localhost:8080/ws/agent (required)
  MANLAB_AGENT_TOKEN               Bearer token presented on connect
  MANLAB_AGENT_HOSTNAME             Override hostname detection
  MANLAB_AGENT_HEARTBEAT_INTERVAL   Heartbeat interval, e.g. 5s (default: 5s)
`)
}
