// Package config loads the hub's configuration from defaults, an optional
// YAML file, and environment variables (in that precedence order), using
// koanf the way the rest of the stack uses it: a layered Koanf instance
// unmarshalled into a plain struct.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Hub holds every tunable named across §4-§7: heartbeat backoff, command
// deadlines, streaming capacity, tool-session TTLs, scheduler cadence, and
// memory-pressure thresholds. None of these defaults are documented upstream
// (§9 open question) so they live here as configuration, not guesses baked
// into call sites.
type Hub struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`

	HeartbeatInterval  time.Duration `koanf:"heartbeat_interval"`
	HeartbeatMissLimit int           `koanf:"heartbeat_miss_limit"`
	BackoffBase        time.Duration `koanf:"backoff_base"`
	BackoffCap         time.Duration `koanf:"backoff_cap"`
	NewestWinsTieBreak bool          `koanf:"newest_wins_tie_break"`

	CommandDeadline     time.Duration `koanf:"command_deadline"`
	CommandCancelWait   time.Duration `koanf:"command_cancel_wait"`
	CommandLogByteCap   int           `koanf:"command_log_byte_cap"`

	StreamChannelCapacity int           `koanf:"stream_channel_capacity"`
	StreamChunkBytes      int           `koanf:"stream_chunk_bytes"`
	StreamProgressEvery   time.Duration `koanf:"stream_progress_every"`
	StreamMaxAge          time.Duration `koanf:"stream_max_age"`

	ToolSessionDefaultTTL time.Duration `koanf:"tool_session_default_ttl"`
	ToolSessionMaxTTL     time.Duration `koanf:"tool_session_max_ttl"`
	ToolSessionSweep      time.Duration `koanf:"tool_session_sweep"`

	ServiceStatusInterval       time.Duration `koanf:"service_status_interval"`
	ServiceStatusPendingCooldown time.Duration `koanf:"service_status_pending_cooldown"`
	ServiceStatusMinSnapshotAge time.Duration `koanf:"service_status_min_snapshot_age"`

	ProcessAlertCooldown      time.Duration `koanf:"process_alert_cooldown"`
	ProcessAlertTableLimit    int           `koanf:"process_alert_table_limit"`
	ProcessAlertCPUThreshold  float64       `koanf:"process_alert_cpu_threshold"`
	ProcessAlertRAMMBThreshold float64      `koanf:"process_alert_ram_mb_threshold"`

	MemHighWatermark     float64       `koanf:"mem_high_watermark"`
	MemCriticalWatermark float64       `koanf:"mem_critical_watermark"`
	MemCleanupCooldown   time.Duration `koanf:"mem_cleanup_cooldown"`

	DiscordWebhookURL string `koanf:"discord_webhook_url"`
}

// ServerConfig is the hub's listen configuration.
type ServerConfig struct {
	ListenAddr string `koanf:"listen_addr"`
	BaseURL    string `koanf:"base_url"`
}

// DatabaseConfig is the Postgres DSN and pool tuning (§6 "Persisted state layout").
type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// AuthConfig is the bearer-token material agents and dashboards present.
type AuthConfig struct {
	JWTSecret      string `koanf:"jwt_secret"`
	RequireAgentAuth bool `koanf:"require_agent_auth"`

	// AdminPasswordHash is a bcrypt hash (see httpapi.handleLogin), checked
	// against the password an operator submits to /api/auth/login in
	// exchange for an admin bearer token. Empty disables the login route.
	AdminPasswordHash string `koanf:"admin_password_hash"`
}

const envPrefix = "MANLAB_HUB_"

var defaults = map[string]any{
	"server.listen_addr":                       ":8080",
	"server.base_url":                          "http://localhost:8080",
	"database.max_open_conns":                  25,
	"database.max_idle_conns":                  5,
	"database.conn_max_lifetime":               "30m",
	"auth.require_agent_auth":                  true,
	"heartbeat_interval":                       "5s",
	"heartbeat_miss_limit":                     3,
	"backoff_base":                             "1s",
	"backoff_cap":                              "60s",
	"newest_wins_tie_break":                    true,
	"command_deadline":                         "10m",
	"command_cancel_wait":                      "15s",
	"command_log_byte_cap":                     1 << 20, // 1 MiB
	"stream_channel_capacity":                  16,
	"stream_chunk_bytes":                       1 << 20, // 1 MiB
	"stream_progress_every":                    "250ms",
	"stream_max_age":                           "4h",
	"tool_session_default_ttl":                 "10m",
	"tool_session_max_ttl":                     "60m",
	"tool_session_sweep":                       "1m",
	"service_status_interval":                  "30s",
	"service_status_pending_cooldown":          "60s",
	"service_status_min_snapshot_age":          "5m",
	"process_alert_cooldown":                   "15m",
	"process_alert_table_limit":                10000,
	"process_alert_cpu_threshold":               90.0,
	"process_alert_ram_mb_threshold":            2048.0,
	"mem_high_watermark":                       0.85,
	"mem_critical_watermark":                   0.95,
	"mem_cleanup_cooldown":                     "2m",
}

// Load builds a Hub config from defaults, an optional YAML file at path (skipped
// when path is empty; a path that cannot be read is an error), and
// MANLAB_HUB_-prefixed environment variables, in that precedence order (env
// wins).
func Load(path string) (*Hub, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	var cfg Hub
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Hub) validate() error {
	var errs []string
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn (MANLAB_HUB_DATABASE__DSN) is required")
	}
	if c.Auth.RequireAgentAuth && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret (MANLAB_HUB_AUTH__JWT_SECRET) is required when require_agent_auth is true")
	}
	if c.ToolSessionMaxTTL < c.ToolSessionDefaultTTL {
		errs = append(errs, "tool_session_max_ttl must be >= tool_session_default_ttl")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
