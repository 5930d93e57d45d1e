package config

import (
	"fmt"
	"os"
	"time"
)

// Agent is the configuration a reference agent process needs to dial the hub
// (§6 "Agent-visible configuration"): a server URL including the hub path,
// and an optional bearer token. Both are read from the environment, matching
// the shape of the (out-of-scope) installer-written local file.
type Agent struct {
	HubURL            string
	AuthToken         string
	Hostname          string
	HeartbeatInterval time.Duration
}

// LoadAgent reads MANLAB_HUB_URL (required) and MANLAB_AGENT_TOKEN (optional)
// from the environment.
func LoadAgent() (*Agent, error) {
	hubURL := os.Getenv("MANLAB_HUB_URL")
	if hubURL == "" {
		return nil, fmt.Errorf("config: MANLAB_HUB_URL is required")
	}

	hostname, _ := os.Hostname()
	if v := os.Getenv("MANLAB_AGENT_HOSTNAME"); v != "" {
		hostname = v
	}

	interval := 5 * time.Second
	if v := os.Getenv("MANLAB_AGENT_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			interval = d
		}
	}

	return &Agent{
		HubURL:            hubURL,
		AuthToken:         os.Getenv("MANLAB_AGENT_TOKEN"),
		Hostname:          hostname,
		HeartbeatInterval: interval,
	}, nil
}
