// Package notify implements the "notifier (Discord/log)" named in §4.6's
// process-alert pipeline.
package notify

import "context"

// Alert is the payload handed to a Notifier for a process-threshold breach.
type Alert struct {
	NodeHostname string
	PID          int
	ProcessName  string
	Kind         string // "cpu_high" | "ram_high"
	Value        float64
	Threshold    float64
}

// Notifier delivers a process alert to an external channel. Implementations
// must not block the evaluator goroutine for long — callers run this off
// the alert bus consumer, not the heartbeat ingestion path.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}
