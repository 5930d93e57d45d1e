package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier logs alerts via zerolog — always wired in alongside whatever
// other notifiers are configured, so alerts are never silently dropped.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.log.Warn().
		Str("node", alert.NodeHostname).
		Int("pid", alert.PID).
		Str("process", alert.ProcessName).
		Str("kind", alert.Kind).
		Float64("value", alert.Value).
		Float64("threshold", alert.Threshold).
		Msg("process alert")
	return nil
}
