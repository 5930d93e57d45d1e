package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DiscordNotifier posts alerts to a Discord incoming webhook. No Discord
// client library appears anywhere in the retrieved corpus, so this is a
// plain net/http POST against Discord's documented webhook JSON body —
// the one notifier built on the standard library alone (see DESIGN.md).
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordWebhookBody struct {
	Content string `json:"content"`
}

func (n *DiscordNotifier) Notify(ctx context.Context, alert Alert) error {
	content := fmt.Sprintf(
		"**Process alert** `%s` on `%s`: pid %d (%s) value=%.1f threshold=%.1f",
		alert.Kind, alert.NodeHostname, alert.PID, alert.ProcessName, alert.Value, alert.Threshold,
	)

	body, err := json.Marshal(discordWebhookBody{Content: content})
	if err != nil {
		return fmt.Errorf("notify: marshal discord body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: discord webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
