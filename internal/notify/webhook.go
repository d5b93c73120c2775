package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSender posts alerts as JSON to an HTTP endpoint.
type WebhookSender struct {
	name string
	url  string
	http *http.Client
}

func NewWebhookSender(name, url string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		name: name,
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookSender) Name() string { return w.name }

func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]any{
		"server":    msg.Server,
		"run_id":    msg.RunID,
		"status":    msg.Status,
		"recovered": msg.Recovered,
		"subject":   msg.Subject,
		"body":      msg.Body,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %s", w.name, resp.Status)
	}
	return nil
}
