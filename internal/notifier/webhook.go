package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// WebhookSender POSTs the report as JSON.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(rawURL string) *WebhookSender {
	return &WebhookSender{
		url: rawURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Name hides the path and query; webhook URLs usually embed a secret.
func (w *WebhookSender) Name() string {
	if u, err := url.Parse(w.url); err == nil && u.Host != "" {
		return "webhook:" + u.Host
	}
	return "webhook"
}

func (w *WebhookSender) Send(ctx context.Context, r Report) error {
	if r.Event == "" {
		r.Event = "run_end"
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: webhook returned %d", errPermanent, resp.StatusCode)
	}
}
