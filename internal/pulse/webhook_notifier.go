package pulse

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/HerbHall/netpulse/internal/version"
)

// Compile-time interface guard.
var _ Notifier = (*WebhookNotifier)(nil)

// WebhookConfig holds configuration for webhook notification delivery.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Format  string            `json:"format"`           // FormatMarkdown or FormatJSON
	Secret  string            `json:"secret,omitempty"` //nolint:gosec // G101: config field name, not a credential
	Headers map[string]string `json:"headers,omitempty"`
	Timeout time.Duration     `json:"timeout"`
}

// markdownPayload is the chat-bot message body (WeCom/DingTalk style).
type markdownPayload struct {
	MsgType  string          `json:"msgtype"`
	Markdown markdownContent `json:"markdown"`
}

type markdownContent struct {
	Content string `json:"content"`
}

// webhookPayload is the JSON body sent to generic webhook endpoints.
type webhookPayload struct {
	EventType string    `json:"event_type"`
	Alert     *Alert    `json:"alert"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookNotifier delivers notifications via HTTP POST to a configured URL.
type WebhookNotifier struct {
	client *http.Client
	cfg    WebhookConfig
}

// NewWebhookNotifier creates a new webhook notifier with the given config.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Format == "" {
		cfg.Format = FormatMarkdown
	}
	return &WebhookNotifier{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

// Notify sends an alert to the configured webhook URL.
func (w *WebhookNotifier) Notify(ctx context.Context, alert *Alert) error {
	body, err := w.encode(alert)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "netpulse-webhook/"+version.Short())

	// Only the JSON format is signed; markdown endpoints authenticate by URL key.
	if w.cfg.Secret != "" && w.cfg.Format == FormatJSON {
		mac := hmac.New(sha256.New, []byte(w.cfg.Secret))
		mac.Write(body)
		req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook POST: status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookNotifier) encode(alert *Alert) ([]byte, error) {
	var payload any
	switch w.cfg.Format {
	case FormatJSON:
		payload = webhookPayload{
			EventType: alert.EventType,
			Alert:     alert,
			Timestamp: time.Now().UTC(),
		}
	case FormatMarkdown:
		payload = markdownPayload{
			MsgType:  "markdown",
			Markdown: markdownContent{Content: RenderMarkdown(alert)},
		}
	default:
		return nil, fmt.Errorf("unsupported webhook format %q", w.cfg.Format)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	return body, nil
}

// Type returns the notifier type identifier.
func (w *WebhookNotifier) Type() string {
	return "webhook"
}
