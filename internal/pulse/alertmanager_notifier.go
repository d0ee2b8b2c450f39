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
	"strings"
	"time"

	"github.com/HerbHall/netpulse/internal/version"
)

// Compile-time interface guard.
var _ Notifier = (*AlertmanagerNotifier)(nil)

// AlertmanagerConfig holds configuration for Alertmanager-format delivery.
type AlertmanagerConfig struct {
	URL     string        `json:"url"`
	Secret  string        `json:"secret,omitempty"` //nolint:gosec // G101: config field name, not a credential
	Timeout time.Duration `json:"timeout"`
}

// alertmanagerPayload matches the Prometheus Alertmanager webhook receiver format.
type alertmanagerPayload struct {
	Version string              `json:"version"`
	Status  string              `json:"status"`
	Alerts  []alertmanagerAlert `json:"alerts"`
}

// alertmanagerAlert represents a single alert in the Alertmanager payload.
type alertmanagerAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      time.Time         `json:"endsAt"`
}

// AlertmanagerNotifier delivers notifications in Prometheus Alertmanager webhook format.
type AlertmanagerNotifier struct {
	client *http.Client
	cfg    AlertmanagerConfig
}

// NewAlertmanagerNotifier creates a new Alertmanager-format notifier with the given config.
func NewAlertmanagerNotifier(cfg AlertmanagerConfig) *AlertmanagerNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &AlertmanagerNotifier{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

// Notify sends an alert in Alertmanager webhook format to the configured URL.
func (n *AlertmanagerNotifier) Notify(ctx context.Context, alert *Alert) error {
	body, err := json.Marshal(alertmanagerBody(alert))
	if err != nil {
		return fmt.Errorf("marshal alertmanager payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create alertmanager request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "netpulse-alertmanager/"+version.Short())

	if n.cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(n.cfg.Secret))
		mac.Write(body)
		req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("alertmanager POST: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alertmanager POST: status %d", resp.StatusCode)
	}
	return nil
}

func alertmanagerBody(alert *Alert) alertmanagerPayload {
	status := "firing"
	if alert.EventType == EventResolved {
		status = "resolved"
	}

	d := alert.Device
	severity := string(d.Priority)
	if severity == "" {
		severity = "low"
	}

	checks := make([]string, 0, len(alert.Failures))
	for _, f := range alert.Failures {
		checks = append(checks, f.String())
	}

	amAlert := alertmanagerAlert{
		Status: status,
		Labels: map[string]string{
			"alertname": "NetpulseDeviceUnreachable",
			"device_id": d.ID,
			"device":    d.DisplayName(),
			"group":     d.Group,
			"severity":  severity,
			"source":    "netpulse",
		},
		Annotations: map[string]string{
			"summary":  fmt.Sprintf("%s unreachable", d.DisplayName()),
			"location": d.Location,
			"failures": strings.Join(checks, "; "),
		},
		StartsAt: alert.TriggeredAt,
	}
	if status == "resolved" {
		amAlert.Annotations["summary"] = fmt.Sprintf("%s recovered", d.DisplayName())
		amAlert.EndsAt = alert.TriggeredAt
	}

	return alertmanagerPayload{
		Version: "4",
		Status:  status,
		Alerts:  []alertmanagerAlert{amAlert},
	}
}

// Type returns the notifier type identifier.
func (n *AlertmanagerNotifier) Type() string {
	return "alertmanager"
}
