package pulse

import (
	"context"
	"time"

	"github.com/HerbHall/netpulse/pkg/models"
	"github.com/google/uuid"
)

// Alert event types.
const (
	EventTriggered = "triggered"
	EventResolved  = "resolved"
)

// Alert is a resolved decision to notify about a device.
type Alert struct {
	ID          string                `json:"id"`
	EventType   string                `json:"event_type"`
	Device      models.Device         `json:"device"`
	Failures    []models.CheckFailure `json:"failures,omitempty"`
	TriggeredAt time.Time             `json:"triggered_at"`
}

// NewAlert creates an alert with a fresh ID.
func NewAlert(eventType string, device models.Device, failures []models.CheckFailure, at time.Time) *Alert {
	return &Alert{
		ID:          uuid.NewString(),
		EventType:   eventType,
		Device:      device,
		Failures:    failures,
		TriggeredAt: at.UTC(),
	}
}

// Notifier delivers alert notifications through a specific channel type.
type Notifier interface {
	// Notify sends an alert notification. Delivery is best-effort; the
	// caller never retries.
	Notify(ctx context.Context, alert *Alert) error
	// Type returns the notifier type identifier (e.g., "webhook").
	Type() string
}
