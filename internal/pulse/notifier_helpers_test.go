package pulse

import (
	"time"

	"github.com/HerbHall/netpulse/pkg/models"
)

func sampleAlert() *Alert {
	d := models.Device{
		ID:       "core-sw",
		Name:     "Core Switch",
		Group:    "datacenter",
		Priority: models.PriorityCritical,
		IPs:      []string{"10.0.0.1", "10.0.0.2"},
		OS:       "NX-OS",
		Location: "Rack A1",
		Checks:   []models.CheckItem{{Port: 22, Name: "ssh"}, {Port: 443}},
	}
	failures := []models.CheckFailure{
		{CheckName: "ssh", Port: 22, AttemptedIPs: []string{"10.0.0.1", "10.0.0.2"}},
	}
	return NewAlert(EventTriggered, d, failures, time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
}
