package models

import (
	"fmt"
	"strconv"
)

// Priority controls how loudly a device's alerts are rendered.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid reports whether p is a known priority. The empty priority is
// accepted and rendered like PriorityLow.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, "":
		return true
	}
	return false
}

// Device is a monitored host. Devices are loaded once at startup and never
// mutated afterwards; ID is the stable key for alert state.
type Device struct {
	ID       string      `json:"id" mapstructure:"id"`
	Name     string      `json:"name" mapstructure:"name"`
	Group    string      `json:"group" mapstructure:"group"`
	Priority Priority    `json:"priority" mapstructure:"priority"`
	IPs      []string    `json:"ips" mapstructure:"ips"`
	OS       string      `json:"os,omitempty" mapstructure:"os"`
	Location string      `json:"location,omitempty" mapstructure:"location"`
	Checks   []CheckItem `json:"checks" mapstructure:"checks"`
}

// DisplayName returns the device name, falling back to its ID.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// CheckItem is one TCP port that must be reachable on at least one of the
// device's addresses.
type CheckItem struct {
	Port int    `json:"port" mapstructure:"port"`
	Name string `json:"name,omitempty" mapstructure:"name"`
}

// Label returns the configured name or a synthetic "port:N" label.
func (c CheckItem) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return "port:" + strconv.Itoa(c.Port)
}

// CheckFailure describes one failing check item in one round. AttemptedIPs
// lists every address on which the check failed, untruncated.
type CheckFailure struct {
	CheckName    string   `json:"check_name"`
	Port         int      `json:"port"`
	AttemptedIPs []string `json:"attempted_ips"`
}

func (f CheckFailure) String() string {
	return fmt.Sprintf("%s (port %d) on %d ip(s)", f.CheckName, f.Port, len(f.AttemptedIPs))
}

// AffectedIPs sums the failed addresses across failures.
func AffectedIPs(failures []CheckFailure) int {
	n := 0
	for _, f := range failures {
		n += len(f.AttemptedIPs)
	}
	return n
}
