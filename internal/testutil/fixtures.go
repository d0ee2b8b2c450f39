package testutil

import (
	"net"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"github.com/HerbHall/netpulse/pkg/models"
)

// NewDevice returns a Device with sensible defaults, suitable for test fixtures.
// Override individual fields with options.
func NewDevice(opts ...func(*models.Device)) models.Device {
	d := models.Device{
		ID:       uuid.New().String(),
		Name:     "test-device",
		Group:    "lab",
		Priority: models.PriorityMedium,
		IPs:      []string{"192.0.2.10"},
		OS:       "Linux",
		Location: "Bench 1",
		Checks:   []models.CheckItem{{Port: 22, Name: "ssh"}},
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithID sets the device ID.
func WithID(id string) func(*models.Device) {
	return func(d *models.Device) { d.ID = id }
}

// WithName sets the device name.
func WithName(name string) func(*models.Device) {
	return func(d *models.Device) { d.Name = name }
}

// WithIPs sets the device's address list.
func WithIPs(ips ...string) func(*models.Device) {
	return func(d *models.Device) { d.IPs = ips }
}

// WithChecks sets the device's check items.
func WithChecks(checks ...models.CheckItem) func(*models.Device) {
	return func(d *models.Device) { d.Checks = checks }
}

// WithPorts sets one unnamed check item per port.
func WithPorts(ports ...int) func(*models.Device) {
	return func(d *models.Device) {
		d.Checks = make([]models.CheckItem, len(ports))
		for i, p := range ports {
			d.Checks[i] = models.CheckItem{Port: p}
		}
	}
}

// WithPriority sets the device priority.
func WithPriority(p models.Priority) func(*models.Device) {
	return func(d *models.Device) { d.Priority = p }
}

// ListenTCP starts a loopback listener that accepts and immediately closes
// connections. It is closed when the test ends.
func ListenTCP(t testing.TB) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return splitHostPort(t, ln.Addr().String())
}

// ClosedPort returns a loopback port with nothing listening on it.
func ClosedPort(t testing.TB) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return splitHostPort(t, addr)
}

func splitHostPort(t testing.TB, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	return host, port
}
