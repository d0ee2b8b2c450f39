package pulse

import (
	"context"
	"net"
	"testing"
	"time"
)

func startListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
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
	return ln
}

func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestTCPChecker_Success(t *testing.T) {
	ln := startListener(t)

	checker := NewTCPChecker(5*time.Second, nil)
	result, err := checker.Check(context.Background(), ln.Addr().String())

	if err != nil {
		t.Errorf("Check() error = %v, want nil", err)
	}
	if result == nil {
		t.Fatal("Check() returned nil result")
	}
	if !result.Success {
		t.Errorf("Check() Success = false, want true")
	}
	if result.LatencyMs < 0 {
		t.Errorf("Check() LatencyMs = %v, want >= 0", result.LatencyMs)
	}
	if result.ErrorMessage != "" {
		t.Errorf("Check() ErrorMessage = %q, want empty", result.ErrorMessage)
	}
	if result.CheckedAt.IsZero() {
		t.Error("Check() CheckedAt is zero")
	}
}

func TestTCPChecker_ConnectionRefused(t *testing.T) {
	addr := closedPort(t)

	checker := NewTCPChecker(2*time.Second, nil)
	result, err := checker.Check(context.Background(), addr)

	if err == nil {
		t.Error("Check() error = nil, want error for refused connection")
	}
	if result == nil {
		t.Fatal("Check() returned nil result")
	}
	if result.Success {
		t.Error("Check() Success = true, want false")
	}
	if result.ErrorMessage == "" {
		t.Error("Check() ErrorMessage is empty, want non-empty")
	}
}

func TestTCPChecker_InvalidTarget(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"no port", "192.168.1.1"},
		{"empty", ""},
		{"invalid format", "not-a-host-port"},
	}

	checker := NewTCPChecker(2*time.Second, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := checker.Check(context.Background(), tt.target)

			if err == nil {
				t.Error("Check() error = nil, want error for invalid target")
			}
			if result == nil {
				t.Fatal("Check() returned nil result")
			}
			if result.Success {
				t.Error("Check() Success = true, want false")
			}
		})
	}
}

func TestTCPChecker_ContextCancelled(t *testing.T) {
	// Non-routable address; the dial hangs until the context ends.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	checker := NewTCPChecker(30*time.Second, nil)
	start := time.Now()
	result, err := checker.Check(ctx, "10.255.255.1:80")
	elapsed := time.Since(start)

	if err == nil {
		t.Error("Check() error = nil, want error for cancelled context")
	}
	if result.Success {
		t.Error("Check() Success = true, want false")
	}
	if elapsed > 2*time.Second {
		t.Errorf("Check() took %v, want < 2s (should respect context cancellation)", elapsed)
	}
}

func TestTCPChecker_TimeoutBoundsProbe(t *testing.T) {
	checker := NewTCPChecker(150*time.Millisecond, NewAdmission(1))

	start := time.Now()
	ok := checker.Probe(context.Background(), "10.255.255.1", 80)
	elapsed := time.Since(start)

	if ok {
		t.Fatal("Probe() = true, want false for unroutable address")
	}
	if elapsed > 2*time.Second {
		t.Errorf("Probe() took %v, want bounded by the 150ms timeout", elapsed)
	}
}

func TestTCPChecker_Probe(t *testing.T) {
	ln := startListener(t)
	host, port := splitAddr(t, ln.Addr().String())
	_, refusedPort := splitAddr(t, closedPort(t))

	checker := NewTCPChecker(2*time.Second, NewAdmission(4))

	if !checker.Probe(context.Background(), host, port) {
		t.Error("Probe() on listening port = false, want true")
	}
	if checker.Probe(context.Background(), host, refusedPort) {
		t.Error("Probe() on closed port = true, want false")
	}
	if checker.Probe(context.Background(), "no such host", 80) {
		t.Error("Probe() on unresolvable host = true, want false")
	}
}

func TestTCPChecker_ProbeCancelledWhileWaitingForAdmission(t *testing.T) {
	adm := NewAdmission(1)
	if err := adm.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer adm.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checker := NewTCPChecker(time.Second, adm)
	if checker.Probe(ctx, "127.0.0.1", 1) {
		t.Error("Probe() = true, want false when admission is never granted")
	}
}
