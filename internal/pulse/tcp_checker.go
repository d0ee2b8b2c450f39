package pulse

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ Prober = (*TCPChecker)(nil)

// Dialer opens network connections. *net.Dialer satisfies it; tests
// substitute instrumented implementations.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// CheckResult is the outcome of a single connection attempt.
type CheckResult struct {
	Target       string    `json:"target"`
	Success      bool      `json:"success"`
	LatencyMs    float64   `json:"latency_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// TCPChecker tests TCP connectivity to ip:port targets. Probe attempts are
// gated by an Admission controller shared across the fleet.
type TCPChecker struct {
	timeout   time.Duration
	admission *Admission
	dialer    Dialer
	metrics   *Metrics
	logger    *zap.Logger
}

// TCPOption customizes a TCPChecker.
type TCPOption func(*TCPChecker)

// WithDialer replaces the default net.Dialer.
func WithDialer(d Dialer) TCPOption {
	return func(c *TCPChecker) { c.dialer = d }
}

// WithProbeMetrics records probe counts and admission waits.
func WithProbeMetrics(m *Metrics) TCPOption {
	return func(c *TCPChecker) { c.metrics = m }
}

// WithProbeLogger sets the logger used for per-probe debug lines.
func WithProbeLogger(l *zap.Logger) TCPOption {
	return func(c *TCPChecker) { c.logger = l }
}

// NewTCPChecker creates a TCP checker with the given connection timeout.
// A nil admission controller leaves probes ungated.
func NewTCPChecker(timeout time.Duration, admission *Admission, opts ...TCPOption) *TCPChecker {
	c := &TCPChecker{
		timeout:   timeout,
		admission: admission,
		dialer:    &net.Dialer{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Probe reports whether a TCP connection to ip:port is established before
// the deadline. Every failure mode (refused, unreachable, timeout, DNS
// error, cancellation while waiting for admission) yields false.
func (c *TCPChecker) Probe(ctx context.Context, ip string, port int) bool {
	if c.admission != nil {
		waitStart := time.Now()
		if err := c.admission.Acquire(ctx); err != nil {
			c.metrics.observeProbe(false)
			return false
		}
		defer c.admission.Release()
		c.metrics.probeStarted(time.Since(waitStart).Seconds())
		defer c.metrics.probeFinished()
	}

	result, err := c.Check(ctx, net.JoinHostPort(ip, strconv.Itoa(port)))
	c.metrics.observeProbe(result.Success)
	if err != nil {
		c.logger.Debug("probe failed",
			zap.String("target", result.Target),
			zap.Float64("latency_ms", result.LatencyMs),
			zap.Error(err),
		)
		return false
	}
	c.logger.Debug("probe succeeded",
		zap.String("target", result.Target),
		zap.Float64("latency_ms", result.LatencyMs),
	)
	return true
}

// Check connects to the target (host:port) and measures connection time.
// It is not gated by admission control.
func (c *TCPChecker) Check(ctx context.Context, target string) (*CheckResult, error) {
	// Validate target format: must include a port.
	_, _, err := net.SplitHostPort(target)
	if err != nil {
		return &CheckResult{
			Target:       target,
			Success:      false,
			ErrorMessage: fmt.Sprintf("invalid target %q: %v", target, err),
			CheckedAt:    time.Now().UTC(),
		}, fmt.Errorf("invalid target %q: %w", target, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := c.dialer.DialContext(ctx, "tcp", target)
	elapsed := time.Since(start)

	if err != nil {
		return &CheckResult{
			Target:       target,
			Success:      false,
			LatencyMs:    float64(elapsed) / float64(time.Millisecond),
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now().UTC(),
		}, fmt.Errorf("tcp connect %s: %w", target, err)
	}
	conn.Close()

	return &CheckResult{
		Target:    target,
		Success:   true,
		LatencyMs: float64(elapsed) / float64(time.Millisecond),
		CheckedAt: time.Now().UTC(),
	}, nil
}
