package pulse

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingDialer records peak concurrency and fails every dial after a
// short hold.
type countingDialer struct {
	hold    time.Duration
	current atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func (d *countingDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	d.calls.Add(1)
	n := d.current.Add(1)
	defer d.current.Add(-1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(d.hold):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, errors.New("refused")
}

func splitAddr(t *testing.T, addr string) (string, int) {
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

func TestNewAdmission_DefaultCapacity(t *testing.T) {
	for _, c := range []int{0, -5} {
		if got := NewAdmission(c).Capacity(); got != DefaultMaxConnections {
			t.Errorf("NewAdmission(%d).Capacity() = %d, want %d", c, got, DefaultMaxConnections)
		}
	}
	if got := NewAdmission(7).Capacity(); got != 7 {
		t.Errorf("Capacity() = %d, want 7", got)
	}
}

func TestAdmission_BoundsConcurrentProbes(t *testing.T) {
	const capacity = 3
	const probes = 20

	dialer := &countingDialer{hold: 20 * time.Millisecond}
	checker := NewTCPChecker(time.Second, NewAdmission(capacity), WithDialer(dialer))

	var wg sync.WaitGroup
	for i := 0; i < probes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checker.Probe(context.Background(), "192.0.2.1", 80+i)
		}()
	}
	wg.Wait()

	if got := dialer.calls.Load(); got != probes {
		t.Errorf("dial calls = %d, want %d", got, probes)
	}
	if peak := dialer.peak.Load(); peak > capacity {
		t.Errorf("peak concurrent dials = %d, want <= %d", peak, capacity)
	}
}

func TestAdmission_NoPermitLeakOnCancellation(t *testing.T) {
	adm := NewAdmission(2)
	dialer := &countingDialer{hold: 50 * time.Millisecond}
	checker := NewTCPChecker(time.Second, adm, WithDialer(dialer))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checker.Probe(ctx, "192.0.2.1", 80)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	cancel()
	wg.Wait()

	// Every permit must be available again.
	acquireCtx, acquireCancel := context.WithTimeout(context.Background(), time.Second)
	defer acquireCancel()
	for i := 0; i < adm.Capacity(); i++ {
		if err := adm.Acquire(acquireCtx); err != nil {
			t.Fatalf("Acquire permit %d after cancellation: %v", i, err)
		}
	}
}
