package pulse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/netpulse/internal/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

type stubNotifier struct {
	mu     sync.Mutex
	alerts []*Alert
	err    error
	delay  time.Duration
	ctxErr error
}

func (s *stubNotifier) Notify(ctx context.Context, alert *Alert) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			s.mu.Lock()
			s.ctxErr = ctx.Err()
			s.mu.Unlock()
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return s.err
}

func (s *stubNotifier) Type() string { return "stub" }

func (s *stubNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func alertEvent(topic string, alert *Alert) event.Event {
	return event.Event{Topic: topic, Source: "pulse", Timestamp: time.Now().UTC(), Payload: alert}
}

func TestNotificationDispatcher_DeliversToEveryNotifier(t *testing.T) {
	a, b := &stubNotifier{}, &stubNotifier{}
	m := NewMetrics(prometheus.NewRegistry())
	d := NewNotificationDispatcher([]Notifier{a, b}, 0, time.Second, m, zap.NewNop())

	d.HandleAlertEvent(context.Background(), alertEvent(TopicAlertTriggered, sampleAlert()))

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("deliveries = %d, %d, want 1, 1", a.count(), b.count())
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("success")); got != 2 {
		t.Errorf("notifications{success} = %v, want 2", got)
	}
}

func TestNotificationDispatcher_FailureIsLoggedNotRetried(t *testing.T) {
	failing := &stubNotifier{err: errors.New("boom")}
	m := NewMetrics(prometheus.NewRegistry())
	d := NewNotificationDispatcher([]Notifier{failing}, 0, time.Second, m, zap.NewNop())

	d.HandleAlertEvent(context.Background(), alertEvent(TopicAlertTriggered, sampleAlert()))

	if failing.count() != 1 {
		t.Errorf("attempts = %d, want 1", failing.count())
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("failure")); got != 1 {
		t.Errorf("notifications{failure} = %v, want 1", got)
	}
}

func TestNotificationDispatcher_IgnoresUnexpectedPayload(t *testing.T) {
	n := &stubNotifier{}
	d := NewNotificationDispatcher([]Notifier{n}, 0, time.Second, nil, nil)

	d.HandleAlertEvent(context.Background(), event.Event{Topic: TopicAlertTriggered, Payload: "not an alert"})

	if n.count() != 0 {
		t.Errorf("deliveries = %d, want 0", n.count())
	}
}

func TestNotificationDispatcher_SurvivesPublisherCancellation(t *testing.T) {
	n := &stubNotifier{delay: 30 * time.Millisecond}
	d := NewNotificationDispatcher([]Notifier{n}, 0, time.Second, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.HandleAlertEvent(ctx, alertEvent(TopicAlertTriggered, sampleAlert()))

	if n.count() != 1 {
		t.Errorf("deliveries = %d, want 1 despite cancelled publisher context", n.count())
	}
}

func TestNotificationDispatcher_TimeoutBoundsDelivery(t *testing.T) {
	n := &stubNotifier{delay: time.Second}
	d := NewNotificationDispatcher([]Notifier{n}, 0, 30*time.Millisecond, nil, nil)

	start := time.Now()
	d.HandleAlertEvent(context.Background(), alertEvent(TopicAlertTriggered, sampleAlert()))
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("delivery took %v, want bounded by 30ms timeout", elapsed)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !errors.Is(n.ctxErr, context.DeadlineExceeded) {
		t.Errorf("notifier ctx err = %v, want deadline exceeded", n.ctxErr)
	}
}

func TestNotificationDispatcher_RateLimitDrops(t *testing.T) {
	n := &stubNotifier{}
	m := NewMetrics(prometheus.NewRegistry())
	// Burst of 1 per minute: the second delivery cannot get a token in time.
	d := NewNotificationDispatcher([]Notifier{n}, 1, 50*time.Millisecond, m, nil)

	d.HandleAlertEvent(context.Background(), alertEvent(TopicAlertTriggered, sampleAlert()))
	d.HandleAlertEvent(context.Background(), alertEvent(TopicAlertTriggered, sampleAlert()))

	if n.count() != 1 {
		t.Errorf("deliveries = %d, want 1", n.count())
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("failure")); got != 1 {
		t.Errorf("notifications{failure} = %v, want 1", got)
	}
}

func TestNotificationDispatcher_SubscribeViaBus(t *testing.T) {
	n := &stubNotifier{}
	bus := event.NewBus(zap.NewNop())
	d := NewNotificationDispatcher([]Notifier{n}, 0, time.Second, nil, nil)
	unsubscribe := d.Subscribe(bus)

	bus.PublishAsync(context.Background(), alertEvent(TopicAlertTriggered, sampleAlert()))
	bus.PublishAsync(context.Background(), alertEvent(TopicAlertResolved, sampleAlert()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bus.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n.count() != 2 {
		t.Errorf("deliveries = %d, want 2", n.count())
	}

	unsubscribe()
	bus.Publish(context.Background(), alertEvent(TopicAlertTriggered, sampleAlert()))
	if n.count() != 2 {
		t.Errorf("deliveries after unsubscribe = %d, want 2", n.count())
	}
}

func TestNotificationDispatcher_ConcurrentEvents(t *testing.T) {
	var calls atomic.Int32
	n := &countingNotifier{calls: &calls}
	d := NewNotificationDispatcher([]Notifier{n}, 0, time.Second, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.HandleAlertEvent(context.Background(), alertEvent(TopicAlertTriggered, sampleAlert()))
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 20 {
		t.Errorf("calls = %d, want 20", got)
	}
}

type countingNotifier struct{ calls *atomic.Int32 }

func (c *countingNotifier) Notify(context.Context, *Alert) error {
	c.calls.Add(1)
	return nil
}

func (c *countingNotifier) Type() string { return "counting" }
