package pulse

import (
	"context"
	"time"

	"github.com/HerbHall/netpulse/internal/event"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NotificationDispatcher handles alert events from the bus and delivers
// them to every configured notifier. Delivery is best-effort: failures are
// logged and counted, never retried.
type NotificationDispatcher struct {
	notifiers []Notifier
	limiter   *rate.Limiter
	timeout   time.Duration
	metrics   *Metrics
	logger    *zap.Logger
}

// NewNotificationDispatcher creates a dispatcher. ratePerMinute caps
// outbound deliveries across all notifiers (0 disables the cap); timeout
// bounds each delivery including its wait for a rate-limit token.
func NewNotificationDispatcher(notifiers []Notifier, ratePerMinute int, timeout time.Duration, metrics *Metrics, logger *zap.Logger) *NotificationDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &NotificationDispatcher{
		notifiers: notifiers,
		timeout:   timeout,
		metrics:   metrics,
		logger:    logger,
	}
	if ratePerMinute > 0 {
		d.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), ratePerMinute)
	}
	return d
}

// Subscribe registers the dispatcher for triggered and resolved alerts.
func (d *NotificationDispatcher) Subscribe(bus *event.Bus) (unsubscribe func()) {
	unsubTriggered := bus.Subscribe(TopicAlertTriggered, d.HandleAlertEvent)
	unsubResolved := bus.Subscribe(TopicAlertResolved, d.HandleAlertEvent)
	return func() {
		unsubTriggered()
		unsubResolved()
	}
}

// HandleAlertEvent processes an alert event from the event bus and delivers
// notifications to all notifiers. The publisher's cancellation does not
// abort a delivery that is already under way.
func (d *NotificationDispatcher) HandleAlertEvent(ctx context.Context, ev event.Event) {
	alert, ok := ev.Payload.(*Alert)
	if !ok {
		d.logger.Warn("unexpected payload type for alert event",
			zap.String("topic", ev.Topic),
		)
		return
	}

	ctx = context.WithoutCancel(ctx)

	for _, n := range d.notifiers {
		d.deliver(ctx, n, alert)
	}
}

func (d *NotificationDispatcher) deliver(ctx context.Context, n Notifier, alert *Alert) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.metrics.notificationResult(err)
			d.logger.Warn("notification dropped by rate limit",
				zap.String("notifier", n.Type()),
				zap.String("alert_id", alert.ID),
				zap.String("device_id", alert.Device.ID),
			)
			return
		}
	}

	err := n.Notify(ctx, alert)
	d.metrics.notificationResult(err)
	if err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("notifier", n.Type()),
			zap.String("alert_id", alert.ID),
			zap.String("device_id", alert.Device.ID),
			zap.Error(err),
		)
		return
	}

	d.logger.Debug("notification delivered",
		zap.String("notifier", n.Type()),
		zap.String("alert_id", alert.ID),
		zap.String("device_id", alert.Device.ID),
		zap.String("event_type", alert.EventType),
	)
}
