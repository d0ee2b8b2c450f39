package pulse

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/netpulse/internal/event"
	"github.com/HerbHall/netpulse/pkg/models"
	"go.uber.org/zap"
)

// Clock abstracts wall-clock time so round pacing can be tested.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Publisher is the part of the event bus the scheduler needs.
type Publisher interface {
	PublishAsync(ctx context.Context, ev event.Event)
}

// RoundResult summarizes one polling round.
type RoundResult struct {
	Round          uint64        `json:"round"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	FailingDevices []string      `json:"failing_devices"`
	AlertsSent     int           `json:"alerts_sent"`
	Recovered      int           `json:"recovered"`
	Abandoned      bool          `json:"abandoned,omitempty"`
}

// Stats are the cumulative counters kept by the scheduler.
type Stats struct {
	Rounds      uint64      `json:"rounds"`
	AlertsFired uint64      `json:"alerts_fired"`
	Recovered   uint64      `json:"recovered"`
	LastRound   RoundResult `json:"last_round"`
}

// Scheduler drives polling rounds at a fixed nominal interval. Each round
// evaluates the whole fleet, feeds verdicts through the AlertState and
// publishes alerts for fire-and-forget delivery. Rounds never overlap.
type Scheduler struct {
	engine  *Engine
	devices []models.Device
	alerts  *AlertState
	bus     Publisher
	cfg     PulseConfig
	clock   Clock
	metrics *Metrics
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithSchedulerMetrics records round, alert and recovery metrics.
func WithSchedulerMetrics(m *Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a scheduler over a fixed device list.
func NewScheduler(engine *Engine, devices []models.Device, alerts *AlertState, bus Publisher, cfg PulseConfig, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		engine:  engine,
		devices: devices,
		alerts:  alerts,
		bus:     bus,
		cfg:     cfg,
		clock:   realClock{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the scheduling loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(s.ctx)
	}()
}

// Stop signals the scheduler to stop and waits for completion.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Running reports whether the scheduler loop is active.
func (s *Scheduler) Running() bool {
	return s.ctx != nil && s.ctx.Err() == nil
}

// Run executes rounds until ctx is done. The first round starts
// immediately. After each round the scheduler waits for whatever is left of
// the interval; an overrunning round is followed immediately by the next
// one, with no catch-up.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Int("devices", len(s.devices)),
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("alert_cooldown", s.cfg.AlertCooldown),
	)
	defer s.logger.Info("scheduler stopped")

	for ctx.Err() == nil {
		start := s.clock.Now()
		s.RunRound(ctx)

		wait := PaceDelay(s.cfg.Interval, s.clock.Now().Sub(start))
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(wait):
		}
	}
}

// PaceDelay returns how long to wait after a round that took elapsed,
// clamped to zero.
func PaceDelay(interval, elapsed time.Duration) time.Duration {
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

// RunRound evaluates the fleet once and applies the verdicts to the alert
// state. A round interrupted by cancellation is abandoned without touching
// alert state.
func (s *Scheduler) RunRound(ctx context.Context) RoundResult {
	start := s.clock.Now()
	verdicts := s.engine.EvaluateFleet(ctx, s.devices)

	s.mu.Lock()
	round := s.stats.Rounds + 1
	s.mu.Unlock()

	result := RoundResult{Round: round, StartedAt: start}
	if ctx.Err() != nil {
		result.Abandoned = true
		result.Duration = s.clock.Now().Sub(start)
		s.logger.Info("round abandoned", zap.Uint64("round", round))
		return result
	}

	now := s.clock.Now()

	// Healthy devices first: clear suppression state.
	for _, d := range s.devices {
		v, ok := verdicts[d.ID]
		if !ok || !v.Healthy {
			continue
		}
		if !s.alerts.MarkRecovered(d.ID) {
			continue
		}
		result.Recovered++
		s.metrics.deviceRecovered()
		s.logger.Info("device recovered", zap.String("device_id", d.ID))
		if s.cfg.AlertOnRecovery {
			s.publish(ctx, TopicAlertResolved, NewAlert(EventResolved, d, nil, now))
		}
	}

	// Failing devices: fire or suppress.
	for _, d := range s.devices {
		v, ok := verdicts[d.ID]
		if !ok || v.Healthy {
			continue
		}
		result.FailingDevices = append(result.FailingDevices, d.ID)
		if !s.alerts.ShouldAlert(d.ID, now, s.cfg.AlertCooldown) {
			s.logger.Debug("alert suppressed by cooldown", zap.String("device_id", d.ID))
			continue
		}
		result.AlertsSent++
		s.metrics.alertFired()
		s.logger.Warn("alert fired",
			zap.String("device_id", d.ID),
			zap.String("device", d.DisplayName()),
			zap.String("group", d.Group),
			zap.Int("failed_checks", len(v.Failures)),
			zap.Int("affected_ips", models.AffectedIPs(v.Failures)),
		)
		s.publish(ctx, TopicAlertTriggered, NewAlert(EventTriggered, d, v.Failures, now))
	}

	result.Duration = s.clock.Now().Sub(start)
	s.metrics.roundCompleted(result.Duration.Seconds(), len(result.FailingDevices))
	s.record(result)
	return result
}

func (s *Scheduler) publish(ctx context.Context, topic string, alert *Alert) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAsync(ctx, event.Event{
		Topic:     topic,
		Source:    "pulse",
		Timestamp: alert.TriggeredAt,
		Payload:   alert,
	})
}

func (s *Scheduler) record(result RoundResult) {
	s.mu.Lock()
	s.stats.Rounds = result.Round
	s.stats.AlertsFired += uint64(result.AlertsSent)
	s.stats.Recovered += uint64(result.Recovered)
	s.stats.LastRound = result
	stats := s.stats
	s.mu.Unlock()

	if len(result.FailingDevices) == 0 {
		s.logger.Info("round complete",
			zap.Uint64("round", result.Round),
			zap.Duration("duration", result.Duration),
		)
	} else {
		s.logger.Warn("round complete",
			zap.Uint64("round", result.Round),
			zap.Int("failing_devices", len(result.FailingDevices)),
			zap.Int("alerts_sent", result.AlertsSent),
			zap.Duration("duration", result.Duration),
		)
	}

	if every := uint64(s.cfg.SummaryEvery); every > 0 && result.Round%every == 0 {
		s.logger.Info("cumulative summary",
			zap.Uint64("rounds", stats.Rounds),
			zap.Uint64("alerts_fired", stats.AlertsFired),
			zap.Uint64("recovered", stats.Recovered),
		)
	}
}

// Stats returns a snapshot of the cumulative counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.LastRound.FailingDevices = append([]string(nil), s.stats.LastRound.FailingDevices...)
	return stats
}
