package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/HerbHall/netpulse/internal/event"
	"github.com/HerbHall/netpulse/internal/version"
	"github.com/HerbHall/netpulse/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var errNotRunning = errors.New("pulse scheduler not running")

// Module wires the monitoring pipeline: admission control, the TCP checker,
// the evaluation engine, the alert state, the event bus, notification
// delivery and the round scheduler.
type Module struct {
	cfg       PulseConfig
	devices   []models.Device
	logger    *zap.Logger
	bus       *event.Bus
	alerts    *AlertState
	engine    *Engine
	scheduler *Scheduler
	mqtt      *MQTTNotifier
	unsub     func()
	startedAt time.Time
}

// New assembles a Module. reg may be nil to skip metric registration.
func New(cfg PulseConfig, devices []models.Device, reg prometheus.Registerer, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := NewMetrics(reg)

	admission := NewAdmission(cfg.MaxConcurrentConnections)
	checker := NewTCPChecker(cfg.Timeout, admission,
		WithProbeMetrics(metrics),
		WithProbeLogger(logger.Named("probe")),
	)
	engine := NewEngine(checker, cfg.UnitFailurePolicy, metrics, logger.Named("engine"))

	bus := event.NewBus(logger.Named("bus"))
	alerts := NewAlertState()

	var notifiers []Notifier
	if cfg.Webhook != "" {
		notifiers = append(notifiers, NewWebhookNotifier(WebhookConfig{
			URL:     cfg.Webhook,
			Format:  cfg.WebhookFormat,
			Secret:  cfg.WebhookSecret,
			Timeout: cfg.NotifyTimeout,
		}))
	}
	if cfg.AlertmanagerURL != "" {
		notifiers = append(notifiers, NewAlertmanagerNotifier(AlertmanagerConfig{
			URL:     cfg.AlertmanagerURL,
			Secret:  cfg.WebhookSecret,
			Timeout: cfg.NotifyTimeout,
		}))
	}
	var mqtt *MQTTNotifier
	if cfg.MQTT.BrokerURL != "" {
		mqtt = NewMQTTNotifier(cfg.MQTT, logger.Named("mqtt"))
		notifiers = append(notifiers, mqtt)
	}
	dispatcher := NewNotificationDispatcher(notifiers, cfg.NotifyRatePerMinute, cfg.NotifyTimeout, metrics, logger.Named("dispatch"))

	scheduler := NewScheduler(engine, devices, alerts, bus, cfg, logger.Named("scheduler"),
		WithSchedulerMetrics(metrics),
	)

	return &Module{
		cfg:       cfg,
		devices:   devices,
		logger:    logger,
		bus:       bus,
		alerts:    alerts,
		engine:    engine,
		scheduler: scheduler,
		mqtt:      mqtt,
		unsub:     dispatcher.Subscribe(bus),
	}
}

// Start launches the round scheduler in the background.
func (m *Module) Start(ctx context.Context) {
	m.startedAt = time.Now().UTC()
	if m.mqtt != nil {
		m.mqtt.Connect()
	}
	m.scheduler.Start(ctx)
	m.logger.Info("pulse module started", zap.Int("devices", len(m.devices)))
}

// RunOnce executes a single round and waits for its notifications.
func (m *Module) RunOnce(ctx context.Context) RoundResult {
	result := m.scheduler.RunRound(ctx)
	if err := m.bus.Drain(ctx); err != nil {
		m.logger.Warn("pending notifications abandoned", zap.Error(err))
	}
	return result
}

// Evaluate probes the whole fleet once and returns its verdicts without
// touching alert state or publishing anything.
func (m *Module) Evaluate(ctx context.Context) map[string]Verdict {
	return m.engine.EvaluateFleet(ctx, m.devices)
}

// Devices returns the monitored devices in configuration order.
func (m *Module) Devices() []models.Device {
	return m.devices
}

// Ready reports an error until the scheduler loop is running.
func (m *Module) Ready(context.Context) error {
	if !m.Running() {
		return errNotRunning
	}
	return nil
}

// Stop halts the scheduler, then waits for in-flight notifications until
// ctx expires.
func (m *Module) Stop(ctx context.Context) error {
	m.scheduler.Stop()
	err := m.bus.Drain(ctx)
	m.unsub()
	if m.mqtt != nil {
		m.mqtt.Close()
	}
	if err != nil {
		m.logger.Warn("pending notifications abandoned", zap.Error(err))
		return err
	}
	m.logger.Info("pulse module stopped")
	return nil
}

// Running reports whether the scheduler loop is active.
func (m *Module) Running() bool {
	return m.scheduler.Running()
}

// statusResponse is the body of the status endpoint.
type statusResponse struct {
	Version       map[string]string `json:"version"`
	Running       bool              `json:"running"`
	StartedAt     time.Time         `json:"started_at,omitempty"`
	Devices       int               `json:"devices"`
	Interval      string            `json:"interval"`
	AlertCooldown string            `json:"alert_cooldown"`
	ActiveAlerts  []string          `json:"active_alerts"`
	Stats         Stats             `json:"stats"`
}

// HandleStatus reports scheduler counters and the devices currently in the
// alerted state.
func (m *Module) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Version:       version.Map(),
		Running:       m.Running(),
		StartedAt:     m.startedAt,
		Devices:       len(m.devices),
		Interval:      m.cfg.Interval.String(),
		AlertCooldown: m.cfg.AlertCooldown.String(),
		ActiveAlerts:  m.alerts.Active(),
		Stats:         m.scheduler.Stats(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
