package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ Notifier = (*MQTTNotifier)(nil)

var errMQTTNotConnected = errors.New("mqtt: not connected to broker")

// MQTTConfig holds the [settings.mqtt] section.
type MQTTConfig struct {
	BrokerURL   string        `mapstructure:"broker_url"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	ClientID    string        `mapstructure:"client_id"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         byte          `mapstructure:"qos"`
	Retain      bool          `mapstructure:"retain"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DefaultMQTTConfig returns the MQTT defaults. An empty BrokerURL disables
// the publisher.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		ClientID:    "netpulse",
		TopicPrefix: "netpulse",
		QoS:         1,
		Timeout:     10 * time.Second,
	}
}

// mqttClient is the subset of pahomqtt.Client the notifier uses.
type mqttClient interface {
	Connect() pahomqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// MQTTNotifier publishes alerts to an MQTT broker. Each alert goes to
// <prefix>/alert/<event type> as JSON, and the device's retained state
// topic <prefix>/device/<id>/state is set to "down" or "up".
type MQTTNotifier struct {
	cfg    MQTTConfig
	client mqttClient
	logger *zap.Logger
}

// NewMQTTNotifier creates a notifier with a paho client. Call Connect
// before the first alert.
func NewMQTTNotifier(cfg MQTTConfig, logger *zap.Logger) *MQTTNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.Timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password) //nolint:gosec // G101: config field
	}
	return newMQTTNotifier(cfg, pahomqtt.NewClient(opts), logger)
}

func newMQTTNotifier(cfg MQTTConfig, client mqttClient, logger *zap.Logger) *MQTTNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTNotifier{cfg: cfg, client: client, logger: logger}
}

// Connect starts the broker connection and waits up to the configured
// timeout. A slow or failed connection is not fatal: the client keeps
// retrying in the background and alerts fail until it succeeds.
func (n *MQTTNotifier) Connect() {
	token := n.client.Connect()
	switch {
	case !token.WaitTimeout(n.cfg.Timeout):
		n.logger.Warn("mqtt connection timed out; will retry in background",
			zap.String("broker_url", n.cfg.BrokerURL),
		)
	case token.Error() != nil:
		n.logger.Warn("mqtt connection failed; will retry in background",
			zap.String("broker_url", n.cfg.BrokerURL),
			zap.Error(token.Error()),
		)
	default:
		n.logger.Info("mqtt connected to broker", zap.String("broker_url", n.cfg.BrokerURL))
	}
}

// Close disconnects from the broker. It also stops a client that is still
// retrying its initial connection.
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
	n.logger.Info("mqtt disconnected")
}

// Notify publishes the alert and the device state.
func (n *MQTTNotifier) Notify(ctx context.Context, alert *Alert) error {
	if !n.client.IsConnected() {
		return errMQTTNotConnected
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}
	if err := n.publish(ctx, n.alertTopic(alert), n.cfg.Retain, payload); err != nil {
		return err
	}

	state := "down"
	if alert.EventType == EventResolved {
		state = "up"
	}
	// State topics are always retained so subscribers see the latest value on connect.
	return n.publish(ctx, n.stateTopic(alert.Device.ID), true, []byte(state))
}

// Type returns the notifier type identifier.
func (n *MQTTNotifier) Type() string {
	return "mqtt"
}

func (n *MQTTNotifier) alertTopic(alert *Alert) string {
	return n.cfg.TopicPrefix + "/alert/" + alert.EventType
}

func (n *MQTTNotifier) stateTopic(deviceID string) string {
	return n.cfg.TopicPrefix + "/device/" + deviceID + "/state"
}

func (n *MQTTNotifier) publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	token := n.client.Publish(topic, n.cfg.QoS, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	n.logger.Debug("mqtt published", zap.String("topic", topic))
	return nil
}
