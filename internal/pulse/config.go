package pulse

import "time"

// Unit failure policies. See Engine for how each level applies them.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

// Webhook payload formats.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// PulseConfig holds the [settings] section of the configuration file.
type PulseConfig struct {
	Interval                 time.Duration `mapstructure:"interval"`
	Timeout                  time.Duration `mapstructure:"timeout"`
	AlertCooldown            time.Duration `mapstructure:"alert_cooldown"`
	Webhook                  string        `mapstructure:"webhook"`
	WebhookFormat            string        `mapstructure:"webhook_format"`
	WebhookSecret            string        `mapstructure:"webhook_secret"` //nolint:gosec // G101: config field name, not a credential
	AlertmanagerURL          string        `mapstructure:"alertmanager_url"`
	NotifyTimeout            time.Duration `mapstructure:"notify_timeout"`
	NotifyRatePerMinute      int           `mapstructure:"notify_rate_per_minute"`
	MaxConcurrentConnections int           `mapstructure:"max_concurrent_connections"`
	AlertOnRecovery          bool          `mapstructure:"alert_on_recovery"`
	UnitFailurePolicy        string        `mapstructure:"unit_failure_policy"`
	SummaryEvery             int           `mapstructure:"summary_every"`
	MQTT                     MQTTConfig    `mapstructure:"mqtt"`
}

// DefaultConfig returns the settings used for keys absent from the file.
func DefaultConfig() PulseConfig {
	return PulseConfig{
		Interval:                 30 * time.Second,
		Timeout:                  3 * time.Second,
		AlertCooldown:            5 * time.Minute,
		WebhookFormat:            FormatMarkdown,
		NotifyTimeout:            10 * time.Second,
		NotifyRatePerMinute:      20,
		MaxConcurrentConnections: 100,
		UnitFailurePolicy:        FailOpen,
		SummaryEvery:             10,
		MQTT:                     DefaultMQTTConfig(),
	}
}
