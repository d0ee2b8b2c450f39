// Package config loads and validates the netpulse configuration file with
// Viper and builds the process logger.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/netpulse/internal/pulse"
	"github.com/HerbHall/netpulse/pkg/models"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// ErrInvalidConfig wraps every validation failure returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// SearchPaths are the directories probed for config.{toml,yaml,yml,json}
// when no explicit path is given.
var SearchPaths = []string{".", "./configs", "/etc/netpulse"}

var configExts = []string{"toml", "yaml", "yml", "json"}

// Config is the decoded configuration file.
type Config struct {
	Settings pulse.PulseConfig `mapstructure:"settings"`
	Logging  LoggingConfig     `mapstructure:"logging"`
	Server   ServerConfig      `mapstructure:"server"`
	Devices  []models.Device   `mapstructure:"device"`
}

// LoggingConfig controls the zap logger and optional rotated log file.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig controls the operational HTTP listener. An empty Listen
// address disables it.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// SetDefaults registers the default for every known key. Keys need a
// default to be overridable from the environment.
func SetDefaults(v *viper.Viper) {
	d := pulse.DefaultConfig()
	v.SetDefault("settings.interval", d.Interval)
	v.SetDefault("settings.timeout", d.Timeout)
	v.SetDefault("settings.alert_cooldown", d.AlertCooldown)
	v.SetDefault("settings.webhook", "")
	v.SetDefault("settings.webhook_format", d.WebhookFormat)
	v.SetDefault("settings.webhook_secret", "")
	v.SetDefault("settings.alertmanager_url", "")
	v.SetDefault("settings.notify_timeout", d.NotifyTimeout)
	v.SetDefault("settings.notify_rate_per_minute", d.NotifyRatePerMinute)
	v.SetDefault("settings.max_concurrent_connections", d.MaxConcurrentConnections)
	v.SetDefault("settings.alert_on_recovery", d.AlertOnRecovery)
	v.SetDefault("settings.unit_failure_policy", d.UnitFailurePolicy)
	v.SetDefault("settings.summary_every", d.SummaryEvery)
	v.SetDefault("settings.mqtt.broker_url", "")
	v.SetDefault("settings.mqtt.username", "")
	v.SetDefault("settings.mqtt.password", "")
	v.SetDefault("settings.mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("settings.mqtt.topic_prefix", d.MQTT.TopicPrefix)
	v.SetDefault("settings.mqtt.qos", d.MQTT.QoS)
	v.SetDefault("settings.mqtt.retain", d.MQTT.Retain)
	v.SetDefault("settings.mqtt.timeout", d.MQTT.Timeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", true)

	v.SetDefault("server.listen", "")
}

// Load reads the configuration file at path, or the first config file found
// in SearchPaths when path is empty. ${NAME} placeholders are replaced with
// the value of environment variable NAME when it is set. Environment
// variables prefixed NETPULSE_ override file values.
func Load(path string) (*viper.Viper, error) {
	if path == "" {
		found, err := findConfigFile()
		if err != nil {
			return nil, err
		}
		path = found
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		ext = "toml"
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType(ext)
	if err := v.ReadConfig(bytes.NewReader(ExpandPlaceholders(raw))); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	v.SetEnvPrefix("NETPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("logging.level", "NETPULSE_LOGGING_LEVEL", "LOG_LEVEL"); err != nil {
		return nil, fmt.Errorf("bind LOG_LEVEL: %w", err)
	}

	// Older files put the log level under [settings].
	if v.InConfig("settings.log_level") && !v.InConfig("logging.level") {
		v.SetDefault("logging.level", v.GetString("settings.log_level"))
	}

	return v, nil
}

func findConfigFile() (string, error) {
	for _, dir := range SearchPaths {
		for _, ext := range configExts {
			candidate := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("no config file found in %s", strings.Join(SearchPaths, ", "))
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandPlaceholders substitutes ${NAME} with the value of the environment
// variable NAME. Placeholders for unset variables are left as they are.
func ExpandPlaceholders(raw []byte) []byte {
	return placeholder.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := string(placeholder.FindSubmatch(m)[1])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		return m
	})
}

// Decode unmarshals v into a Config. Durations accept Go duration strings
// ("30s") or bare numbers of seconds (30).
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Settings.Webhook = strings.TrimSpace(cfg.Settings.Webhook)
	cfg.Settings.AlertmanagerURL = strings.TrimSpace(cfg.Settings.AlertmanagerURL)
	cfg.Settings.MQTT.BrokerURL = strings.TrimSpace(cfg.Settings.MQTT.BrokerURL)
	return &cfg, nil
}

func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		case reflect.String:
			if n, err := strconv.ParseInt(strings.TrimSpace(data.(string)), 10, 64); err == nil {
				return time.Duration(n) * time.Second, nil
			}
		}
		return data, nil
	}
}

// Validate reports every problem in cfg at once. The returned error wraps
// ErrInvalidConfig.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	s := cfg.Settings
	if s.Interval < 5*time.Second {
		add("settings.interval must be at least 5s, got %s", s.Interval)
	}
	if s.Timeout < time.Second || s.Timeout > 30*time.Second {
		add("settings.timeout must be between 1s and 30s, got %s", s.Timeout)
	}
	if s.AlertCooldown < 0 {
		add("settings.alert_cooldown must not be negative, got %s", s.AlertCooldown)
	}
	if err := validateURL(s.Webhook); err != nil {
		add("settings.webhook: %w", err)
	}
	if s.AlertmanagerURL != "" {
		if err := validateURL(s.AlertmanagerURL); err != nil {
			add("settings.alertmanager_url: %w", err)
		}
	}
	if s.WebhookFormat != pulse.FormatMarkdown && s.WebhookFormat != pulse.FormatJSON {
		add("settings.webhook_format must be %q or %q, got %q", pulse.FormatMarkdown, pulse.FormatJSON, s.WebhookFormat)
	}
	if s.NotifyTimeout <= 0 {
		add("settings.notify_timeout must be positive, got %s", s.NotifyTimeout)
	}
	if s.NotifyRatePerMinute < 0 {
		add("settings.notify_rate_per_minute must not be negative, got %d", s.NotifyRatePerMinute)
	}
	if s.MaxConcurrentConnections < 1 {
		add("settings.max_concurrent_connections must be at least 1, got %d", s.MaxConcurrentConnections)
	}
	if s.UnitFailurePolicy != pulse.FailOpen && s.UnitFailurePolicy != pulse.FailClosed {
		add("settings.unit_failure_policy must be %q or %q, got %q", pulse.FailOpen, pulse.FailClosed, s.UnitFailurePolicy)
	}
	if s.SummaryEvery < 0 {
		add("settings.summary_every must not be negative, got %d", s.SummaryEvery)
	}

	errs = append(errs, validateMQTT(s.MQTT)...)

	if _, err := zapcore.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level: %w", err)
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		add("logging.format must be \"json\" or \"console\", got %q", cfg.Logging.Format)
	}

	errs = append(errs, validateDevices(cfg.Devices)...)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateMQTT(m pulse.MQTTConfig) []error {
	if m.BrokerURL == "" {
		return nil
	}
	var errs []error
	u, err := url.Parse(m.BrokerURL)
	switch {
	case err != nil:
		errs = append(errs, errors.New("settings.mqtt.broker_url: not a valid URL"))
	case !mqttSchemes[u.Scheme]:
		errs = append(errs, fmt.Errorf("settings.mqtt.broker_url: unsupported scheme %q", u.Scheme))
	case u.Host == "":
		errs = append(errs, errors.New("settings.mqtt.broker_url: missing host"))
	}
	if m.QoS > 2 {
		errs = append(errs, fmt.Errorf("settings.mqtt.qos must be 0, 1 or 2, got %d", m.QoS))
	}
	if m.TopicPrefix == "" {
		errs = append(errs, errors.New("settings.mqtt.topic_prefix must not be empty"))
	}
	return errs
}

var mqttSchemes = map[string]bool{
	"tcp": true, "mqtt": true, "ssl": true, "tls": true, "mqtts": true, "ws": true, "wss": true,
}

func validateDevices(devices []models.Device) []error {
	if len(devices) == 0 {
		return []error{errors.New("at least one [[device]] is required")}
	}

	var errs []error
	seen := make(map[string]int, len(devices))
	for i, d := range devices {
		where := fmt.Sprintf("device[%d]", i)
		if d.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", where))
		} else {
			where = fmt.Sprintf("device %q", d.ID)
			if prev, dup := seen[d.ID]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate id (also device[%d])", where, prev))
			}
			seen[d.ID] = i
		}
		if len(d.IPs) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one ip is required", where))
		}
		for _, ip := range d.IPs {
			if strings.TrimSpace(ip) == "" {
				errs = append(errs, fmt.Errorf("%s: empty ip", where))
			}
		}
		if len(d.Checks) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one check is required", where))
		}
		for _, c := range d.Checks {
			if c.Port < 1 || c.Port > 65535 {
				errs = append(errs, fmt.Errorf("%s: port %d out of range 1-65535", where, c.Port))
			}
		}
		if !d.Priority.Valid() {
			errs = append(errs, fmt.Errorf("%s: unknown priority %q", where, d.Priority))
		}
	}
	return errs
}

// LoadConfig loads, decodes and validates the configuration. The Viper
// instance is returned alongside for logger construction.
func LoadConfig(path string) (*Config, *viper.Viper, error) {
	v, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, v, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, v, err
	}
	return cfg, v, nil
}
