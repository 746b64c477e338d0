package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	pkgconfig "github.com/mjasion/balena-home/victron-monitor/pkg/config"
	"github.com/mjasion/balena-home/victron-monitor/victron"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	Devices    []DeviceConfig   `yaml:"devices"`
	BLE        BLEConfig        `yaml:"ble"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	LiveAPI    LiveAPIConfig    `yaml:"liveApi"`
	Display    DisplayConfig    `yaml:"display"`
	Forward    ForwardConfig    `yaml:"forward"`

	Logging       pkgconfig.LoggingConfig       `yaml:"logging"`
	OpenTelemetry pkgconfig.OpenTelemetryConfig `yaml:"opentelemetry"`
	Profiling     pkgconfig.ProfilingConfig     `yaml:"profiling"`
}

// DeviceConfig contains one provisioned device and its encryption key
type DeviceConfig struct {
	Name       string `yaml:"name"`
	MACAddress string `yaml:"macAddress"`
	Key        string `yaml:"key"`
}

// BLEConfig contains BLE decoding configuration
type BLEConfig struct {
	ProtocolLayout string `yaml:"protocolLayout" env:"BLE_PROTOCOL_LAYOUT" env-default:"keycheck"`
}

// PrometheusConfig contains Prometheus remote-write configuration
type PrometheusConfig struct {
	Enabled             bool   `yaml:"enabled" env:"PROMETHEUS_ENABLED" env-default:"true"`
	URL                 string `yaml:"prometheusUrl" env:"PROMETHEUS_URL"`
	Username            string `yaml:"prometheusUsername" env:"PROMETHEUS_USERNAME"`
	Password            string `yaml:"prometheusPassword" env:"PROMETHEUS_PASSWORD"`
	PushIntervalSeconds int    `yaml:"pushIntervalSeconds" env:"PUSH_INTERVAL_SECONDS" env-default:"30"`
	BatchSize           int    `yaml:"batchSize" env:"BATCH_SIZE" env-default:"200"`
	BufferSize          int    `yaml:"bufferSize" env:"BUFFER_SIZE" env-default:"2000"`
}

// LiveAPIConfig contains the live-data HTTP interface configuration
type LiveAPIConfig struct {
	Enabled          bool `yaml:"enabled" env:"LIVE_API_ENABLED" env-default:"true"`
	Port             int  `yaml:"port" env:"LIVE_API_PORT" env-default:"8080"`
	FreshnessSeconds int  `yaml:"freshnessSeconds" env:"LIVE_API_FRESHNESS_SECONDS" env-default:"60"`
}

// DisplayConfig contains the periodic status summary configuration
type DisplayConfig struct {
	Enabled          bool   `yaml:"enabled" env:"DISPLAY_ENABLED" env-default:"true"`
	Schedule         string `yaml:"schedule" env:"DISPLAY_SCHEDULE" env-default:"@every 30s"`
	FreshnessSeconds int    `yaml:"freshnessSeconds" env:"DISPLAY_FRESHNESS_SECONDS" env-default:"60"`
}

// ForwardConfig contains the NATS forwarder configuration
type ForwardConfig struct {
	Enabled          bool   `yaml:"enabled" env:"FORWARD_ENABLED" env-default:"false"`
	NATSURL          string `yaml:"natsUrl" env:"NATS_URL" env-default:"nats://127.0.0.1:4222"`
	SubjectPrefix    string `yaml:"subjectPrefix" env:"NATS_SUBJECT_PREFIX" env-default:"victron"`
	IntervalSeconds  int    `yaml:"intervalSeconds" env:"FORWARD_INTERVAL_SECONDS" env-default:"10"`
	FreshnessSeconds int    `yaml:"freshnessSeconds" env:"FORWARD_FRESHNESS_SECONDS" env-default:"60"`
}

// Load loads configuration from a YAML file with environment variable overrides
func Load(configPath string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}

	seen := make(map[string]string)
	for i, d := range c.Devices {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("device %d: name is required", i)
		}

		id := victron.NormalizeDeviceID(d.MACAddress)
		if id == "" {
			return fmt.Errorf("device %s: macAddress is required", d.Name)
		}
		if other, dup := seen[id]; dup {
			return fmt.Errorf("device %s: duplicate MAC address %s (also used by %s)", d.Name, d.MACAddress, other)
		}
		seen[id] = d.Name

		if _, err := victron.ParseKey(d.Key); err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
	}

	if _, err := victron.ParseLayout(c.BLE.ProtocolLayout); err != nil {
		return fmt.Errorf("ble: %w", err)
	}

	if c.Prometheus.Enabled {
		if _, err := url.ParseRequestURI(c.Prometheus.URL); err != nil {
			return fmt.Errorf("invalid prometheusUrl: %w", err)
		}
		if c.Prometheus.PushIntervalSeconds <= 0 {
			return fmt.Errorf("pushIntervalSeconds must be positive, got %d", c.Prometheus.PushIntervalSeconds)
		}
		if c.Prometheus.BatchSize <= 0 {
			return fmt.Errorf("batchSize must be positive, got %d", c.Prometheus.BatchSize)
		}
		if c.Prometheus.BufferSize <= 0 {
			return fmt.Errorf("bufferSize must be positive, got %d", c.Prometheus.BufferSize)
		}
	}

	if c.LiveAPI.Enabled {
		if c.LiveAPI.Port <= 0 || c.LiveAPI.Port > 65535 {
			return fmt.Errorf("liveApi port must be between 1 and 65535, got %d", c.LiveAPI.Port)
		}
		if c.LiveAPI.FreshnessSeconds <= 0 {
			return fmt.Errorf("liveApi freshnessSeconds must be positive, got %d", c.LiveAPI.FreshnessSeconds)
		}
	}

	if c.Display.Enabled {
		if _, err := cron.ParseStandard(c.Display.Schedule); err != nil {
			return fmt.Errorf("invalid display schedule %q: %w", c.Display.Schedule, err)
		}
		if c.Display.FreshnessSeconds <= 0 {
			return fmt.Errorf("display freshnessSeconds must be positive, got %d", c.Display.FreshnessSeconds)
		}
	}

	if c.Forward.Enabled {
		if _, err := url.Parse(c.Forward.NATSURL); err != nil || c.Forward.NATSURL == "" {
			return fmt.Errorf("invalid natsUrl %q", c.Forward.NATSURL)
		}
		if strings.TrimSpace(c.Forward.SubjectPrefix) == "" {
			return fmt.Errorf("forward subjectPrefix cannot be empty")
		}
		if c.Forward.IntervalSeconds <= 0 {
			return fmt.Errorf("forward intervalSeconds must be positive, got %d", c.Forward.IntervalSeconds)
		}
		if c.Forward.FreshnessSeconds <= 0 {
			return fmt.Errorf("forward freshnessSeconds must be positive, got %d", c.Forward.FreshnessSeconds)
		}
	}

	if err := pkgconfig.ValidateLogging(&c.Logging); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	if err := pkgconfig.ValidateOpenTelemetry(&c.OpenTelemetry); err != nil {
		return fmt.Errorf("opentelemetry validation failed: %w", err)
	}

	if err := pkgconfig.ValidateProfiling(&c.Profiling); err != nil {
		return fmt.Errorf("profiling validation failed: %w", err)
	}

	return nil
}

// Layout returns the configured protocol layout. Validate has already
// rejected unknown values.
func (c *Config) Layout() victron.Layout {
	layout, _ := victron.ParseLayout(c.BLE.ProtocolLayout)
	return layout
}

// RegisterKeys adds every configured device key to the registry
func (c *Config) RegisterKeys(keys *victron.KeyRegistry) error {
	for _, d := range c.Devices {
		if err := keys.Add(d.MACAddress, d.Key); err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
	}
	return nil
}

// DeviceNames maps normalized device identifiers to configured names
func (c *Config) DeviceNames() map[string]string {
	names := make(map[string]string, len(c.Devices))
	for _, d := range c.Devices {
		names[victron.NormalizeDeviceID(d.MACAddress)] = d.Name
	}
	return names
}

// PushInterval returns the Prometheus push interval
func (c *Config) PushInterval() time.Duration {
	return time.Duration(c.Prometheus.PushIntervalSeconds) * time.Second
}

// Redacted returns the configuration with secrets masked, for debugging
func (c *Config) Redacted() map[string]interface{} {
	devices := make([]map[string]interface{}, len(c.Devices))
	for i, d := range c.Devices {
		devices[i] = map[string]interface{}{
			"name":       d.Name,
			"macAddress": d.MACAddress,
			"key":        "***",
		}
	}

	return map[string]interface{}{
		"devices": devices,
		"ble": map[string]interface{}{
			"protocolLayout": c.BLE.ProtocolLayout,
		},
		"prometheus": map[string]interface{}{
			"enabled":             c.Prometheus.Enabled,
			"prometheusUrl":       redactURL(c.Prometheus.URL),
			"prometheusUsername":  c.Prometheus.Username,
			"prometheusPassword":  "***",
			"pushIntervalSeconds": c.Prometheus.PushIntervalSeconds,
			"batchSize":           c.Prometheus.BatchSize,
			"bufferSize":          c.Prometheus.BufferSize,
		},
		"liveApi": map[string]interface{}{
			"enabled":          c.LiveAPI.Enabled,
			"port":             c.LiveAPI.Port,
			"freshnessSeconds": c.LiveAPI.FreshnessSeconds,
		},
		"display": map[string]interface{}{
			"enabled":          c.Display.Enabled,
			"schedule":         c.Display.Schedule,
			"freshnessSeconds": c.Display.FreshnessSeconds,
		},
		"forward": map[string]interface{}{
			"enabled":         c.Forward.Enabled,
			"natsUrl":         redactURL(c.Forward.NATSURL),
			"subjectPrefix":   c.Forward.SubjectPrefix,
			"intervalSeconds": c.Forward.IntervalSeconds,
		},
		"logging": map[string]interface{}{
			"logFormat": c.Logging.Format,
			"logLevel":  c.Logging.Level,
		},
		"opentelemetry": map[string]interface{}{
			"enabled":        c.OpenTelemetry.Enabled,
			"serviceName":    c.OpenTelemetry.ServiceName,
			"tracesEnabled":  c.OpenTelemetry.Traces.Enabled,
			"metricsEnabled": c.OpenTelemetry.Metrics.Enabled,
			"endpointSet":    c.OpenTelemetry.Endpoint != "",
		},
		"profiling": map[string]interface{}{
			"enabled":       c.Profiling.Enabled,
			"serverAddress": c.Profiling.ServerAddress,
			"profiles":      c.Profiling.Profiles,
		},
	}
}

// NewLogger creates a zap logger based on the logging configuration
func (c *Config) NewLogger() (*zap.Logger, error) {
	return pkgconfig.NewLogger(&c.Logging)
}

// PrintConfig logs the configuration without key material or passwords
func (c *Config) PrintConfig(logger *zap.Logger) {
	devices := make([]string, len(c.Devices))
	for i, d := range c.Devices {
		devices[i] = fmt.Sprintf("%s (MAC:%s)", d.Name, victron.NormalizeDeviceID(d.MACAddress))
	}

	logger.Info("configuration loaded",
		zap.Int("device_count", len(c.Devices)),
		zap.Strings("devices", devices),
		zap.String("protocol_layout", c.Layout().String()),
		zap.Bool("prometheus_enabled", c.Prometheus.Enabled),
		zap.String("prometheus_url", redactURL(c.Prometheus.URL)),
		zap.String("prometheus_username", c.Prometheus.Username),
		zap.Bool("prometheus_password_set", c.Prometheus.Password != ""),
		zap.Int("push_interval_seconds", c.Prometheus.PushIntervalSeconds),
		zap.Int("buffer_size", c.Prometheus.BufferSize),
		zap.Bool("live_api_enabled", c.LiveAPI.Enabled),
		zap.Int("live_api_port", c.LiveAPI.Port),
		zap.Bool("display_enabled", c.Display.Enabled),
		zap.String("display_schedule", c.Display.Schedule),
		zap.Bool("forward_enabled", c.Forward.Enabled),
		zap.String("nats_url", redactURL(c.Forward.NATSURL)),
		zap.Bool("otel_enabled", c.OpenTelemetry.Enabled),
		zap.Bool("profiling_enabled", c.Profiling.Enabled),
		zap.String("log_format", c.Logging.Format),
		zap.String("log_level", c.Logging.Level),
	)
}

func redactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
