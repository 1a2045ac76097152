package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/afroash/envdash/internal/models"
)

// AppConfig holds the dashboard configuration
type AppConfig struct {
	Server  ServerSettings  `yaml:"server"`
	Device  DeviceSettings  `yaml:"device"`
	Poll    PollSettings    `yaml:"poll"`
	Panel   PanelSettings   `yaml:"panel"`
	Devices []models.Device `yaml:"devices"`
	Storage StorageSettings `yaml:"storage"`
	Theme   ThemeSettings   `yaml:"theme"`
	Logging LoggingConfig   `yaml:"logging"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DeviceSettings locates the sensor device's HTTP API
type DeviceSettings struct {
	URL     string `yaml:"url"`
	DevURL  string `yaml:"dev_url"`
	DevMode bool   `yaml:"dev_mode"`
}

// BaseURL returns the API base in effect
func (d DeviceSettings) BaseURL() string {
	if d.DevMode {
		return d.DevURL
	}
	return d.URL
}

// PollSettings tunes the sensor poll/reconnect cycle
type PollSettings struct {
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxFailures int           `yaml:"max_failures"`
	Countdown   int           `yaml:"countdown"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// PanelSettings tunes device probes and wake requests
type PanelSettings struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	WakeTimeout  time.Duration `yaml:"wake_timeout"`
	ProbeSpacing time.Duration `yaml:"probe_spacing"`
	WakeDisplay  time.Duration `yaml:"wake_display"`
	RecheckDelay time.Duration `yaml:"recheck_delay"`
}

// StorageSettings contains storage configuration
type StorageSettings struct {
	DBPath        string        `yaml:"db_path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
	RetentionDays int           `yaml:"retention_days"` // negative keeps events forever
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// ThemeSettings holds the theme used until the user picks one
type ThemeSettings struct {
	Default string `yaml:"default"`
}

// LoadAppConfig loads the dashboard configuration from a YAML file
func LoadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for the dashboard config
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8081
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}

	if ac.Device.URL == "" {
		ac.Device.URL = "http://esp32.local"
	}
	if ac.Device.DevURL == "" {
		ac.Device.DevURL = "http://localhost:8090"
	}

	if ac.Poll.Interval == 0 {
		ac.Poll.Interval = 2500 * time.Millisecond
	}
	if ac.Poll.Timeout == 0 {
		ac.Poll.Timeout = 2 * time.Second
	}
	if ac.Poll.MaxFailures == 0 {
		ac.Poll.MaxFailures = 3
	}
	if ac.Poll.Countdown == 0 {
		ac.Poll.Countdown = 8
	}
	if ac.Poll.SettleDelay == 0 {
		ac.Poll.SettleDelay = 500 * time.Millisecond
	}

	if ac.Panel.ProbeTimeout == 0 {
		ac.Panel.ProbeTimeout = 5 * time.Second
	}
	if ac.Panel.WakeTimeout == 0 {
		ac.Panel.WakeTimeout = 5 * time.Second
	}
	if ac.Panel.ProbeSpacing == 0 {
		ac.Panel.ProbeSpacing = time.Second
	}
	if ac.Panel.WakeDisplay == 0 {
		ac.Panel.WakeDisplay = 1500 * time.Millisecond
	}
	if ac.Panel.RecheckDelay == 0 {
		ac.Panel.RecheckDelay = 30 * time.Second
	}

	if ac.Storage.DBPath == "" {
		ac.Storage.DBPath = "./data/envdash.db"
	}
	if ac.Storage.BatchSize == 0 {
		ac.Storage.BatchSize = 50
	}
	if ac.Storage.FlushPeriod == 0 {
		ac.Storage.FlushPeriod = 5 * time.Second
	}
	if ac.Storage.ChannelSize == 0 {
		ac.Storage.ChannelSize = 256
	}
	if ac.Storage.RetentionDays == 0 {
		ac.Storage.RetentionDays = 14
	}
	if ac.Storage.CleanupPeriod == 0 {
		ac.Storage.CleanupPeriod = 6 * time.Hour
	}

	if ac.Theme.Default == "" {
		ac.Theme.Default = "dark"
	}
	ac.Logging.applyDefaults()
}

// OverrideFromEnv overrides config from environment variables
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		ac.Server.Port = port
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("DEVICE_URL"); v != "" {
		ac.Device.URL = v
	}
	if v := os.Getenv("DEVICE_DEV_MODE"); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEVICE_DEV_MODE %q: %w", v, err)
		}
		ac.Device.DevMode = dev
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	return nil
}

// Validate checks if the dashboard configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if err := validateBaseURL(ac.Device.BaseURL()); err != nil {
		return err
	}
	if ac.Poll.Interval < 100*time.Millisecond {
		return fmt.Errorf("poll interval must be at least 100ms")
	}
	if ac.Poll.Timeout <= 0 || ac.Poll.Timeout > ac.Poll.Interval {
		return fmt.Errorf("poll timeout must be positive and not exceed the interval")
	}
	if ac.Poll.MaxFailures < 1 {
		return fmt.Errorf("max failures must be at least 1")
	}
	if ac.Poll.Countdown < 1 {
		return fmt.Errorf("countdown must be at least 1 second")
	}

	seen := make(map[string]bool, len(ac.Devices))
	for _, d := range ac.Devices {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.ID()] {
			return fmt.Errorf("duplicate device id %q", d.ID())
		}
		seen[d.ID()] = true
	}

	switch strings.ToLower(ac.Theme.Default) {
	case "dark", "light":
	default:
		return fmt.Errorf("theme default must be dark or light, got %q", ac.Theme.Default)
	}
	return ac.Logging.validate()
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid device url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("device url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("device url %q has no host", raw)
	}
	return nil
}

// Addr returns the listen address
func (ac *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", ac.Server.Host, ac.Server.Port)
}

// String returns a printable summary of the configuration
func (ac *AppConfig) String() string {
	return fmt.Sprintf("AppConfig{Server: %+v, Device: [Base=%s, DevMode=%t], Poll: %+v, Devices: %d, Storage: %+v, Theme: %s, Logging: %+v}",
		ac.Server,
		ac.Device.BaseURL(),
		ac.Device.DevMode,
		ac.Poll,
		len(ac.Devices),
		ac.Storage,
		ac.Theme.Default,
		ac.Logging,
	)
}
