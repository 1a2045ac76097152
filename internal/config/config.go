package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the device agent (sensord)
type Config struct {
	Sensor  SensorConfig  `yaml:"sensor"`
	Agent   AgentConfig   `yaml:"agent"`
	Logging LoggingConfig `yaml:"logging"`
}

// SensorConfig contains sensor-specific settings
type SensorConfig struct {
	ID           string        `yaml:"id"`
	Location     string        `yaml:"location"`
	Type         string        `yaml:"type"` // DHT11 or simulated
	GPIOPin      int           `yaml:"gpio_pin"`
	ReadInterval time.Duration `yaml:"read_interval"`
}

// Simulated reports whether readings come from the software sensor
func (s SensorConfig) Simulated() bool {
	return strings.EqualFold(s.Type, SensorSimulated)
}

// Sensor types
const (
	SensorDHT11     = "DHT11"
	SensorSimulated = "simulated"
)

// AgentConfig contains the device API listener and probe settings
type AgentConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	PingCount      int           `yaml:"ping_count"`
	PrivilegedPing bool          `yaml:"privileged_ping"`
	BroadcastAddr  string        `yaml:"broadcast_addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// Addr returns the listen address
func (a AgentConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// LoadConfig loads the agent configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config Config
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

// ApplyDefaults sets default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.Sensor.Type == "" {
		c.Sensor.Type = SensorDHT11
	}
	if c.Sensor.ReadInterval == 0 {
		c.Sensor.ReadInterval = 2 * time.Second
	}
	if c.Agent.Host == "" {
		c.Agent.Host = "0.0.0.0"
	}
	if c.Agent.Port == 0 {
		c.Agent.Port = 8090
	}
	if c.Agent.PingTimeout == 0 {
		c.Agent.PingTimeout = 2 * time.Second
	}
	if c.Agent.PingCount == 0 {
		c.Agent.PingCount = 1
	}
	if c.Agent.BroadcastAddr == "" {
		c.Agent.BroadcastAddr = "255.255.255.255:9"
	}
	c.Logging.applyDefaults()
}

func (l *LoggingConfig) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() error {
	if v := os.Getenv("SENSOR_ID"); v != "" {
		c.Sensor.ID = v
	}
	if v := os.Getenv("SENSOR_LOCATION"); v != "" {
		c.Sensor.Location = v
	}
	if v := os.Getenv("AGENT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AGENT_PORT %q: %w", v, err)
		}
		c.Agent.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Sensor.ID == "" {
		return fmt.Errorf("sensor ID is required")
	}
	switch {
	case c.Sensor.Simulated():
	case strings.EqualFold(c.Sensor.Type, SensorDHT11):
		if c.Sensor.GPIOPin <= 0 {
			return fmt.Errorf("GPIO pin must be greater than 0")
		}
	default:
		return fmt.Errorf("unsupported sensor type %q", c.Sensor.Type)
	}
	// DHT11 needs at least a second between samples
	if c.Sensor.ReadInterval < time.Second {
		return fmt.Errorf("read interval must be at least 1 second")
	}
	if c.Agent.Port < 1 || c.Agent.Port > 65535 {
		return fmt.Errorf("agent port must be between 1 and 65535")
	}
	if c.Agent.PingCount < 1 {
		return fmt.Errorf("ping count must be at least 1")
	}
	return c.Logging.validate()
}

func (l LoggingConfig) validate() error {
	switch strings.ToLower(l.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", l.Format)
	}
	return nil
}

// String returns a printable summary of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Sensor: %+v, Agent: [Addr=%s, PingTimeout=%s, Broadcast=%s], Logging: %+v}",
		c.Sensor,
		c.Agent.Addr(),
		c.Agent.PingTimeout,
		c.Agent.BroadcastAddr,
		c.Logging,
	)
}
