package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
sensor:
  id: "pi-sensor-01"
  location: "Office"
  type: "DHT11"
  gpio_pin: 4
  read_interval: 5s

agent:
  port: 9000
  ping_timeout: 1s
  broadcast_addr: "192.168.1.255:9"

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Sensor.ID != "pi-sensor-01" {
		t.Errorf("Sensor.ID = %v, want pi-sensor-01", cfg.Sensor.ID)
	}
	if cfg.Sensor.ReadInterval != 5*time.Second {
		t.Errorf("Sensor.ReadInterval = %v, want 5s", cfg.Sensor.ReadInterval)
	}
	if cfg.Agent.Addr() != "0.0.0.0:9000" {
		t.Errorf("Agent.Addr() = %v", cfg.Agent.Addr())
	}
	if cfg.Agent.BroadcastAddr != "192.168.1.255:9" {
		t.Errorf("Agent.BroadcastAddr = %v", cfg.Agent.BroadcastAddr)
	}
	if cfg.Agent.PingCount != 1 {
		t.Errorf("Agent.PingCount = %v, want default 1", cfg.Agent.PingCount)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %v, want text", cfg.Logging.Format)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadConfig(writeConfig(t, "sensor: [not, a, map")); err == nil {
		t.Error("expected error for malformed YAML")
	}
	if _, err := LoadConfig(writeConfig(t, "sensor:\n  type: DHT11\n")); err == nil {
		t.Error("expected validation error for missing sensor id")
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if cfg.Sensor.Type != SensorDHT11 {
		t.Errorf("Default Sensor.Type = %v, want DHT11", cfg.Sensor.Type)
	}
	if cfg.Sensor.ReadInterval != 2*time.Second {
		t.Errorf("Default ReadInterval = %v, want 2s", cfg.Sensor.ReadInterval)
	}
	if cfg.Agent.Port != 8090 {
		t.Errorf("Default Agent.Port = %v, want 8090", cfg.Agent.Port)
	}
	if cfg.Agent.BroadcastAddr != "255.255.255.255:9" {
		t.Errorf("Default BroadcastAddr = %v", cfg.Agent.BroadcastAddr)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Default Logging = %+v", cfg.Logging)
	}
}

func TestConfig_OverrideFromEnv(t *testing.T) {
	t.Setenv("SENSOR_ID", "env-sensor-01")
	t.Setenv("SENSOR_LOCATION", "Garage")
	t.Setenv("AGENT_PORT", "9100")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := &Config{Sensor: SensorConfig{ID: "config-sensor"}}
	if err := cfg.OverrideFromEnv(); err != nil {
		t.Fatalf("OverrideFromEnv() error = %v", err)
	}

	if cfg.Sensor.ID != "env-sensor-01" || cfg.Sensor.Location != "Garage" {
		t.Errorf("Sensor = %+v", cfg.Sensor)
	}
	if cfg.Agent.Port != 9100 {
		t.Errorf("Agent.Port = %v, want 9100", cfg.Agent.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestConfig_OverrideFromEnv_BadPort(t *testing.T) {
	t.Setenv("AGENT_PORT", "eighty")

	cfg := &Config{}
	if err := cfg.OverrideFromEnv(); err == nil {
		t.Error("expected error for non-numeric AGENT_PORT")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		c := Config{Sensor: SensorConfig{ID: "sensor-01", GPIOPin: 4}}
		c.ApplyDefaults()
		return c
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"simulated needs no pin", func(c *Config) { c.Sensor.Type = "simulated"; c.Sensor.GPIOPin = 0 }, false},
		{"missing sensor ID", func(c *Config) { c.Sensor.ID = "" }, true},
		{"invalid GPIO pin", func(c *Config) { c.Sensor.GPIOPin = 0 }, true},
		{"unknown sensor type", func(c *Config) { c.Sensor.Type = "BME280" }, true},
		{"read interval too short", func(c *Config) { c.Sensor.ReadInterval = 500 * time.Millisecond }, true},
		{"port out of range", func(c *Config) { c.Agent.Port = 70000 }, true},
		{"ping count zero", func(c *Config) { c.Agent.PingCount = 0 }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantError && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{Sensor: SensorConfig{ID: "sensor-01"}}
	cfg.ApplyDefaults()

	str := cfg.String()
	if !strings.Contains(str, "sensor-01") || !strings.Contains(str, "0.0.0.0:8090") {
		t.Errorf("String() = %s", str)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("output = %s", out)
	}
}

func TestNewLogger_TextAndBadLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "loud", Format: "text"}, &buf)

	logger.Debug().Msg("debug line")
	logger.Info().Msg("info line")

	out := buf.String()
	if strings.Contains(out, "debug line") {
		t.Error("unknown level should fall back to info")
	}
	if !strings.Contains(out, "info line") || strings.HasPrefix(out, "{") {
		t.Errorf("expected console output, got %s", out)
	}
}
