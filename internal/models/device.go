package models

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Device is a LAN host that can be probed and woken through the device API.
type Device struct {
	Name string `yaml:"name" json:"name"`
	MAC  string `yaml:"mac" json:"mac"`
	IP   string `yaml:"ip" json:"ip"`
	Port int    `yaml:"port" json:"port,omitempty"`
}

// ID returns the sanitized identifier used in URLs and element ids.
func (d Device) ID() string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(d.Name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Validate checks the static device definition
func (d Device) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("device name is required")
	}
	if _, err := net.ParseMAC(d.MAC); err != nil {
		return fmt.Errorf("device %q: invalid MAC address %q", d.Name, d.MAC)
	}
	if net.ParseIP(d.IP) == nil {
		return fmt.Errorf("device %q: invalid IP address %q", d.Name, d.IP)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("device %q: port must be between 0 and 65535", d.Name)
	}
	return nil
}

// PingResult is the body returned by the device's /ping endpoint
type PingResult struct {
	Online bool `json:"online"`
}

// WakeResult is the body returned by the device's /wol endpoint
type WakeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// EventKind classifies a recorded device action
type EventKind string

const (
	EventProbe EventKind = "probe"
	EventWake  EventKind = "wake"
)

// DeviceEvent records the outcome of a single probe or wake attempt.
type DeviceEvent struct {
	DeviceID   string    `json:"device_id"`
	Kind       EventKind `json:"kind"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
