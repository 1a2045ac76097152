package models

import (
	"encoding/json"
	"fmt"
)

// Reading is a single sample as reported by the device's /api endpoint.
type Reading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Valid       bool    `json:"valid"`
}

// UnmarshalJSON decodes a device reading. Missing or null numeric fields
// decode to 0 and a missing valid flag means the device did not flag the
// sample, so it is treated as valid.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var wire struct {
		Temperature *float64 `json:"temperature"`
		Humidity    *float64 `json:"humidity"`
		Valid       *bool    `json:"valid"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Reading{Valid: true}
	if wire.Temperature != nil {
		r.Temperature = *wire.Temperature
	}
	if wire.Humidity != nil {
		r.Humidity = *wire.Humidity
	}
	if wire.Valid != nil {
		r.Valid = *wire.Valid
	}
	return nil
}

// InRange checks the values against the relaxed DHT11 bounds
// (temp -20 to 60°C, humidity 0-100%).
func (r Reading) InRange() bool {
	const (
		minTemp     = -20.0
		maxTemp     = 60.0
		minHumidity = 0.0
		maxHumidity = 100.0
	)
	if r.Temperature < minTemp || r.Temperature > maxTemp {
		return false
	}
	if r.Humidity < minHumidity || r.Humidity > maxHumidity {
		return false
	}
	return true
}

func (r Reading) String() string {
	return fmt.Sprintf("Temperature: %.1f°C, Humidity: %.1f%%, Valid: %t",
		r.Temperature,
		r.Humidity,
		r.Valid)
}

// NewReading creates a valid Reading
func NewReading(temperature, humidity float64) Reading {
	return Reading{
		Temperature: temperature,
		Humidity:    humidity,
		Valid:       true,
	}
}
