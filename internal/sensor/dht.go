package sensor

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/afroash/dht"
)

// DHTSensor defines the interface for reading from a DHT sensor
type DHTSensor interface {
	// Read performs a single reading from the sensor
	// Returns temperature (°C), humidity (%), and any error
	Read() (temperature float64, humidity float64, err error)

	// Close cleans up GPIO resources
	Close() error
}

// DHT11Reader implements DHTSensor for DHT11 hardware
type DHT11Reader struct {
	pin        int
	maxRetries int
	sensor     *dht.Sensor
}

// NewDHT11Reader opens the DHT11 on the given GPIO pin
func NewDHT11Reader(pin int) (*DHT11Reader, error) {
	sensor, err := dht.NewDHT11(pin)
	if err != nil {
		return nil, fmt.Errorf("failed to open DHT11 on GPIO %d: %w", pin, err)
	}
	return &DHT11Reader{
		pin:        pin,
		maxRetries: 3,
		sensor:     sensor,
	}, nil
}

// Read performs a reading from the DHT11 sensor with retry logic
func (d *DHT11Reader) Read() (float64, float64, error) {
	reading, err := d.sensor.ReadRetry(d.maxRetries)
	if err != nil {
		return 0, 0, fmt.Errorf("after %d retries, failed to read from sensor: %w", d.maxRetries, err)
	}
	if err := validateReading(reading.Temperature, reading.Humidity); err != nil {
		return 0, 0, fmt.Errorf("invalid reading: %w", err)
	}

	return reading.Temperature, reading.Humidity, nil
}

// Close cleans up GPIO resources
func (d *DHT11Reader) Close() error {
	return d.sensor.Close()
}

// validateReading checks if temperature and humidity values are reasonable
func validateReading(temp, humidity float64) error {
	const (
		minTemp     = -20.0
		maxTemp     = 60.0
		minHumidity = 0.0
		maxHumidity = 100.0
	)
	if temp < minTemp || temp > maxTemp {
		return fmt.Errorf("temperature %.1f°C outside %.0f..%.0f°C", temp, minTemp, maxTemp)
	}
	if humidity < minHumidity || humidity > maxHumidity {
		return fmt.Errorf("humidity %.1f%% outside %.0f..%.0f%%", humidity, minHumidity, maxHumidity)
	}
	return nil
}

// SimulatedSensor produces a slow random walk around a base point, for
// running the agent on machines without a DHT11 attached.
type SimulatedSensor struct {
	mu          sync.Mutex
	rng         *rand.Rand
	temperature float64
	humidity    float64
}

// NewSimulatedSensor starts the walk at the given values
func NewSimulatedSensor(temperature, humidity float64, seed int64) *SimulatedSensor {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedSensor{
		rng:         rand.New(rand.NewSource(seed)),
		temperature: temperature,
		humidity:    humidity,
	}
}

// Read steps the walk and returns the new values, rounded like a DHT11 (0.1)
func (s *SimulatedSensor) Read() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.temperature = clamp(s.temperature+s.rng.Float64()-0.5, 5, 40)
	s.humidity = clamp(s.humidity+2*s.rng.Float64()-1, 10, 95)
	return round1(s.temperature), round1(s.humidity), nil
}

// Close is a no-op
func (s *SimulatedSensor) Close() error {
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
