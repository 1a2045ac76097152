package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envdash/internal/models"
)

// Stats counts reads since the reader started
type Stats struct {
	Reads      int64     `json:"reads"`
	Errors     int64     `json:"errors"`
	LastReadAt time.Time `json:"last_read_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Reader samples the sensor periodically and keeps the latest reading for
// the /api endpoint. A failed read keeps the last values but marks them
// invalid, as the firmware does.
type Reader struct {
	sensor   DHTSensor
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.RWMutex
	latest models.Reading
	stats  Stats
}

// NewReader creates a new sensor reader
func NewReader(sensor DHTSensor, interval time.Duration, logger zerolog.Logger) *Reader {
	return &Reader{
		sensor:   sensor,
		interval: interval,
		logger:   logger,
	}
}

// Start reads once immediately, then every interval until ctx is cancelled
func (r *Reader) Start(ctx context.Context) error {
	r.ReadOnce()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.ReadOnce()
		}
	}
}

// ReadOnce performs a single reading and updates the cached value
func (r *Reader) ReadOnce() (models.Reading, error) {
	temperature, humidity, err := r.sensor.Read()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.LastReadAt = time.Now()
	if err != nil {
		r.stats.Errors++
		r.stats.LastError = err.Error()
		r.latest.Valid = false
		r.logger.Warn().Err(err).Msg("failed to read from sensor")
		return r.latest, err
	}

	r.stats.Reads++
	r.stats.LastError = ""
	r.latest = models.NewReading(temperature, humidity)
	r.logger.Debug().Msgf("read from sensor: %s", r.latest.String())
	return r.latest, nil
}

// Latest returns the cached reading. Before the first successful read it is
// zero and invalid.
func (r *Reader) Latest() models.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Stats returns a copy of the read counters
func (r *Reader) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Close releases the sensor
func (r *Reader) Close() error {
	return r.sensor.Close()
}
