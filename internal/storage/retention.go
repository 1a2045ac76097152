package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pruner deletes rows older than a number of days
type Pruner interface {
	DeleteOlderThan(days int) (int64, error)
}

// RetentionCleanerConfig holds configuration for the cleaner
type RetentionCleanerConfig struct {
	RetentionDays int           // days of device events to keep; 0 keeps everything
	CleanupPeriod time.Duration // how often to prune (default: 6h)
}

// DefaultRetentionCleanerConfig returns the dashboard defaults
func DefaultRetentionCleanerConfig() RetentionCleanerConfig {
	return RetentionCleanerConfig{
		RetentionDays: 14,
		CleanupPeriod: 6 * time.Hour,
	}
}

// RetentionCleanerStats reports what the cleaner has done so far
type RetentionCleanerStats struct {
	Runs          int64     `json:"runs"`
	TotalDeleted  int64     `json:"total_deleted"`
	LastRun       time.Time `json:"last_run,omitempty"`
	LastDeleted   int64     `json:"last_deleted"`
	LastError     string    `json:"last_error,omitempty"`
	RetentionDays int       `json:"retention_days"`
}

// RetentionCleaner trims the device event log in the background. It prunes
// once on start, then every CleanupPeriod until Stop.
type RetentionCleaner struct {
	store  Pruner
	logger zerolog.Logger
	days   int
	period time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	// serializes prune runs between the loop and RunNow
	runMu sync.Mutex

	mu    sync.RWMutex
	stats RetentionCleanerStats
}

// NewRetentionCleaner creates the cleaner and starts its goroutine
func NewRetentionCleaner(store Pruner, config RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	period := config.CleanupPeriod
	if period <= 0 {
		period = DefaultRetentionCleanerConfig().CleanupPeriod
		logger.Warn().
			Dur("provided", config.CleanupPeriod).
			Dur("using", period).
			Msg("Invalid cleanup period, using default")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &RetentionCleaner{
		store:  store,
		logger: logger,
		days:   config.RetentionDays,
		period: period,
		cancel: cancel,
		done:   make(chan struct{}),
		stats:  RetentionCleanerStats{RetentionDays: config.RetentionDays},
	}

	go c.loop(ctx)

	if c.days <= 0 {
		logger.Info().Msg("Device event retention disabled, keeping all events")
	} else {
		logger.Info().
			Int("retention_days", c.days).
			Dur("cleanup_period", period).
			Msg("Retention cleaner started")
	}
	return c
}

func (c *RetentionCleaner) loop(ctx context.Context) {
	defer close(c.done)
	if c.days <= 0 {
		<-ctx.Done()
		return
	}

	c.RunNow()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunNow()
		}
	}
}

// RunNow prunes immediately and returns the number of events deleted. With
// retention disabled it does nothing.
func (c *RetentionCleaner) RunNow() (int64, error) {
	if c.days <= 0 {
		return 0, nil
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	deleted, err := c.store.DeleteOlderThan(c.days)

	c.mu.Lock()
	c.stats.Runs++
	c.stats.LastRun = time.Now()
	if err != nil {
		c.stats.LastError = err.Error()
	} else {
		c.stats.LastError = ""
		c.stats.LastDeleted = deleted
		c.stats.TotalDeleted += deleted
	}
	c.mu.Unlock()

	switch {
	case err != nil:
		c.logger.Error().Err(err).Msg("Retention cleanup failed")
	case deleted > 0:
		c.logger.Info().Int64("deleted", deleted).Int("retention_days", c.days).Msg("Pruned device events")
	default:
		c.logger.Debug().Msg("Nothing to prune")
	}
	return deleted, err
}

// Stop ends the background loop and waits for a running prune to finish.
// It is safe to call more than once.
func (c *RetentionCleaner) Stop() {
	c.cancel()
	<-c.done
}

// Stats returns a copy of the counters
func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
