package storage

import (
	"sync"
	"time"

	"github.com/afroash/envdash/internal/models"
	"github.com/rs/zerolog"
)

// EventSink is the batch insert the writer flushes into
type EventSink interface {
	InsertBatch(events []models.DeviceEvent) error
}

// DBWriter records device events off the event loop: Record never blocks,
// and events are written in batches.
type DBWriter struct {
	store       EventSink
	logger      zerolog.Logger
	writeChan   chan models.DeviceEvent
	batchSize   int
	flushPeriod time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// Stats
	mu            sync.RWMutex
	totalWritten  int64
	totalBatches  int64
	totalErrors   int64
	totalDropped  int64
	lastWriteTime time.Time
}

// DBWriterConfig holds configuration for the async writer
type DBWriterConfig struct {
	BatchSize   int           // events per insert (default: 50)
	FlushPeriod time.Duration // max time between flushes (default: 5s)
	ChannelSize int           // queue size (default: 256)
}

// DefaultDBWriterConfig returns sensible defaults
func DefaultDBWriterConfig() DBWriterConfig {
	return DBWriterConfig{
		BatchSize:   50,
		FlushPeriod: 5 * time.Second,
		ChannelSize: 256,
	}
}

// DBWriterStats contains statistics about the writer
type DBWriterStats struct {
	TotalWritten  int64     `json:"total_written"`
	TotalBatches  int64     `json:"total_batches"`
	TotalErrors   int64     `json:"total_errors"`
	TotalDropped  int64     `json:"total_dropped"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
	QueueLength   int       `json:"queue_length"`
}

// NewDBWriter creates a new async database writer
func NewDBWriter(store EventSink, config DBWriterConfig, logger zerolog.Logger) *DBWriter {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.FlushPeriod <= 0 {
		config.FlushPeriod = 5 * time.Second
	}
	w := &DBWriter{
		store:       store,
		logger:      logger,
		writeChan:   make(chan models.DeviceEvent, config.ChannelSize),
		batchSize:   config.BatchSize,
		flushPeriod: config.FlushPeriod,
		stopChan:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writerLoop()

	logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("channel_size", config.ChannelSize).
		Msg("DBWriter started")

	return w
}

// Write queues an event. Returns false if the queue is full and the event
// was dropped.
func (w *DBWriter) Write(event models.DeviceEvent) bool {
	select {
	case w.writeChan <- event:
		return true
	default:
		w.mu.Lock()
		w.totalDropped++
		w.mu.Unlock()
		w.logger.Warn().Str("device", event.DeviceID).Msg("DBWriter channel full, dropping event")
		return false
	}
}

// Record queues an event, discarding the queued flag
func (w *DBWriter) Record(event models.DeviceEvent) {
	w.Write(event)
}

// writerLoop batches queued events and writes them
func (w *DBWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]models.DeviceEvent, 0, w.batchSize)
	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-w.writeChan:
			batch = append(batch, event)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = make([]models.DeviceEvent, 0, w.batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = make([]models.DeviceEvent, 0, w.batchSize)
			}

		case <-w.stopChan:
			draining := true
			for draining {
				select {
				case event := <-w.writeChan:
					batch = append(batch, event)
				default:
					draining = false
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			w.logger.Info().Msg("DBWriter stopped")
			return
		}
	}
}

// flush writes a batch to the database
func (w *DBWriter) flush(batch []models.DeviceEvent) {
	if len(batch) == 0 {
		return
	}

	err := w.store.InsertBatch(batch)

	w.mu.Lock()
	if err != nil {
		w.totalErrors++
		w.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write batch")
	} else {
		w.totalWritten += int64(len(batch))
		w.totalBatches++
		w.lastWriteTime = time.Now()
		w.logger.Debug().Int("count", len(batch)).Msg("Flushed batch")
	}
	w.mu.Unlock()
}

// Stop flushes queued events and stops the writer
func (w *DBWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Stats returns current writer statistics
func (w *DBWriter) Stats() DBWriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return DBWriterStats{
		TotalWritten:  w.totalWritten,
		TotalBatches:  w.totalBatches,
		TotalErrors:   w.totalErrors,
		TotalDropped:  w.totalDropped,
		LastWriteTime: w.lastWriteTime,
		QueueLength:   len(w.writeChan),
	}
}
