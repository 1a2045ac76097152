package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/envdash/internal/models"
)

// ErrNotFound is returned when a settings key has never been written
var ErrNotFound = errors.New("not found")

const timeFormat = "2006-01-02 15:04:05"

// Store defines the persistence used by the dashboard
type Store interface {
	Close() error
	Migrate() error
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	InsertEvent(event models.DeviceEvent) error
	InsertBatch(events []models.DeviceEvent) error
	GetDeviceEvents(deviceID string, limit int) ([]models.DeviceEvent, error)
	DeleteOlderThan(days int) (int64, error)
	GetStorageStats() (*StorageStats, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists user preferences and the device action log
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalEvents    int64     `json:"total_events"`
	OldestEvent    time.Time `json:"oldest_event,omitempty"`
	NewestEvent    time.Time `json:"newest_event,omitempty"`
	UniqueDevices  int       `json:"unique_devices"`
	Settings       int       `json:"settings"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore opens (or creates) the database and migrates the schema
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS device_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_device_events_device_time ON device_events(device_id, recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_device_events_time ON device_events(recorded_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

// GetSetting returns the stored value for key, or ErrNotFound
func (s *SQLiteStore) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting inserts or replaces the value for key
func (s *SQLiteStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}

// InsertEvent inserts a single device event
func (s *SQLiteStore) InsertEvent(event models.DeviceEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO device_events (device_id, kind, outcome, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		event.DeviceID,
		string(event.Kind),
		event.Outcome,
		event.Detail,
		event.RecordedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple events in a single transaction
func (s *SQLiteStore) InsertBatch(events []models.DeviceEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO device_events (device_id, kind, outcome, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.Exec(e.DeviceID, string(e.Kind), e.Outcome, e.Detail, e.RecordedAt.UTC().Format(timeFormat))
		if err != nil {
			return fmt.Errorf("failed to insert event in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(events)).Msg("Batch insert completed")
	return nil
}

// GetDeviceEvents returns the most recent events for a device, newest first.
// An empty deviceID returns events for all devices.
func (s *SQLiteStore) GetDeviceEvents(deviceID string, limit int) ([]models.DeviceEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if deviceID == "" {
		rows, err = s.db.Query(`
			SELECT device_id, kind, outcome, detail, recorded_at
			FROM device_events
			ORDER BY recorded_at DESC, id DESC
			LIMIT ?
		`, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT device_id, kind, outcome, detail, recorded_at
			FROM device_events
			WHERE device_id = ?
			ORDER BY recorded_at DESC, id DESC
			LIMIT ?
		`, deviceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []models.DeviceEvent{}
	for rows.Next() {
		var e models.DeviceEvent
		var kind, recordedAt string
		if err := rows.Scan(&e.DeviceID, &kind, &e.Outcome, &e.Detail, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = models.EventKind(kind)
		e.RecordedAt, err = parseTimestamp(recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

// DeleteOlderThan removes device events older than the given number of days.
// Settings are never expired.
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := s.db.Exec(
		"DELETE FROM device_events WHERE recorded_at < ?",
		cutoff.Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old device events")

	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM settings").Scan(&stats.Settings); err != nil {
		return nil, fmt.Errorf("failed to count settings: %w", err)
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM device_events").Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	if stats.TotalEvents > 0 {
		var oldestStr, newestStr string
		err := s.db.QueryRow("SELECT MIN(recorded_at), MAX(recorded_at) FROM device_events").
			Scan(&oldestStr, &newestStr)
		if err != nil {
			return nil, fmt.Errorf("failed to get timestamp range: %w", err)
		}
		stats.OldestEvent, _ = parseTimestamp(oldestStr)
		stats.NewestEvent, _ = parseTimestamp(newestStr)

		err = s.db.QueryRow("SELECT COUNT(DISTINCT device_id) FROM device_events").Scan(&stats.UniqueDevices)
		if err != nil {
			return nil, fmt.Errorf("failed to count devices: %w", err)
		}
	}

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// parseTimestamp tries the formats the sqlite3 driver may hand back
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timeFormat,
		"2006-01-02T15:04:05Z07:00",
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
