package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envdash/internal/models"
)

// setupTestDB creates a store in a per-test temp directory
func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func testEvent(deviceID string, kind models.EventKind, outcome string, at time.Time) models.DeviceEvent {
	return models.DeviceEvent{
		DeviceID:   deviceID,
		Kind:       kind,
		Outcome:    outcome,
		RecordedAt: at,
	}
}

func TestNewSQLiteStore_InvalidPath(t *testing.T) {
	_, err := NewSQLiteStore("/nonexistent/path/that/cannot/exist/test.db", zerolog.Nop())
	if err == nil {
		t.Fatal("Expected error for invalid path")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestDB(t)

	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	for _, table := range []string{"settings", "device_events"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestSettings_NotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetSetting("theme")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSetting() error = %v, want ErrNotFound", err)
	}
}

func TestSettings_SetAndOverwrite(t *testing.T) {
	store := setupTestDB(t)

	if err := store.SetSetting("theme", "dark"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if err := store.SetSetting("theme", "light"); err != nil {
		t.Fatalf("SetSetting() overwrite error = %v", err)
	}

	got, err := store.GetSetting("theme")
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if got != "light" {
		t.Errorf("GetSetting() = %q, want light", got)
	}
}

func TestSettings_SurviveReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "prefs.db")

	first, err := NewSQLiteStore(dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.SetSetting("theme", "light"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	first.Close()

	second, err := NewSQLiteStore(dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	got, err := second.GetSetting("theme")
	if err != nil || got != "light" {
		t.Errorf("GetSetting() = %q, %v; want light", got, err)
	}
}

func TestInsertEvent_AndQuery(t *testing.T) {
	store := setupTestDB(t)
	base := time.Now().UTC().Truncate(time.Second)

	events := []models.DeviceEvent{
		testEvent("home", models.EventProbe, "Online", base.Add(-2*time.Minute)),
		testEvent("home2", models.EventProbe, "Unknown", base.Add(-time.Minute)),
		{DeviceID: "home", Kind: models.EventWake, Outcome: "sent", Detail: "magic packet sent", RecordedAt: base},
	}
	for _, e := range events {
		if err := store.InsertEvent(e); err != nil {
			t.Fatalf("InsertEvent() error = %v", err)
		}
	}

	got, err := store.GetDeviceEvents("home", 10)
	if err != nil {
		t.Fatalf("GetDeviceEvents() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if got[0].Kind != models.EventWake || got[0].Detail != "magic packet sent" {
		t.Errorf("newest event = %+v", got[0])
	}
	if !got[0].RecordedAt.Equal(base) {
		t.Errorf("RecordedAt = %v, want %v", got[0].RecordedAt, base)
	}

	all, err := store.GetDeviceEvents("", 10)
	if err != nil {
		t.Fatalf("GetDeviceEvents(all) error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all events = %d, want 3", len(all))
	}
}

func TestGetDeviceEvents_EmptyAndLimit(t *testing.T) {
	store := setupTestDB(t)

	got, err := store.GetDeviceEvents("home", 5)
	if err != nil {
		t.Fatalf("GetDeviceEvents() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}

	now := time.Now().UTC()
	batch := make([]models.DeviceEvent, 0, 8)
	for i := 0; i < 8; i++ {
		batch = append(batch, testEvent("home", models.EventProbe, "Online", now.Add(time.Duration(i)*time.Second)))
	}
	if err := store.InsertBatch(batch); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	got, err = store.GetDeviceEvents("home", 3)
	if err != nil {
		t.Fatalf("GetDeviceEvents() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("limited events = %d, want 3", len(got))
	}
}

func TestInsertBatch_Empty(t *testing.T) {
	store := setupTestDB(t)

	if err := store.InsertBatch(nil); err != nil {
		t.Errorf("InsertBatch(nil) error = %v", err)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	store := setupTestDB(t)
	now := time.Now().UTC()

	store.InsertEvent(testEvent("home", models.EventProbe, "Online", now.AddDate(0, 0, -20)))
	store.InsertEvent(testEvent("home", models.EventProbe, "Offline", now.AddDate(0, 0, -10)))
	store.InsertEvent(testEvent("home", models.EventProbe, "Online", now))
	store.SetSetting("theme", "dark")

	deleted, err := store.DeleteOlderThan(14)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := store.GetSetting("theme"); err != nil {
		t.Errorf("settings must not expire: %v", err)
	}
}

func TestGetStorageStats(t *testing.T) {
	store := setupTestDB(t)

	stats, err := store.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats() error = %v", err)
	}
	if stats.TotalEvents != 0 || stats.UniqueDevices != 0 {
		t.Errorf("empty stats = %+v", stats)
	}

	now := time.Now().UTC().Truncate(time.Second)
	store.InsertEvent(testEvent("home", models.EventProbe, "Online", now.Add(-time.Hour)))
	store.InsertEvent(testEvent("home2", models.EventWake, "sent", now))
	store.SetSetting("theme", "light")

	stats, err = store.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats() error = %v", err)
	}
	if stats.TotalEvents != 2 {
		t.Errorf("TotalEvents = %d, want 2", stats.TotalEvents)
	}
	if stats.UniqueDevices != 2 {
		t.Errorf("UniqueDevices = %d, want 2", stats.UniqueDevices)
	}
	if stats.Settings != 1 {
		t.Errorf("Settings = %d, want 1", stats.Settings)
	}
	if !stats.NewestEvent.Equal(now) {
		t.Errorf("NewestEvent = %v, want %v", stats.NewestEvent, now)
	}
	if stats.DatabaseSizeMB <= 0 {
		t.Errorf("DatabaseSizeMB = %v, want > 0", stats.DatabaseSizeMB)
	}
}
