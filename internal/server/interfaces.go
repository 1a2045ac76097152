package server

import (
	"context"

	"github.com/afroash/envdash/internal/dashboard"
	"github.com/afroash/envdash/internal/models"
	"github.com/afroash/envdash/internal/prefs"
)

// Dashboard is the view state and the user actions behind the HTTP surface.
// dashboard.App implements it.
type Dashboard interface {
	Snapshot() dashboard.Snapshot
	Subscribe() (<-chan dashboard.Snapshot, func())
	Dispatch(ctx context.Context, cmd models.CommandMessage) error
	Theme() prefs.Theme
	SetTheme(ctx context.Context, theme prefs.Theme) error
	ToggleTheme(ctx context.Context) (prefs.Theme, error)
}

// EventLog is the persisted device action history.
// storage.SQLiteStore implements it.
type EventLog interface {
	GetDeviceEvents(deviceID string, limit int) ([]models.DeviceEvent, error)
}

var _ Dashboard = (*dashboard.App)(nil)
