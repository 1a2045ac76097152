package dashboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/afroash/envdash/internal/models"
	"github.com/afroash/envdash/internal/panel"
	"github.com/afroash/envdash/internal/poller"
	"github.com/afroash/envdash/internal/prefs"
)

// ErrUnknownAction is returned for commands the dashboard does not handle
var ErrUnknownAction = errors.New("unknown action")

// Executor runs fn on the event loop and waits for it.
// eventloop.Loop satisfies it.
type Executor interface {
	Call(ctx context.Context, fn func() error) error
}

// App is the dashboard: the poll machine and the device panel running on
// one loop, rendering into a shared Board. It is the entry point for every
// user action coming from HTTP or WebSocket clients.
type App struct {
	exec    Executor
	machine *poller.Machine
	panel   *panel.Panel
	prefs   *prefs.Preferences
	board   *Board
	logger  zerolog.Logger
}

// NewApp ties the components together. The machine and panel must have been
// created with board as their view.
func NewApp(exec Executor, machine *poller.Machine, p *panel.Panel, preferences *prefs.Preferences, board *Board, logger zerolog.Logger) *App {
	return &App{
		exec:    exec,
		machine: machine,
		panel:   p,
		prefs:   preferences,
		board:   board,
		logger:  logger,
	}
}

// Start begins sensor polling and the on-load device sweep
func (a *App) Start(ctx context.Context) error {
	return a.exec.Call(ctx, func() error {
		a.machine.Start()
		a.panel.CheckAllOnLoad()
		return nil
	})
}

// Stop cancels every pending timer
func (a *App) Stop(ctx context.Context) error {
	return a.exec.Call(ctx, func() error {
		a.machine.Stop()
		a.panel.Stop()
		return nil
	})
}

// Snapshot returns the current view state
func (a *App) Snapshot() Snapshot {
	return a.board.Snapshot()
}

// Subscribe streams view state changes, see Board.Subscribe
func (a *App) Subscribe() (<-chan Snapshot, func()) {
	return a.board.Subscribe()
}

// PollerStatus reads the machine's status on the loop
func (a *App) PollerStatus(ctx context.Context) (poller.Status, error) {
	var st poller.Status
	err := a.exec.Call(ctx, func() error {
		st = a.machine.Status()
		return nil
	})
	return st, err
}

// RefreshSensor fetches a reading now. Ignored while a fetch is in flight.
func (a *App) RefreshSensor(ctx context.Context) error {
	return a.exec.Call(ctx, func() error {
		a.machine.PollNow()
		return nil
	})
}

// CheckDevice probes one device
func (a *App) CheckDevice(ctx context.Context, id string) error {
	return a.exec.Call(ctx, func() error {
		return a.panel.CheckStatus(id)
	})
}

// CheckAllDevices starts a sequential sweep
func (a *App) CheckAllDevices(ctx context.Context) error {
	return a.exec.Call(ctx, func() error {
		a.panel.CheckAllOnLoad()
		return nil
	})
}

// WakeDevice sends a Wake-on-LAN request
func (a *App) WakeDevice(ctx context.Context, id string) error {
	return a.exec.Call(ctx, func() error {
		return a.panel.Wake(id)
	})
}

// Theme returns the current theme
func (a *App) Theme() prefs.Theme {
	return a.prefs.Theme()
}

// SetTheme applies a theme on the loop, so theme changes reach prefs and the
// board in the same order. A failed write is logged, not returned: the choice
// still applies for this run.
func (a *App) SetTheme(ctx context.Context, theme prefs.Theme) error {
	return a.exec.Call(ctx, func() error {
		err := a.prefs.Set(theme)
		if errors.Is(err, prefs.ErrInvalidTheme) {
			return err
		}
		if err != nil {
			a.logger.Warn().Err(err).Msg("Theme not persisted")
		}
		a.board.SetTheme(a.prefs.Theme())
		return nil
	})
}

// ToggleTheme flips the theme on the loop and returns the new one
func (a *App) ToggleTheme(ctx context.Context) (prefs.Theme, error) {
	var theme prefs.Theme
	err := a.exec.Call(ctx, func() error {
		var perr error
		theme, perr = a.prefs.Toggle()
		if perr != nil {
			a.logger.Warn().Err(perr).Msg("Theme not persisted")
		}
		a.board.SetTheme(theme)
		return nil
	})
	return theme, err
}

// Dispatch executes a command received from a client
func (a *App) Dispatch(ctx context.Context, cmd models.CommandMessage) error {
	switch cmd.Action {
	case models.ActionRefresh:
		return a.RefreshSensor(ctx)
	case models.ActionCheck:
		return a.CheckDevice(ctx, cmd.DeviceID)
	case models.ActionCheckAll:
		return a.CheckAllDevices(ctx)
	case models.ActionWake:
		return a.WakeDevice(ctx, cmd.DeviceID)
	case models.ActionToggleTheme:
		_, err := a.ToggleTheme(ctx)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
}
