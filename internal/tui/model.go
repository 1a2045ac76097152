// Package tui is a terminal front end for the dashboard: gauges, the sensor
// status line and the device panel, driven over the dashboard WebSocket.
package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/afroash/envdash/internal/client"
	"github.com/afroash/envdash/internal/dashboard"
	"github.com/afroash/envdash/internal/models"
	"github.com/afroash/envdash/internal/panel"
	"github.com/afroash/envdash/internal/poller"
)

const activityLines = 6

// Sender delivers commands to the dashboard. client.Connection implements it.
type Sender interface {
	Send(cmd models.CommandMessage) error
}

// ── Messages ─────────────────────────────────────────────────────────

// EventMsg carries a connection event into the program
type EventMsg client.Event

type tickMsg time.Time

type sentMsg struct {
	cmd models.CommandMessage
	err error
}

// ── Model ────────────────────────────────────────────────────────────

// Model is the BubbleTea model for the dashboard client.
type Model struct {
	sender   Sender
	url      string
	activity *client.ActivityLog

	snapshot  dashboard.Snapshot
	hasSnap   bool
	connState client.ConnectionState
	cursor    int
	width     int
	height    int
	now       time.Time
}

// New creates the model. url is only displayed.
func New(sender Sender, url string) Model {
	return Model{
		sender:   sender,
		url:      url,
		activity: client.NewActivityLog(100, true),
		now:      time.Now(),
	}
}

// Forward returns a connection handler that feeds events into p
func Forward(p *tea.Program) func(client.Event) {
	return func(ev client.Event) {
		p.Send(EventMsg(ev))
	}
}

// ── Commands ─────────────────────────────────────────────────────────

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) send(cmd models.CommandMessage) tea.Cmd {
	sender := m.sender
	return func() tea.Msg {
		return sentMsg{cmd: cmd, err: sender.Send(cmd)}
	}
}

// ── Init / Update ────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()

	case EventMsg:
		m.handleEvent(client.Event(msg))

	case sentMsg:
		if msg.err != nil {
			m.activity.Add(client.LevelError, "%s: %v", describe(msg.cmd), msg.err)
		}
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.snapshot.Devices)-1 {
			m.cursor++
		}
	case "r":
		return m, m.send(models.CommandMessage{Action: models.ActionRefresh})
	case "s":
		return m, m.send(models.CommandMessage{Action: models.ActionCheckAll})
	case "t":
		return m, m.send(models.CommandMessage{Action: models.ActionToggleTheme})
	case "c", "enter":
		if row, ok := m.selected(); ok {
			return m, m.send(models.CommandMessage{Action: models.ActionCheck, DeviceID: row.ID})
		}
	case "w":
		if row, ok := m.selected(); ok {
			if !row.Button.Enabled {
				m.activity.Add(client.LevelWarn, "%s: wake already in progress", row.Name)
				return m, nil
			}
			return m, m.send(models.CommandMessage{Action: models.ActionWake, DeviceID: row.ID})
		}
	}
	return m, nil
}

func (m *Model) handleEvent(ev client.Event) {
	switch ev.Type {
	case client.EventState:
		m.connState = ev.State
		switch ev.State {
		case client.StateConnected:
			m.activity.Add(client.LevelSuccess, "connected to %s", m.url)
		case client.StateDisconnected:
			m.activity.Add(client.LevelWarn, "disconnected from dashboard")
		}

	case client.EventSnapshot:
		if m.hasSnap {
			m.logChanges(m.snapshot, ev.Snapshot)
		}
		m.snapshot = ev.Snapshot
		m.hasSnap = true
		if m.cursor >= len(m.snapshot.Devices) {
			m.cursor = max(0, len(m.snapshot.Devices)-1)
		}

	case client.EventAck:
		m.activity.Add(client.LevelInfo, "%s accepted", ev.Ack.Action)

	case client.EventError:
		m.activity.Add(client.LevelError, "%s: %s", ev.Error.Code, ev.Error.Message)
	}
}

// logChanges notes sensor and device transitions in the activity log
func (m *Model) logChanges(prev, next dashboard.Snapshot) {
	if prev.Status.Text != next.Status.Text && next.Status.State != poller.StateReconnecting {
		m.activity.Add(toneLevel(next.Status.Tone), "sensor: %s", next.Status.Text)
	}
	if prev.Status.State != poller.StateReconnecting && next.Status.State == poller.StateReconnecting {
		m.activity.Add(client.LevelError, "sensor: lost, reconnecting")
	}

	before := make(map[string]dashboard.DeviceRow, len(prev.Devices))
	for _, row := range prev.Devices {
		before[row.ID] = row
	}
	for _, row := range next.Devices {
		old, ok := before[row.ID]
		if !ok {
			continue
		}
		if old.Status != row.Status && row.Status != panel.StatusChecking {
			m.activity.Add(statusLevel(row.Status), "%s: %s", row.Name, row.Status)
		}
		if old.Button.Label != row.Button.Label {
			switch row.Button.Label {
			case panel.ButtonSent:
				m.activity.Add(client.LevelSuccess, "%s: wake packet sent", row.Name)
			case panel.ButtonFailed:
				m.activity.Add(client.LevelError, "%s: wake failed", row.Name)
			}
		}
	}
}

func (m Model) selected() (dashboard.DeviceRow, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snapshot.Devices) {
		return dashboard.DeviceRow{}, false
	}
	return m.snapshot.Devices[m.cursor], true
}

func describe(cmd models.CommandMessage) string {
	if cmd.DeviceID != "" {
		return fmt.Sprintf("%s %s", cmd.Action, cmd.DeviceID)
	}
	return cmd.Action
}

func toneLevel(t poller.Tone) client.Level {
	switch t {
	case poller.ToneOK:
		return client.LevelSuccess
	case poller.ToneDegraded, poller.ToneWarning:
		return client.LevelWarn
	case poller.ToneError:
		return client.LevelError
	default:
		return client.LevelInfo
	}
}

func statusLevel(s panel.DeviceStatus) client.Level {
	switch s {
	case panel.StatusOnline:
		return client.LevelSuccess
	case panel.StatusOffline:
		return client.LevelError
	default:
		return client.LevelInfo
	}
}
