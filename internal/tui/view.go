package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/afroash/envdash/internal/client"
	"github.com/afroash/envdash/internal/gauge"
	"github.com/afroash/envdash/internal/panel"
	"github.com/afroash/envdash/internal/poller"
	"github.com/afroash/envdash/internal/prefs"
)

// ── Color palette ────────────────────────────────────────────────────

type palette struct {
	titleBg  lipgloss.Color
	titleFg  lipgloss.Color
	border   lipgloss.Color
	label    lipgloss.Color
	dim      lipgloss.Color
	footerBg lipgloss.Color
	track    lipgloss.Color
}

var (
	darkPalette = palette{
		titleBg:  lipgloss.Color("17"),
		titleFg:  lipgloss.Color("51"),
		border:   lipgloss.Color("62"),
		label:    lipgloss.Color("252"),
		dim:      lipgloss.Color("240"),
		footerBg: lipgloss.Color("235"),
		track:    lipgloss.Color("237"),
	}
	lightPalette = palette{
		titleBg:  lipgloss.Color("153"),
		titleFg:  lipgloss.Color("18"),
		border:   lipgloss.Color("67"),
		label:    lipgloss.Color("235"),
		dim:      lipgloss.Color("245"),
		footerBg: lipgloss.Color("254"),
		track:    lipgloss.Color("252"),
	}

	colorOk   = lipgloss.Color("78")
	colorWarn = lipgloss.Color("220")
	colorHigh = lipgloss.Color("208")
	colorCrit = lipgloss.Color("196")
	colorInfo = lipgloss.Color("75")
)

var gaugeColors = map[gauge.Color]lipgloss.Color{
	gauge.Blue:   colorInfo,
	gauge.Green:  colorOk,
	gauge.Yellow: colorWarn,
	gauge.Orange: colorHigh,
	gauge.Red:    colorCrit,
}

var toneColors = map[poller.Tone]lipgloss.Color{
	poller.ToneOK:       colorOk,
	poller.ToneDegraded: colorWarn,
	poller.ToneWarning:  colorHigh,
	poller.ToneError:    colorCrit,
}

func (m Model) palette() palette {
	if m.snapshot.Theme == prefs.ThemeLight {
		return lightPalette
	}
	return darkPalette
}

// ── View ─────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return "  Initializing..."
	}

	contentWidth := m.width - 2
	if contentWidth < 40 {
		contentWidth = 40
	}
	p := m.palette()

	sections := []string{m.renderTitleBar(contentWidth, p)}

	if !m.hasSnap {
		waiting := lipgloss.NewStyle().
			Foreground(p.dim).
			Width(contentWidth).
			Align(lipgloss.Center).
			Padding(2, 0).
			Render("Waiting for dashboard...")
		sections = append(sections, waiting)
	} else {
		sections = append(sections,
			m.renderSensorPanel(contentWidth, p),
			m.renderDevicePanel(contentWidth, p),
		)
	}
	sections = append(sections, m.renderActivity(contentWidth, p), m.renderFooter(contentWidth, p))

	content := lipgloss.JoinVertical(lipgloss.Left, sections...)
	if m.height > 0 {
		lines := strings.Split(content, "\n")
		if len(lines) > m.height {
			content = strings.Join(lines[:m.height], "\n")
		}
	}
	return content
}

func (m Model) renderTitleBar(width int, p palette) string {
	logo := lipgloss.NewStyle().
		Bold(true).
		Foreground(p.titleFg).
		Render("ENVDASH")

	stateColor := colorCrit
	switch m.connState {
	case client.StateConnected:
		stateColor = colorOk
	case client.StateConnecting:
		stateColor = colorWarn
	}
	dimS := lipgloss.NewStyle().Foreground(p.dim)
	parts := []string{
		lipgloss.NewStyle().Foreground(stateColor).Render(m.connState.String()),
		dimS.Render(m.url),
	}
	if m.hasSnap {
		parts = append(parts, dimS.Render(string(m.snapshot.Theme)))
	}
	parts = append(parts, dimS.Render(m.now.Format("15:04:05")))

	right := strings.Join(parts, dimS.Render(" │ "))
	gap := width - lipgloss.Width(logo) - lipgloss.Width(right) - 4
	if gap < 1 {
		gap = 1
	}

	return lipgloss.NewStyle().
		Background(p.titleBg).
		Width(width).
		Padding(0, 1).
		Render(logo + strings.Repeat(" ", gap) + right)
}

func (m Model) renderSensorPanel(width int, p palette) string {
	barWidth := width - 40
	if barWidth < 10 {
		barWidth = 10
	}
	if barWidth > 60 {
		barWidth = 60
	}

	rows := []string{
		renderGauge("Temperature", m.snapshot.Temperature, barWidth, p),
		renderGauge("Humidity", m.snapshot.Humidity, barWidth, p),
	}

	status := m.snapshot.Status
	statusS := lipgloss.NewStyle().Bold(true).Foreground(p.dim)
	if c, ok := toneColors[status.Tone]; ok {
		statusS = statusS.Foreground(c)
	}
	line := statusS.Render(status.Text)
	if status.Failures > 0 && status.State == poller.StateFailing {
		line += lipgloss.NewStyle().Foreground(p.dim).Render(fmt.Sprintf("  (%d failed)", status.Failures))
	}
	rows = append(rows, "", line)

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(p.border).
		Padding(0, 1).
		Width(width).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// renderGauge draws a gauge ring as a horizontal bar
func renderGauge(name string, g gauge.Gauge, barWidth int, p palette) string {
	label := lipgloss.NewStyle().Foreground(p.label).Width(12).Render(name)

	filled := int(g.Fill*float64(barWidth) + 0.5)
	if filled > barWidth {
		filled = barWidth
	}
	color, ok := gaugeColors[g.Color]
	if !ok || g.Bucket < 0 {
		color = p.dim
	}
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(p.track).Render(strings.Repeat("░", barWidth-filled))

	text := "--"
	if g.Bucket >= 0 {
		text = g.Text
	}
	return label + " " + bar + " " + lipgloss.NewStyle().Foreground(color).Render(text)
}

func (m Model) renderDevicePanel(width int, p palette) string {
	dimS := lipgloss.NewStyle().Foreground(p.dim)
	rows := []string{lipgloss.NewStyle().Bold(true).Foreground(p.label).Render("Devices")}

	if len(m.snapshot.Devices) == 0 {
		rows = append(rows, dimS.Render("no devices configured"))
	}
	for i, row := range m.snapshot.Devices {
		marker := "  "
		if i == m.cursor {
			marker = lipgloss.NewStyle().Foreground(p.titleFg).Render("> ")
		}
		name := lipgloss.NewStyle().Foreground(p.label).Width(14).Render(truncate(row.Name, 14))
		addr := row.IP
		if row.Port > 0 {
			addr = fmt.Sprintf("%s:%d", row.IP, row.Port)
		}
		addrS := dimS.Width(22).Render(addr)
		status := lipgloss.NewStyle().Width(12).Foreground(deviceColor(row.Status, p)).Render(string(row.Status))

		button := "[" + row.Button.Label + "]"
		buttonS := lipgloss.NewStyle().Foreground(colorOk)
		switch {
		case row.Button.Label == panel.ButtonFailed:
			buttonS = buttonS.Foreground(colorCrit)
		case !row.Button.Enabled:
			buttonS = buttonS.Foreground(p.dim)
		}
		rows = append(rows, marker+name+addrS+status+buttonS.Render(button))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(p.border).
		Padding(0, 1).
		Width(width).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func deviceColor(s panel.DeviceStatus, p palette) lipgloss.Color {
	switch s {
	case panel.StatusOnline:
		return colorOk
	case panel.StatusOffline:
		return colorCrit
	default:
		return p.dim
	}
}

func (m Model) renderActivity(width int, p palette) string {
	entries := m.activity.Tail(activityLines)
	dimS := lipgloss.NewStyle().Foreground(p.dim)

	rows := make([]string, 0, len(entries))
	for _, e := range entries {
		var c lipgloss.Color
		switch e.Level {
		case client.LevelSuccess:
			c = colorOk
		case client.LevelWarn:
			c = colorWarn
		case client.LevelError:
			c = colorCrit
		default:
			c = p.label
		}
		rows = append(rows, dimS.Render(e.At.Format("15:04:05"))+" "+lipgloss.NewStyle().Foreground(c).Render(e.Text))
	}
	if len(rows) == 0 {
		rows = append(rows, dimS.Render("no activity yet"))
	}
	return lipgloss.NewStyle().
		Padding(0, 1).
		Width(width).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderFooter(width int, p palette) string {
	keyS := lipgloss.NewStyle().Foreground(p.dim)
	labelS := lipgloss.NewStyle().Foreground(p.label)

	var b strings.Builder
	for i, k := range []struct{ key, label string }{
		{"q", "quit"}, {"j/k", "select"}, {"c", "check"}, {"s", "check all"},
		{"w", "wake"}, {"r", "refresh"}, {"t", "theme"},
	} {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(keyS.Render(k.key) + labelS.Render(":"+k.label))
	}

	return lipgloss.NewStyle().
		Background(p.footerBg).
		Width(width).
		Padding(0, 1).
		Render(b.String())
}

func truncate(s string, w int) string {
	if len(s) <= w {
		return s
	}
	if w <= 3 {
		return s[:w]
	}
	return s[:w-1] + "…"
}
