// Package dashboard holds the shared view state the poller and the device
// panel render into, and fans snapshots out to presentation surfaces.
package dashboard

import (
	"sync"
	"time"

	"github.com/afroash/envdash/internal/gauge"
	"github.com/afroash/envdash/internal/models"
	"github.com/afroash/envdash/internal/panel"
	"github.com/afroash/envdash/internal/poller"
	"github.com/afroash/envdash/internal/prefs"
)

// DeviceRow is one line of the device panel
type DeviceRow struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	MAC    string             `json:"mac"`
	IP     string             `json:"ip"`
	Port   int                `json:"port,omitempty"`
	Status panel.DeviceStatus `json:"status"`
	Button panel.Button       `json:"button"`
}

// Snapshot is a copy of the complete view state
type Snapshot struct {
	Temperature gauge.Gauge   `json:"temperature"`
	Humidity    gauge.Gauge   `json:"humidity"`
	Status      poller.Status `json:"status"`
	Devices     []DeviceRow   `json:"devices"`
	Theme       prefs.Theme   `json:"theme"`
	Version     uint64        `json:"version"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (s Snapshot) clone() Snapshot {
	s.Devices = append([]DeviceRow(nil), s.Devices...)
	return s
}

// Board implements poller.View and panel.View. Writers are the event loop;
// readers are HTTP handlers and WebSocket clients.
type Board struct {
	mu    sync.RWMutex
	state Snapshot
	index map[string]int
	now   func() time.Time

	subMu    sync.Mutex
	nextID   int
	subs     map[int]chan Snapshot
	lastSent uint64
}

var (
	_ poller.View = (*Board)(nil)
	_ panel.View  = (*Board)(nil)
)

// NewBoard creates a board showing placeholder gauges and unknown devices
func NewBoard(devices []models.Device, theme prefs.Theme) *Board {
	b := &Board{
		index: make(map[string]int, len(devices)),
		now:   time.Now,
		subs:  make(map[int]chan Snapshot),
	}
	b.state = Snapshot{
		Temperature: Placeholder(gauge.Temperature),
		Humidity:    Placeholder(gauge.Humidity),
		Status:      poller.Status{State: poller.StateIdle, Text: "Connecting...", Tone: poller.ToneNeutral},
		Theme:       theme,
		UpdatedAt:   b.now(),
	}
	for i, d := range devices {
		id := d.ID()
		b.index[id] = i
		b.state.Devices = append(b.state.Devices, DeviceRow{
			ID:     id,
			Name:   d.Name,
			MAC:    d.MAC,
			IP:     d.IP,
			Port:   d.Port,
			Status: panel.StatusUnknown,
			Button: panel.IdleButton(),
		})
	}
	return b
}

// Placeholder is an empty gauge shown before the first reading
func Placeholder(ch gauge.Channel) gauge.Gauge {
	return gauge.Gauge{Channel: ch, Bucket: -1, Text: "--"}
}

// Snapshot returns a copy of the current state
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.clone()
}

// RenderGauge replaces the gauge for its channel
func (b *Board) RenderGauge(g gauge.Gauge) {
	b.update(func(s *Snapshot) bool {
		switch g.Channel {
		case gauge.Temperature:
			s.Temperature = g
		case gauge.Humidity:
			s.Humidity = g
		default:
			return false
		}
		return true
	})
}

// SetStatus replaces the connection status line
func (b *Board) SetStatus(st poller.Status) {
	b.update(func(s *Snapshot) bool {
		if s.Status == st {
			return false
		}
		s.Status = st
		return true
	})
}

// SetDeviceStatus updates one device row's reachability label
func (b *Board) SetDeviceStatus(id string, status panel.DeviceStatus) {
	b.update(func(s *Snapshot) bool {
		i, ok := b.index[id]
		if !ok {
			return false
		}
		s.Devices[i].Status = status
		return true
	})
}

// SetWakeButton updates one device row's power-on control
func (b *Board) SetWakeButton(id string, button panel.Button) {
	b.update(func(s *Snapshot) bool {
		i, ok := b.index[id]
		if !ok {
			return false
		}
		s.Devices[i].Button = button
		return true
	})
}

// SetTheme changes the rendered color scheme
func (b *Board) SetTheme(theme prefs.Theme) {
	b.update(func(s *Snapshot) bool {
		if s.Theme == theme {
			return false
		}
		s.Theme = theme
		return true
	})
}

func (b *Board) update(fn func(s *Snapshot) bool) {
	b.mu.Lock()
	if !fn(&b.state) {
		b.mu.Unlock()
		return
	}
	b.state.Version++
	b.state.UpdatedAt = b.now()
	snap := b.state.clone()
	b.mu.Unlock()

	b.broadcast(snap)
}

// Subscribe returns a channel that always holds the latest snapshot not yet
// received. Slow receivers skip intermediate states. Call cancel to release
// the subscription.
func (b *Board) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	b.subMu.Lock()
	ch <- b.Snapshot()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, id)
			b.subMu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscriptions
func (b *Board) Subscribers() int {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	return len(b.subs)
}

func (b *Board) broadcast(snap Snapshot) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if snap.Version <= b.lastSent {
		return
	}
	b.lastSent = snap.Version
	for _, ch := range b.subs {
		// latest wins
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
