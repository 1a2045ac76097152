// Package panel implements the device status / wake panel: reachability
// probes and Wake-on-LAN requests for a fixed device list. Like the poller,
// every method runs on the scheduler's loop.
package panel

import (
	"context"
	"errors"
	"time"

	"github.com/afroash/envdash/internal/eventloop"
	"github.com/afroash/envdash/internal/models"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrWakeBusy      = errors.New("wake already in progress")
)

// DeviceStatus is the reachability label shown for a device
type DeviceStatus string

const (
	StatusUnknown  DeviceStatus = "Unknown"
	StatusChecking DeviceStatus = "Checking..."
	StatusOnline   DeviceStatus = "Online"
	StatusOffline  DeviceStatus = "Offline"
)

// Wake button labels
const (
	ButtonPowerOn = "Power on"
	ButtonSending = "Sending..."
	ButtonSent    = "Sent!"
	ButtonFailed  = "Failed!"
)

// Button is the state of a device's power-on control
type Button struct {
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// IdleButton is the resting state of the power-on control
func IdleButton() Button {
	return Button{Label: ButtonPowerOn, Enabled: true}
}

// Prober reaches the device API's ping and wol endpoints
type Prober interface {
	Ping(ctx context.Context, ip string, port int) (bool, error)
	Wake(ctx context.Context, mac string) (models.WakeResult, error)
}

// View receives per-device label changes
type View interface {
	SetDeviceStatus(id string, status DeviceStatus)
	SetWakeButton(id string, button Button)
}

// Recorder receives device action outcomes. Optional.
type Recorder interface {
	Record(event models.DeviceEvent)
}

// Config holds the panel's timing constants
type Config struct {
	ProbeTimeout time.Duration
	WakeTimeout  time.Duration
	ProbeSpacing time.Duration
	WakeDisplay  time.Duration
	RecheckDelay time.Duration
}

// DefaultConfig returns the reference timings
func DefaultConfig() Config {
	return Config{
		ProbeTimeout: 5 * time.Second,
		WakeTimeout:  5 * time.Second,
		ProbeSpacing: 1 * time.Second,
		WakeDisplay:  1500 * time.Millisecond,
		RecheckDelay: 30 * time.Second,
	}
}

type deviceState struct {
	device  models.Device
	status  DeviceStatus
	button  Button
	recheck eventloop.Timer
}

// Panel owns the device rows
type Panel struct {
	cfg      Config
	sched    eventloop.Scheduler
	prober   Prober
	view     View
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time

	order    []string
	devices  map[string]*deviceState
	sweeping bool
}

// New creates a panel with every device in the Unknown state.
func New(cfg Config, devices []models.Device, sched eventloop.Scheduler, prober Prober, view View, logger zerolog.Logger) *Panel {
	p := &Panel{
		cfg:     cfg,
		sched:   sched,
		prober:  prober,
		view:    view,
		logger:  logger,
		now:     time.Now,
		devices: make(map[string]*deviceState, len(devices)),
	}
	for _, d := range devices {
		id := d.ID()
		p.order = append(p.order, id)
		p.devices[id] = &deviceState{device: d, status: StatusUnknown, button: IdleButton()}
	}
	return p
}

// SetRecorder attaches an optional event recorder
func (p *Panel) SetRecorder(r Recorder) {
	p.recorder = r
}

// Devices returns the configured devices in display order
func (p *Panel) Devices() []models.Device {
	out := make([]models.Device, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.devices[id].device)
	}
	return out
}

// Status returns the current label of a device
func (p *Panel) Status(id string) (DeviceStatus, error) {
	ds, ok := p.devices[id]
	if !ok {
		return "", ErrUnknownDevice
	}
	return ds.status, nil
}

// Button returns the current power-on control state of a device
func (p *Panel) Button(id string) (Button, error) {
	ds, ok := p.devices[id]
	if !ok {
		return Button{}, ErrUnknownDevice
	}
	return ds.button, nil
}

// Sweeping reports whether an on-load sweep is running
func (p *Panel) Sweeping() bool {
	return p.sweeping
}

// CheckStatus probes one device.
func (p *Panel) CheckStatus(id string) error {
	ds, ok := p.devices[id]
	if !ok {
		return ErrUnknownDevice
	}
	p.check(ds, nil)
	return nil
}

// CheckAllOnLoad probes every device one after another, waiting
// ProbeSpacing after each probe finishes before starting the next, so the
// device never sees two probes at once. Ignored while a sweep is running.
func (p *Panel) CheckAllOnLoad() {
	if p.sweeping || len(p.order) == 0 {
		return
	}
	p.sweeping = true
	p.logger.Info().Int("devices", len(p.order)).Msg("Checking device status")
	p.sweepFrom(0)
}

func (p *Panel) sweepFrom(i int) {
	if i >= len(p.order) {
		p.sweeping = false
		p.logger.Debug().Msg("Device sweep finished")
		return
	}
	p.check(p.devices[p.order[i]], func() {
		p.sched.After(p.cfg.ProbeSpacing, func() { p.sweepFrom(i + 1) })
	})
}

func (p *Panel) check(ds *deviceState, done func()) {
	p.setStatus(ds, StatusChecking)
	dev := ds.device
	timeout := p.cfg.ProbeTimeout
	p.sched.Go(func(ctx context.Context) func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		online, err := p.prober.Ping(ctx, dev.IP, dev.Port)
		return func() {
			p.finishCheck(ds, online, err)
			if done != nil {
				done()
			}
		}
	})
}

func (p *Panel) finishCheck(ds *deviceState, online bool, err error) {
	id := ds.device.ID()
	switch {
	case err != nil:
		// absence of an answer is not a confirmed offline
		p.logger.Warn().Err(err).Str("device", id).Msg("Device status check failed")
		p.setStatus(ds, StatusUnknown)
		p.record(id, models.EventProbe, string(StatusUnknown), err.Error())
	case online:
		p.setStatus(ds, StatusOnline)
		p.record(id, models.EventProbe, string(StatusOnline), "")
	default:
		p.setStatus(ds, StatusOffline)
		p.record(id, models.EventProbe, string(StatusOffline), "")
	}
}

// Wake sends a Wake-on-LAN request for a device. The power-on control is
// disabled until WakeDisplay after the outcome is shown.
func (p *Panel) Wake(id string) error {
	ds, ok := p.devices[id]
	if !ok {
		return ErrUnknownDevice
	}
	if !ds.button.Enabled {
		return ErrWakeBusy
	}
	p.setButton(ds, Button{Label: ButtonSending})
	dev := ds.device
	timeout := p.cfg.WakeTimeout
	p.logger.Info().Str("device", id).Str("mac", dev.MAC).Msg("Sending Wake-on-LAN")
	p.sched.Go(func(ctx context.Context) func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		result, err := p.prober.Wake(ctx, dev.MAC)
		return func() { p.finishWake(ds, result, err) }
	})
	return nil
}

func (p *Panel) finishWake(ds *deviceState, result models.WakeResult, err error) {
	id := ds.device.ID()
	switch {
	case err != nil:
		p.logger.Warn().Err(err).Str("device", id).Msg("Wake-on-LAN request failed")
		p.setButton(ds, Button{Label: ButtonFailed})
		p.record(id, models.EventWake, "failed", err.Error())
	case !result.Success:
		p.logger.Warn().Str("device", id).Str("message", result.Message).Msg("Device rejected Wake-on-LAN")
		p.setButton(ds, Button{Label: ButtonFailed})
		p.record(id, models.EventWake, "failed", result.Message)
	default:
		p.logger.Info().Str("device", id).Msg("Wake-on-LAN packet sent")
		p.setButton(ds, Button{Label: ButtonSent})
		p.record(id, models.EventWake, "sent", result.Message)
		p.scheduleRecheck(ds)
	}
	p.sched.After(p.cfg.WakeDisplay, func() {
		p.setButton(ds, IdleButton())
	})
}

// scheduleRecheck probes the device once more after it had time to boot.
func (p *Panel) scheduleRecheck(ds *deviceState) {
	if ds.recheck != nil {
		ds.recheck.Stop()
	}
	ds.recheck = p.sched.After(p.cfg.RecheckDelay, func() {
		ds.recheck = nil
		p.check(ds, nil)
	})
}

// Stop cancels pending re-checks
func (p *Panel) Stop() {
	for _, ds := range p.devices {
		if ds.recheck != nil {
			ds.recheck.Stop()
			ds.recheck = nil
		}
	}
}

func (p *Panel) setStatus(ds *deviceState, status DeviceStatus) {
	ds.status = status
	p.view.SetDeviceStatus(ds.device.ID(), status)
}

func (p *Panel) setButton(ds *deviceState, button Button) {
	ds.button = button
	p.view.SetWakeButton(ds.device.ID(), button)
}

func (p *Panel) record(id string, kind models.EventKind, outcome, detail string) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(models.DeviceEvent{
		DeviceID:   id,
		Kind:       kind,
		Outcome:    outcome,
		Detail:     detail,
		RecordedAt: p.now(),
	})
}

// Recorders fans events out to several recorders
type Recorders []Recorder

// Record forwards the event to every recorder
func (rs Recorders) Record(event models.DeviceEvent) {
	for _, r := range rs {
		r.Record(event)
	}
}
