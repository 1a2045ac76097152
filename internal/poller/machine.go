// Package poller implements the sensor poll/reconnect state machine. All
// methods must run on the scheduler's loop; the machine itself holds no locks.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/afroash/envdash/internal/eventloop"
	"github.com/afroash/envdash/internal/gauge"
	"github.com/afroash/envdash/internal/models"
	"github.com/rs/zerolog"
)

const (
	textWaiting      = "Connecting..."
	textConnected    = "Connected"
	textReconnecting = "Reconnecting..."
)

// Fetcher retrieves one reading from the sensor endpoint
type Fetcher interface {
	FetchReading(ctx context.Context) (models.Reading, error)
}

// View receives rendered gauges and status changes
type View interface {
	RenderGauge(g gauge.Gauge)
	SetStatus(s Status)
}

// Observer is notified of fetch outcomes, e.g. for metrics. Optional.
type Observer interface {
	FetchCompleted(err error, valid bool)
	ReconnectStarted()
}

// Config holds the machine's timing constants
type Config struct {
	Interval      time.Duration
	Timeout       time.Duration
	MaxFailures   int
	CountdownFrom int
	SettleDelay   time.Duration
}

// DefaultConfig returns the reference cadence
func DefaultConfig() Config {
	return Config{
		Interval:      2500 * time.Millisecond,
		Timeout:       2 * time.Second,
		MaxFailures:   3,
		CountdownFrom: 8,
		SettleDelay:   500 * time.Millisecond,
	}
}

// Machine polls the sensor on a fixed cadence and switches to a countdown
// driven reconnect cycle after repeated failures.
type Machine struct {
	cfg      Config
	sched    eventloop.Scheduler
	fetcher  Fetcher
	view     View
	observer Observer
	logger   zerolog.Logger

	state        State
	failures     int
	inFlight     bool
	session      int // bumped by Stop; results from older sessions are dropped
	reconnecting bool
	degraded     bool
	remaining    int
	text         string

	pollTimer      eventloop.Timer
	countdownTimer eventloop.Timer
	retryTimer     eventloop.Timer
}

// New creates an idle machine
func New(cfg Config, sched eventloop.Scheduler, fetcher Fetcher, view View, logger zerolog.Logger) *Machine {
	return &Machine{
		cfg:     cfg,
		sched:   sched,
		fetcher: fetcher,
		view:    view,
		logger:  logger,
		state:   StateIdle,
		text:    textWaiting,
	}
}

// SetObserver attaches an optional observer
func (m *Machine) SetObserver(o Observer) {
	m.observer = o
}

// Status returns the current status
func (m *Machine) Status() Status {
	st := Status{
		State:    m.state,
		Text:     m.text,
		Tone:     m.tone(),
		Failures: m.failures,
	}
	if m.state == StateReconnecting {
		st.SecondsRemaining = m.remaining
	}
	return st
}

// InFlight reports whether a fetch is outstanding
func (m *Machine) InFlight() bool {
	return m.inFlight
}

// Start moves Idle -> Polling: fetches once right away and schedules the
// repeating poll. Calling Start on a running machine does nothing.
func (m *Machine) Start() {
	if m.state != StateIdle {
		return
	}
	m.logger.Info().Dur("interval", m.cfg.Interval).Msg("Sensor polling started")
	m.state = StatePolling
	m.publish()
	m.ensurePolling()
	m.poll()
}

// Stop cancels every timer and returns to Idle with a clean failure count.
// A fetch still in flight completes but its result is ignored, even if the
// machine has been started again by then.
func (m *Machine) Stop() {
	m.stopPolling()
	m.stopCountdown()
	m.stopRetry()
	m.session++
	m.inFlight = false
	m.reconnecting = false
	m.failures = 0
	m.remaining = 0
	m.degraded = false
	m.text = textWaiting
	m.state = StateIdle
	m.publish()
	m.logger.Info().Msg("Sensor polling stopped")
}

// PollNow triggers an immediate fetch, e.g. from a "retry now" button.
func (m *Machine) PollNow() {
	if m.state == StateIdle {
		return
	}
	m.poll()
}

// poll is the tick handler: one bounded fetch unless one is outstanding.
func (m *Machine) poll() {
	if m.inFlight {
		m.logger.Debug().Msg("Previous fetch still outstanding, skipping tick")
		return
	}
	m.inFlight = true
	timeout := m.cfg.Timeout
	session := m.session
	m.sched.Go(func(ctx context.Context) func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		reading, err := m.fetcher.FetchReading(ctx)
		return func() { m.handleResult(session, reading, err) }
	})
}

func (m *Machine) handleResult(session int, reading models.Reading, err error) {
	if session != m.session {
		m.logger.Debug().Msg("Dropping result fetched before Stop")
		return
	}
	m.inFlight = false
	if m.state == StateIdle {
		return
	}
	if m.observer != nil {
		m.observer.FetchCompleted(err, reading.Valid)
	}
	if err != nil {
		m.onFailure(err)
		return
	}
	m.onSuccess(reading)
}

func (m *Machine) onSuccess(reading models.Reading) {
	if m.reconnecting {
		m.logger.Info().Msg("Sensor reconnected")
	}
	m.failures = 0
	m.reconnecting = false
	m.stopCountdown()
	m.stopRetry()

	m.view.RenderGauge(gauge.Render(reading.Temperature, gauge.Temperature))
	m.view.RenderGauge(gauge.Render(reading.Humidity, gauge.Humidity))

	m.state = StatePolling
	m.text = textConnected
	m.degraded = !reading.Valid
	if m.degraded {
		m.logger.Warn().Str("reading", reading.String()).Msg("Sensor reported an invalid reading")
	}
	m.ensurePolling()
	m.publish()
}

func (m *Machine) onFailure(err error) {
	m.failures++
	m.degraded = false
	m.logger.Warn().Err(err).Int("failures", m.failures).Msg("Sensor fetch failed")

	if m.reconnecting {
		m.startCountdown()
		return
	}
	if m.failures >= m.cfg.MaxFailures {
		m.enterReconnecting()
		return
	}
	m.state = StateFailing
	m.publish()
}

func (m *Machine) enterReconnecting() {
	m.logger.Warn().Int("failures", m.failures).Int("countdown", m.cfg.CountdownFrom).Msg("Sensor unreachable, reconnecting")
	m.reconnecting = true
	m.stopPolling()
	if m.observer != nil {
		m.observer.ReconnectStarted()
	}
	m.startCountdown()
}

// startCountdown (re)starts the countdown from its initial value.
func (m *Machine) startCountdown() {
	m.stopCountdown()
	m.stopRetry()
	m.state = StateReconnecting
	m.remaining = m.cfg.CountdownFrom
	m.text = countdownText(m.remaining)
	m.countdownTimer = m.sched.Every(time.Second, m.countdownTick)
	m.publish()
}

func (m *Machine) countdownTick() {
	m.remaining--
	if m.remaining > 0 {
		m.text = countdownText(m.remaining)
		m.publish()
		return
	}
	m.stopCountdown()
	m.failures = 0
	m.text = textReconnecting
	m.publish()
	m.retryTimer = m.sched.After(m.cfg.SettleDelay, func() {
		m.retryTimer = nil
		m.logger.Info().Msg("Retrying sensor fetch")
		m.poll()
	})
}

func countdownText(remaining int) string {
	if remaining <= 1 {
		return textReconnecting
	}
	return fmt.Sprintf("Reconnecting in %d seconds", remaining)
}

func (m *Machine) tone() Tone {
	switch m.state {
	case StatePolling:
		if m.text != textConnected {
			return ToneNeutral
		}
		if m.degraded {
			return ToneDegraded
		}
		return ToneOK
	case StateFailing:
		return ToneWarning
	case StateReconnecting:
		return ToneError
	default:
		return ToneNeutral
	}
}

func (m *Machine) publish() {
	m.view.SetStatus(m.Status())
}

func (m *Machine) ensurePolling() {
	if m.pollTimer == nil {
		m.pollTimer = m.sched.Every(m.cfg.Interval, m.poll)
	}
}

func (m *Machine) stopPolling() {
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
}

func (m *Machine) stopCountdown() {
	if m.countdownTimer != nil {
		m.countdownTimer.Stop()
		m.countdownTimer = nil
	}
}

func (m *Machine) stopRetry() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}
