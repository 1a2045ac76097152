package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/afroash/envdash/internal/eventloop"
	"github.com/afroash/envdash/internal/gauge"
	"github.com/afroash/envdash/internal/models"
	"github.com/rs/zerolog"
)

var errUnreachable = errors.New("dial tcp: connect: no route to host")

// scriptedFetcher returns queued results in order, then repeats fallback.
type scriptedFetcher struct {
	results  []fetchResult
	fallback fetchResult
	calls    int
	at       []time.Duration
	clock    *eventloop.Manual
}

type fetchResult struct {
	reading models.Reading
	err     error
}

func (f *scriptedFetcher) FetchReading(ctx context.Context) (models.Reading, error) {
	f.calls++
	f.at = append(f.at, f.clock.Elapsed())
	if _, ok := ctx.Deadline(); !ok {
		return models.Reading{}, errors.New("fetch without deadline")
	}
	r := f.fallback
	if len(f.results) > 0 {
		r = f.results[0]
		f.results = f.results[1:]
	}
	return r.reading, r.err
}

type recordingView struct {
	statuses []Status
	gauges   map[gauge.Channel]gauge.Gauge
	renders  int
}

func (v *recordingView) RenderGauge(g gauge.Gauge) {
	if v.gauges == nil {
		v.gauges = make(map[gauge.Channel]gauge.Gauge)
	}
	v.gauges[g.Channel] = g
	v.renders++
}

func (v *recordingView) SetStatus(s Status) {
	v.statuses = append(v.statuses, s)
}

func (v *recordingView) last() Status {
	return v.statuses[len(v.statuses)-1]
}

func (v *recordingView) texts() []string {
	var out []string
	for _, s := range v.statuses {
		if len(out) == 0 || out[len(out)-1] != s.Text {
			out = append(out, s.Text)
		}
	}
	return out
}

type countingObserver struct {
	fetches    int
	failures   int
	reconnects int
}

func (o *countingObserver) FetchCompleted(err error, valid bool) {
	o.fetches++
	if err != nil {
		o.failures++
	}
}

func (o *countingObserver) ReconnectStarted() { o.reconnects++ }

type harness struct {
	clock    *eventloop.Manual
	fetcher  *scriptedFetcher
	view     *recordingView
	observer *countingObserver
	machine  *Machine
}

func newHarness(results []fetchResult, fallback fetchResult) *harness {
	clock := eventloop.NewManual()
	fetcher := &scriptedFetcher{results: results, fallback: fallback, clock: clock}
	view := &recordingView{}
	observer := &countingObserver{}
	m := New(DefaultConfig(), clock, fetcher, view, zerolog.Nop())
	m.SetObserver(observer)
	return &harness{clock: clock, fetcher: fetcher, view: view, observer: observer, machine: m}
}

// start runs Start and completes the immediate fetch.
func (h *harness) start() {
	h.machine.Start()
	h.clock.Flush()
}

func ok(temp, hum float64) fetchResult {
	return fetchResult{reading: models.NewReading(temp, hum)}
}

func fail() fetchResult {
	return fetchResult{err: errUnreachable}
}

func TestMachine_StartFetchesImmediately(t *testing.T) {
	h := newHarness(nil, ok(22, 45))
	h.start()

	if h.fetcher.calls != 1 {
		t.Fatalf("calls = %d, want 1", h.fetcher.calls)
	}
	st := h.machine.Status()
	if st.State != StatePolling || st.Text != "Connected" || st.Tone != ToneOK {
		t.Errorf("status = %+v", st)
	}
	if g := h.view.gauges[gauge.Temperature]; g.Value != 22 || g.Label != "Comfortable" {
		t.Errorf("temperature gauge = %+v", g)
	}
}

func TestMachine_PollsOnInterval(t *testing.T) {
	h := newHarness(nil, ok(22, 45))
	h.start()

	h.clock.Advance(10 * time.Second)

	// t=0 plus ticks at 2.5, 5, 7.5, 10
	if h.fetcher.calls != 5 {
		t.Errorf("calls = %d, want 5", h.fetcher.calls)
	}
}

func TestMachine_StartTwiceIsNoop(t *testing.T) {
	h := newHarness(nil, ok(22, 45))
	h.start()
	h.machine.Start()
	h.clock.Flush()

	if h.fetcher.calls != 1 {
		t.Errorf("calls = %d, want 1", h.fetcher.calls)
	}
	if h.clock.Active() != 1 {
		t.Errorf("active timers = %d, want 1", h.clock.Active())
	}
}

func TestMachine_SkipsTickWhileFetchOutstanding(t *testing.T) {
	h := newHarness(nil, ok(22, 45))
	h.clock.Hold = true
	h.machine.Start()

	h.clock.Advance(7500 * time.Millisecond)
	if h.clock.Pending() != 1 {
		t.Fatalf("pending fetches = %d, want 1", h.clock.Pending())
	}
	if !h.machine.InFlight() {
		t.Fatal("machine should report a fetch in flight")
	}

	h.clock.Flush()
	if h.fetcher.calls != 1 {
		t.Errorf("calls = %d, want 1", h.fetcher.calls)
	}
	if h.machine.InFlight() {
		t.Error("in-flight guard should clear after the result")
	}

	h.clock.Advance(2500 * time.Millisecond)
	if h.clock.Pending() != 1 {
		t.Errorf("next tick should issue a new fetch, pending = %d", h.clock.Pending())
	}
}

func TestMachine_FailuresBelowThreshold(t *testing.T) {
	h := newHarness([]fetchResult{ok(22, 45), fail(), fail()}, ok(22, 45))
	h.start()

	h.clock.Advance(2500 * time.Millisecond)
	st := h.machine.Status()
	if st.State != StateFailing || st.Failures != 1 || st.Tone != ToneWarning {
		t.Errorf("after one failure status = %+v", st)
	}
	if st.Text != "Connected" {
		t.Errorf("label should be unchanged below the threshold, got %q", st.Text)
	}

	h.clock.Advance(2500 * time.Millisecond)
	if h.machine.Status().Failures != 2 {
		t.Errorf("failures = %d, want 2", h.machine.Status().Failures)
	}

	h.clock.Advance(2500 * time.Millisecond)
	st = h.machine.Status()
	if st.State != StatePolling || st.Failures != 0 {
		t.Errorf("success should reset failures, status = %+v", st)
	}
	if h.observer.reconnects != 0 {
		t.Errorf("reconnects = %d, want 0", h.observer.reconnects)
	}
}

func TestMachine_EntersReconnectingAfterThreeFailures(t *testing.T) {
	h := newHarness(nil, fail())
	h.start()

	h.clock.Advance(5 * time.Second)

	st := h.machine.Status()
	if st.State != StateReconnecting {
		t.Fatalf("state = %v, want reconnecting", st.State)
	}
	if st.Text != "Reconnecting in 8 seconds" || st.SecondsRemaining != 8 {
		t.Errorf("status = %+v", st)
	}
	if h.observer.reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", h.observer.reconnects)
	}
	// poll timer stopped, only the countdown runs
	if h.clock.Active() != 1 {
		t.Errorf("active timers = %d, want 1", h.clock.Active())
	}
}

func TestMachine_CountdownSequenceAndRetryTiming(t *testing.T) {
	h := newHarness(nil, fail())
	h.start()
	h.clock.Advance(5 * time.Second) // third failure, reconnecting from t=5s

	enteredAt := h.clock.Elapsed()
	h.clock.Advance(8 * time.Second)

	want := []string{
		"Connecting...",
		"Reconnecting in 8 seconds",
		"Reconnecting in 7 seconds",
		"Reconnecting in 6 seconds",
		"Reconnecting in 5 seconds",
		"Reconnecting in 4 seconds",
		"Reconnecting in 3 seconds",
		"Reconnecting in 2 seconds",
		"Reconnecting...",
	}
	got := h.view.texts()
	if len(got) != len(want) {
		t.Fatalf("texts = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("texts = %q, want %q", got, want)
		}
	}

	if h.fetcher.calls != 3 {
		t.Fatalf("no retry should fire before the settle delay, calls = %d", h.fetcher.calls)
	}
	h.clock.Advance(500 * time.Millisecond)
	if h.fetcher.calls != 4 {
		t.Fatalf("calls = %d, want 4 after retry", h.fetcher.calls)
	}

	retryAt := h.fetcher.at[3]
	if d := retryAt - enteredAt; d < 8*time.Second || d > 9*time.Second {
		t.Errorf("retry fired %v after entering reconnecting, want 8-9s", d)
	}
}

func TestMachine_RetryFailureRestartsCountdown(t *testing.T) {
	h := newHarness(nil, fail())
	h.start()
	h.clock.Advance(5 * time.Second)
	h.clock.Advance(8500 * time.Millisecond) // retry fails

	st := h.machine.Status()
	if st.State != StateReconnecting || st.SecondsRemaining != 8 {
		t.Fatalf("status = %+v, want countdown restarted at 8", st)
	}
	if st.Failures != 1 {
		t.Errorf("failures = %d, want 1 (counter reset before retry)", st.Failures)
	}
	if h.observer.reconnects != 1 {
		t.Errorf("reconnects = %d, want 1 (restart is not a new entry)", h.observer.reconnects)
	}
	if h.clock.Active() != 1 {
		t.Errorf("active timers = %d, want exactly one countdown", h.clock.Active())
	}

	// several more cycles never accumulate timers
	h.clock.Advance(3 * 8500 * time.Millisecond)
	if h.clock.Active() != 1 {
		t.Errorf("active timers = %d after repeated cycles, want 1", h.clock.Active())
	}
	if h.fetcher.calls != 7 {
		t.Errorf("calls = %d, want 7 (3 polls + 4 retries)", h.fetcher.calls)
	}
}

func TestMachine_RetrySuccessResumesPolling(t *testing.T) {
	h := newHarness([]fetchResult{fail(), fail(), fail()}, ok(30, 65))
	h.start()
	h.clock.Advance(5 * time.Second)
	h.clock.Advance(8500 * time.Millisecond)

	st := h.machine.Status()
	if st.State != StatePolling || st.Text != "Connected" || st.Failures != 0 {
		t.Fatalf("status = %+v, want connected", st)
	}
	if g := h.view.gauges[gauge.Humidity]; g.Label != "Humid" {
		t.Errorf("humidity gauge = %+v", g)
	}

	calls := h.fetcher.calls
	h.clock.Advance(2500 * time.Millisecond)
	if h.fetcher.calls != calls+1 {
		t.Errorf("poll timer should be running again, calls = %d", h.fetcher.calls)
	}
	if h.clock.Active() != 1 {
		t.Errorf("active timers = %d, want only the poll timer", h.clock.Active())
	}
}

func TestMachine_PollNowDuringCountdown(t *testing.T) {
	h := newHarness([]fetchResult{fail(), fail(), fail(), fail()}, ok(21, 40))
	h.start()
	h.clock.Advance(5 * time.Second)
	h.clock.Advance(3 * time.Second)

	// manual trigger fails: countdown restarts from 8
	h.machine.PollNow()
	h.clock.Flush()
	st := h.machine.Status()
	if st.State != StateReconnecting || st.SecondsRemaining != 8 {
		t.Fatalf("status = %+v, want countdown restarted", st)
	}
	if h.clock.Active() != 1 {
		t.Errorf("active timers = %d, want 1", h.clock.Active())
	}

	// manual trigger succeeds: countdown cleared, polling resumes
	h.clock.Advance(2 * time.Second)
	h.machine.PollNow()
	h.clock.Flush()
	st = h.machine.Status()
	if st.State != StatePolling || st.Failures != 0 {
		t.Fatalf("status = %+v, want polling", st)
	}
	if h.clock.Active() != 1 {
		t.Errorf("active timers = %d, want only the poll timer", h.clock.Active())
	}
}

func TestMachine_InvalidReadingIsDegraded(t *testing.T) {
	h := newHarness([]fetchResult{{reading: models.Reading{Temperature: 19, Valid: false}}}, ok(22, 45))
	h.start()

	st := h.machine.Status()
	if st.Text != "Connected" || st.Tone != ToneDegraded {
		t.Errorf("status = %+v, want connected/degraded", st)
	}
	if g := h.view.gauges[gauge.Humidity]; g.Value != 0 || g.Fill != 0 {
		t.Errorf("missing humidity should render as 0, got %+v", g)
	}
	if g := h.view.gauges[gauge.Temperature]; g.Value != 19 {
		t.Errorf("temperature gauge = %+v", g)
	}

	h.clock.Advance(2500 * time.Millisecond)
	if h.machine.Status().Tone != ToneOK {
		t.Errorf("tone = %v, want ok after a valid reading", h.machine.Status().Tone)
	}
}

func TestMachine_Scenario(t *testing.T) {
	h := newHarness(nil, ok(45, 50))
	h.start()

	temp := h.view.gauges[gauge.Temperature]
	if temp.Fill != 1 || temp.Label != "Very Hot" || temp.Color != gauge.Red {
		t.Errorf("temperature = %+v", temp)
	}
	hum := h.view.gauges[gauge.Humidity]
	if hum.Fill != 0.5 || hum.Label != "Comfortable" || hum.Color != gauge.Green {
		t.Errorf("humidity = %+v", hum)
	}
}

func TestMachine_Stop(t *testing.T) {
	h := newHarness(nil, fail())
	h.start()
	h.clock.Advance(6 * time.Second)

	h.machine.Stop()
	if h.clock.Active() != 0 {
		t.Errorf("active timers = %d, want 0", h.clock.Active())
	}
	calls := h.fetcher.calls
	h.clock.Advance(time.Minute)
	if h.fetcher.calls != calls {
		t.Error("stopped machine should not fetch")
	}
	if h.machine.Status().State != StateIdle {
		t.Errorf("state = %v, want idle", h.machine.Status().State)
	}
}

func TestMachine_StopResetsStatus(t *testing.T) {
	h := newHarness([]fetchResult{fail()}, fail())
	h.start()
	h.clock.Advance(2500 * time.Millisecond)
	if st := h.machine.Status(); st.State != StateFailing || st.Failures != 2 {
		t.Fatalf("before Stop status = %+v, want failing with 2 failures", st)
	}

	h.machine.Stop()
	want := Status{State: StateIdle, Text: "Connecting...", Tone: ToneNeutral}
	if got := h.view.last(); got != want {
		t.Errorf("published status after Stop = %+v, want %+v", got, want)
	}

	// a restarted machine needs MaxFailures fresh failures again
	h.start()
	if st := h.machine.Status(); st.State != StateFailing || st.Failures != 1 {
		t.Errorf("after restart and one failure status = %+v, want failing with 1 failure", st)
	}
	if h.observer.reconnects != 0 {
		t.Errorf("reconnects = %d, want 0", h.observer.reconnects)
	}
}

func TestMachine_ResultFromBeforeStopIsDropped(t *testing.T) {
	h := newHarness([]fetchResult{fail()}, ok(21, 40))

	h.machine.Start()
	h.machine.Stop()
	h.machine.Start()
	if h.clock.Pending() != 2 {
		t.Fatalf("pending fetches = %d, want 2", h.clock.Pending())
	}
	h.clock.Flush()

	if h.observer.fetches != 1 || h.observer.failures != 0 {
		t.Errorf("observed fetches = %d, failures = %d; want 1, 0", h.observer.fetches, h.observer.failures)
	}
	st := h.machine.Status()
	if st.State != StatePolling || st.Text != "Connected" || st.Failures != 0 {
		t.Errorf("status = %+v, want connected", st)
	}
	if h.machine.InFlight() {
		t.Error("fetch still marked in flight")
	}
}

func TestMachine_AtMostOneTimerInvariant(t *testing.T) {
	results := []fetchResult{fail(), fail(), fail(), fail(), ok(20, 40), fail(), fail(), fail()}
	h := newHarness(results, ok(20, 40))
	h.start()

	for i := 0; i < 400; i++ {
		h.clock.Advance(100 * time.Millisecond)
		m := h.machine
		if m.pollTimer != nil && m.countdownTimer != nil {
			t.Fatalf("poll and countdown timers both scheduled at %v", h.clock.Elapsed())
		}
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:         "idle",
		StatePolling:      "polling",
		StateFailing:      "failing",
		StateReconnecting: "reconnecting",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
