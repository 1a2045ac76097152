package eventloop

import (
	"context"
	"time"
)

// Manual is a Scheduler driven by a virtual clock. Nothing happens until
// Advance or Flush is called, which makes timing-dependent behavior
// reproducible in tests and simulations.
//
// By default work passed to Go completes right after the callback that
// started it. Set Hold to keep that work pending until Flush is called,
// which simulates a request that is still in flight.
type Manual struct {
	Hold bool

	now    time.Duration
	seq    int
	timers []*manualTimer
	async  []func(ctx context.Context) func()
}

var _ Scheduler = (*Manual)(nil)

type manualTimer struct {
	at      time.Duration
	every   time.Duration
	seq     int
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() { t.stopped = true }

// NewManual creates a scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Elapsed returns the virtual time since the scheduler was created.
func (m *Manual) Elapsed() time.Duration {
	return m.now
}

func (m *Manual) add(d, every time.Duration, fn func()) *manualTimer {
	m.seq++
	t := &manualTimer{at: m.now + d, every: every, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Every schedules fn every d of virtual time.
func (m *Manual) Every(d time.Duration, fn func()) Timer {
	return m.add(d, d, fn)
}

// After schedules fn once after d of virtual time.
func (m *Manual) After(d time.Duration, fn func()) Timer {
	return m.add(d, 0, fn)
}

// Go queues work. It runs on the next Flush, or right after the current
// timer callback when Hold is false.
func (m *Manual) Go(work func(ctx context.Context) func()) {
	m.async = append(m.async, work)
}

// Pending returns the number of queued Go work items.
func (m *Manual) Pending() int {
	return len(m.async)
}

// Active returns the number of timers that are scheduled and not stopped.
func (m *Manual) Active() int {
	n := 0
	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Flush runs queued work and its continuations until none is left.
func (m *Manual) Flush() {
	for len(m.async) > 0 {
		work := m.async[0]
		m.async = m.async[1:]
		if cont := work(context.Background()); cont != nil {
			cont()
		}
	}
}

// Advance moves the virtual clock forward by d, firing every timer that
// comes due in order of due time, then scheduling order.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	for {
		t := m.next(target)
		if t == nil {
			break
		}
		m.now = t.at
		if t.every > 0 {
			t.at += t.every
		} else {
			t.stopped = true
		}
		t.fn()
		if !m.Hold {
			m.Flush()
		}
	}
	m.now = target
	m.compact()
}

func (m *Manual) next(limit time.Duration) *manualTimer {
	var best *manualTimer
	for _, t := range m.timers {
		if t.stopped || t.at > limit {
			continue
		}
		if best == nil || t.at < best.at || (t.at == best.at && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

func (m *Manual) compact() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live
}
