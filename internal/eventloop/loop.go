// Package eventloop provides the single-threaded cooperative scheduler the
// dashboard state machines run on. Every timer callback and every network
// continuation executes on one goroutine, so the machines need no locks.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrStopped is returned when work is submitted to a loop that has exited.
var ErrStopped = errors.New("event loop stopped")

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop()
}

// Scheduler is the surface the state machines depend on.
type Scheduler interface {
	// Every runs fn on the loop every d until stopped.
	Every(d time.Duration, fn func()) Timer
	// After runs fn on the loop once after d unless stopped first.
	After(d time.Duration, fn func()) Timer
	// Go runs work off the loop and then runs the continuation it returns
	// on the loop. A nil continuation is skipped.
	Go(work func(ctx context.Context) func())
}

// Loop is the real-time Scheduler backed by one goroutine.
type Loop struct {
	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	logger   zerolog.Logger
}

var _ Scheduler = (*Loop)(nil)

// New creates a loop. Nothing runs until Run is called.
func New(logger zerolog.Logger) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		tasks:  make(chan func(), 64),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Run executes posted tasks until ctx is cancelled.
// Blocks until the loop exits.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug().Msg("Event loop started")
	defer l.shutdown()
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug().Msg("Event loop stopped")
			return ctx.Err()
		case task := <-l.tasks:
			l.runTask(task)
		}
	}
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("Event loop task panicked")
		}
	}()
	task()
}

func (l *Loop) shutdown() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.cancel()
	})
}

// Post queues fn to run on the loop. Returns false if the loop has exited.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for its result.
// Must not be called from the loop goroutine itself.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !l.Post(func() { result <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// loopTimer is shared by Every and After. stopped is checked on the loop
// goroutine right before the callback runs, so a stopped timer never fires
// even when its tick was already queued.
type loopTimer struct {
	stopped  atomic.Bool
	stopOnce sync.Once
	quit     chan struct{}
	after    *time.Timer
}

func (t *loopTimer) Stop() {
	t.stopped.Store(true)
	t.stopOnce.Do(func() {
		if t.quit != nil {
			close(t.quit)
		}
		if t.after != nil {
			t.after.Stop()
		}
	})
}

func (t *loopTimer) guard(fn func()) func() {
	return func() {
		if t.stopped.Load() {
			return
		}
		fn()
	}
}

// Every schedules fn on the loop at a fixed interval.
func (l *Loop) Every(d time.Duration, fn func()) Timer {
	t := &loopTimer{quit: make(chan struct{})}
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !l.Post(t.guard(fn)) {
					return
				}
			case <-t.quit:
				return
			case <-l.done:
				return
			}
		}
	}()
	return t
}

// After schedules fn on the loop once.
func (l *Loop) After(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.after = time.AfterFunc(d, func() {
		l.Post(t.guard(fn))
	})
	return t
}

// Go runs work on its own goroutine with the loop's context and posts the
// continuation back. The context is cancelled when the loop exits.
func (l *Loop) Go(work func(ctx context.Context) func()) {
	go func() {
		cont := work(l.ctx)
		if cont != nil {
			l.Post(cont)
		}
	}()
}
