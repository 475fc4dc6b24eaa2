package farm

import (
	"context"
	"sync"
	"time"
)

// Loop owns the goroutine every engine mutation runs on. Inputs from other
// goroutines (IPC handlers, timers, async completions) are posted to it, so
// engine state never needs locking.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	pending sync.WaitGroup
}

func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn to run on the loop. It never blocks.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes posted work until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.runPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Drain runs posted work, waiting for outstanding async calls, until the loop
// is idle. It must be called from the goroutine that owns the engine; tests
// use it instead of Run.
func (l *Loop) Drain() {
	for {
		l.pending.Wait()
		if !l.runPending() {
			return
		}
	}
}

func (l *Loop) runPending() bool {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch) > 0
}

// Async runs work on its own goroutine and delivers the result to then on
// the loop.
func Async[T any](l *Loop, work func() (T, error), then func(T, error)) {
	l.pending.Add(1)
	go func() {
		v, err := work()
		l.Post(func() { then(v, err) })
		l.pending.Done()
	}()
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so the state machine can be driven deterministically.
// AfterFunc callbacks must run on the engine loop.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// SystemClock fires timers through a Loop.
type SystemClock struct {
	loop *Loop
}

func NewSystemClock(loop *Loop) *SystemClock {
	return &SystemClock{loop: loop}
}

func (c *SystemClock) Now() time.Time { return time.Now() }

func (c *SystemClock) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		c.loop.Post(func() {
			// stopped is only touched on the loop goroutine.
			if !t.stopped {
				t.stopped = true
				fn()
			}
		})
	})
	return t
}

type loopTimer struct {
	timer   *time.Timer
	stopped bool
}

func (t *loopTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	t.timer.Stop()
	return wasActive
}

// Call runs fn on the loop and waits for its result. It must not be called
// from the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	l.Post(func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
