package watcher

import (
	"context"
	"sync"
	"time"
)

// RunFunc is the work a Debouncer schedules.
type RunFunc func(ctx context.Context) error

// Debouncer is a single-slot cancellable timer. Each Trigger replaces the
// pending timer; when the delay elapses without another Trigger the run
// function executes once. Runs never overlap: a timer that elapses while a run
// is in flight schedules exactly one trailing run.
type Debouncer struct {
	delay   time.Duration
	run     RunFunc
	onError func(error)

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	running  bool
	trailing bool
	closed   bool
	runs     uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DebounceOption configures a Debouncer.
type DebounceOption func(*Debouncer)

// WithErrorHandler sets the callback for failed runs.
func WithErrorHandler(fn func(error)) DebounceOption {
	return func(d *Debouncer) {
		d.onError = fn
	}
}

// NewDebouncer creates a Debouncer. A non-positive delay uses DefaultDelay.
func NewDebouncer(delay time.Duration, run RunFunc, opts ...DebounceOption) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Debouncer{
		delay:  delay,
		run:    run,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger (re)starts the quiet period.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() {
		d.fire(gen)
	})
}

// Cancel drops the pending timer and any queued trailing run. An in-flight
// run is not interrupted.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *Debouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.trailing = false
}

// Pending reports whether a timer or trailing run is queued.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil || d.trailing
}

// Runs returns how many times the run function has been called.
func (d *Debouncer) Runs() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

// Close cancels pending work, cancels the context of the in-flight run and
// waits for it to return.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cancelLocked()
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// A stale timer lost the race against Trigger or Cancel.
	if gen != d.gen || d.closed {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	if d.running {
		d.trailing = true
		d.mu.Unlock()
		return
	}
	d.running = true
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	for {
		d.mu.Lock()
		d.runs++
		d.mu.Unlock()

		if err := d.run(d.ctx); err != nil && d.onError != nil {
			d.onError(err)
		}

		d.mu.Lock()
		if d.trailing && !d.closed {
			d.trailing = false
			d.mu.Unlock()
			continue
		}
		d.running = false
		d.mu.Unlock()
		return
	}
}
