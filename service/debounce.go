package service

import (
	"sync"
	"time"
)

// Debouncer collapses a burst of Trigger calls into a single call of fn,
// fired once interval has passed without a new trigger. An interval of zero
// runs fn synchronously on every Trigger.
type Debouncer struct {
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
	stopped bool
	running sync.Mutex
}

// NewDebouncer creates a debouncer around fn
func NewDebouncer(interval time.Duration, fn func()) *Debouncer {
	return &Debouncer{interval: interval, fn: fn}
}

// Trigger records a change event and (re)starts the quiet period
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.interval <= 0 {
		d.mu.Unlock()
		d.run()
		return
	}
	d.pending = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() { d.fire(gen) })
	d.mu.Unlock()
}

// Flush runs fn immediately if a call is pending
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = false
	d.mu.Unlock()
	d.run()
}

// Pending reports whether a call is scheduled
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop cancels any pending call and ignores later triggers
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// fire ignores timers superseded by a later Trigger
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if !d.pending || d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()
	d.run()
}

// run serializes calls so a flush never overlaps a timer-driven call
func (d *Debouncer) run() {
	d.running.Lock()
	defer d.running.Unlock()
	d.fn()
}
