package collab

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of writes per key into one flush after a quiet
// period. The timer is fixed, not sliding: a schedule storm extends nothing,
// so edit-to-storage latency is bounded by the quiet period.
type Debouncer struct {
	mu      sync.Mutex
	sched   Scheduler
	quiet   time.Duration
	entries map[string]*pendingWrite
}

// pendingWrite tracks one key's dirty flag and its single in-flight timer.
type pendingWrite struct {
	dirty       bool
	timerActive bool
	flush       func()
	cancel      CancelFunc
}

func NewDebouncer(sched Scheduler, quiet time.Duration) *Debouncer {
	return &Debouncer{
		sched:   sched,
		quiet:   quiet,
		entries: make(map[string]*pendingWrite),
	}
}

// Schedule marks key dirty and arms a timer unless one is already pending.
// The most recent flush function wins; it runs outside the lock when the
// timer fires.
func (d *Debouncer) Schedule(key string, flush func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entries[key]
	if e == nil {
		e = &pendingWrite{}
		d.entries[key] = e
	}
	e.dirty = true
	e.flush = flush

	if e.timerActive {
		return
	}
	e.timerActive = true
	e.cancel = d.sched.After(d.quiet, func() { d.fire(key) })
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	e := d.entries[key]
	if e == nil {
		d.mu.Unlock()
		return
	}
	e.timerActive = false
	if !e.dirty {
		delete(d.entries, key)
		d.mu.Unlock()
		return
	}
	e.dirty = false
	flush := e.flush
	delete(d.entries, key)
	d.mu.Unlock()

	flush()
}

// Cancel drops any pending state for key. Used by the terminal flush path,
// which writes directly and must not be followed by a stale debounced write.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entries[key]
	if e == nil {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	delete(d.entries, key)
}

// Pending reports whether key currently has an armed timer.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.entries[key]
	return e != nil && e.timerActive
}
