// ABOUTME: Burst debouncer for file-change notifications.
// ABOUTME: Explicit idle/pending state machine guarded by one lock; each event re-arms the flush timer.

package sessionwatch

import (
	"sync"
	"time"
)

// debouncer coalesces bursty file-change events into one flush per burst.
// A single delayed timer covers the whole pending set; every new event
// re-arms it, so one log line producing several OS notifications still costs
// roughly one parse per file.
//
// The lock covers only the pending set and the timer handle. Flush callbacks
// run outside the lock so new events are never blocked on parsing.
type debouncer struct {
	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	window  time.Duration
	flush   func(paths []string)
}

func newDebouncer(window time.Duration, flush func(paths []string)) *debouncer {
	return &debouncer{
		pending: make(map[string]struct{}),
		window:  window,
		flush:   flush,
	}
}

// Add records a changed path and (re)arms the flush timer.
func (d *debouncer) Add(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[path] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

// fire drains the pending set and invokes the flush callback. Runs on the
// timer goroutine; safe to race with concurrent Add calls.
func (d *debouncer) fire() {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.timer = nil
		d.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(d.pending))
	for p := range d.pending {
		paths = append(paths, p)
	}
	d.pending = make(map[string]struct{})
	d.timer = nil
	d.mu.Unlock()

	d.flush(paths)
}

// Stop cancels any armed timer and drops pending paths.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]struct{})
}
