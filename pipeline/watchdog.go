package pipeline

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStalled is the cause of a run cancelled because no record made
// progress within the stall timeout.
var ErrStalled = errors.New("run stalled: no progress within the stall timeout")

// Watchdog calls its stall function once when no record is scanned or
// written for a whole timeout. Every Kick counts one step of progress and
// restarts the clock. A timeout <= 0 disables it.
type Watchdog struct {
	timeout  time.Duration
	stall    func()
	log      *slog.Logger
	mu       sync.Mutex
	timer    *time.Timer
	progress int64
	fired    bool
}

// NewWatchdog starts a watchdog. stall runs on its own goroutine.
func NewWatchdog(timeout time.Duration, log *slog.Logger, stall func()) *Watchdog {
	if log == nil {
		log = slog.Default()
	}
	w := &Watchdog{timeout: timeout, stall: stall, log: log}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, w.fire)
	}
	return w
}

// Kick records progress and restarts the timeout.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.progress++
	if w.timer == nil || w.fired {
		return
	}
	w.timer.Reset(w.timeout)
}

// Stop disarms the watchdog. The stall function will not run afterwards
// unless it already started.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
}

// Progress returns the number of Kicks so far.
func (w *Watchdog) Progress() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.fired {
		w.mu.Unlock()
		return
	}
	w.fired = true
	progress := w.progress
	w.mu.Unlock()

	w.log.Warn("no progress within stall timeout, cancelling run", "timeout", w.timeout, "progress", progress)
	if w.stall != nil {
		w.stall()
	}
}
