package base

import (
	"sync"
	"time"
)

// ReadTimeoutGuard fails a connection whose response does not arrive in time.
//
// Every outbound flush (re)schedules one timer for the configured duration,
// every complete inbound frame cancels it. If the timer fires first, onTimeout
// is called once and the guard stops. Stop cancels any scheduled timer.
// A zero timeout disables the guard.
type ReadTimeoutGuard struct {
	timeout   time.Duration
	onTimeout func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64 // invalidates timers that fired but lost the race for mu
	stopped bool
}

// NewReadTimeoutGuard creates a guard calling onTimeout when a response is overdue
func NewReadTimeoutGuard(timeout time.Duration, onTimeout func()) *ReadTimeoutGuard {
	return &ReadTimeoutGuard{
		timeout:   timeout,
		onTimeout: onTimeout,
	}
}

// Flushed schedules the timer for an outbound message, replacing any earlier one
func (g *ReadTimeoutGuard) Flushed() {
	if g == nil || g.timeout <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return
	}
	g.cancelLocked()
	gen := g.gen
	g.timer = time.AfterFunc(g.timeout, func() { g.fire(gen) })
}

// Observed cancels the timer after a complete inbound message
func (g *ReadTimeoutGuard) Observed() {
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelLocked()
}

// Stop cancels the timer for good, later flushes are ignored
func (g *ReadTimeoutGuard) Stop() {
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	g.cancelLocked()
}

// Pending reports whether a timer is scheduled
func (g *ReadTimeoutGuard) Pending() bool {
	if g == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timer != nil
}

func (g *ReadTimeoutGuard) cancelLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.gen++
}

func (g *ReadTimeoutGuard) fire(gen uint64) {
	g.mu.Lock()
	if g.stopped || gen != g.gen {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	g.timer = nil
	g.mu.Unlock()

	readTimeouts.Inc()
	g.onTimeout()
}
