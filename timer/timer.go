// Package timer implements the four periodic timer classes and the
// per-interface triggered-update suppression gate.
//
// Wraps time.AfterFunc plus Reset/Stop/Running bookkeeping, generalized
// to take a clock.Clock so the scheduler can be driven deterministically
// in tests instead of sleeping for real.
package timer

import (
	"math/rand"
	"sync"
	"time"

	"github.com/katrip/ripd/clock"
)

// Timer is a cancelable, resettable one-shot callback, the building
// block every periodic class below is made of.
type Timer struct {
	mu       sync.Mutex
	clock    clock.Clock
	inner    clock.Timer
	interval time.Duration
	running  bool
}

// New creates a Timer that calls f once after d elapses on c.
func New(c clock.Clock, d time.Duration, f func()) *Timer {
	t := &Timer{clock: c, interval: d, running: true}
	t.inner = c.AfterFunc(d, t.wrap(f))
	return t
}

func (t *Timer) wrap(f func()) func() {
	return func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		f()
	}
}

// Reset restarts the timer with a new duration (or, if d == 0, the
// duration it was last started with).
func (t *Timer) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d == 0 {
		d = t.interval
	}
	t.interval = d
	t.running = true
	t.inner.Reset(d)
}

// Stop cancels the timer; it is safe to call even if already fired.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inner.Stop()
	t.running = false
}

// Running reports whether the timer is currently counting down.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Jitter returns d adjusted by a uniform random amount in [-spread, +spread].
// Used for T_update's +-5s cross-router desync jitter.
func Jitter(d, spread time.Duration) time.Duration {
	if spread <= 0 {
		return d
	}
	delta := time.Duration(rand.Int63n(int64(2*spread))) - spread
	result := d + delta
	if result < 0 {
		return 0
	}
	return result
}

// RandBetween returns a uniformly random duration in [lo, hi], used for
// T_trig_supp's U(1,5)s holdoff window.
func RandBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}
