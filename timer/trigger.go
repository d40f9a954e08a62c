package timer

import (
	"sync"
	"time"

	"github.com/katrip/ripd/clock"
)

// TriggerGate implements the per-interface triggered-update suppression
// and coalescing window: a deadline plus a pending-change flag. It
// sleeps until the deadline then drains pending changes; changes
// arriving during sleep set the flag without waking the task.
//
// The first trigger after a quiet period fires immediately and opens a
// suppression window of U(1,5)s (RFC 2453 §3.10.1's jittered holdoff
// against update storms). Any trigger arriving during the window is
// coalesced: it does not fire early, it only marks the window dirty.
// When the window elapses, a dirty gate fires once more and reopens a
// fresh window; a clean gate simply closes until the next trigger.
type TriggerGate struct {
	mu      sync.Mutex
	clock   clock.Clock
	lo, hi  time.Duration
	emit    func()
	timer   *Timer
	open    bool // suppression window currently running
	pending bool // a trigger arrived during the window, not yet emitted
}

// NewTriggerGate creates a gate that calls emit to send a triggered
// update and holds a suppression window sampled uniformly from
// [lo, hi] after every emission.
func NewTriggerGate(c clock.Clock, lo, hi time.Duration, emit func()) *TriggerGate {
	return &TriggerGate{clock: c, lo: lo, hi: hi, emit: emit}
}

// Fire reports a route change ready for advertisement. If the gate is
// quiescent it emits immediately and opens a suppression window;
// otherwise it marks the window dirty so a single coalesced update is
// sent when the window closes.
func (g *TriggerGate) Fire() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.open {
		g.open = true
		g.pending = false
		g.timer = New(g.clock, RandBetween(g.lo, g.hi), g.onWindowClose)
		g.emitLocked()
		return
	}
	g.pending = true
}

func (g *TriggerGate) onWindowClose() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.pending {
		g.open = false
		return
	}
	g.pending = false
	g.timer = New(g.clock, RandBetween(g.lo, g.hi), g.onWindowClose)
	g.emitLocked()
}

func (g *TriggerGate) emitLocked() {
	emit := g.emit
	g.mu.Unlock()
	emit()
	g.mu.Lock()
}

// Stop cancels any in-flight suppression window without emitting a
// final coalesced update. Used when the interface owning this gate is
// torn down during reconfiguration.
func (g *TriggerGate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
	}
	g.open = false
	g.pending = false
}

// Pending reports whether a coalesced update is waiting for the
// suppression window to close.
func (g *TriggerGate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}
