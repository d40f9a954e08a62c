package timer

import (
	"testing"
	"time"

	"github.com/katrip/ripd/clock"
)

func TestTimerFiresOnce(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	calls := 0
	New(c, 10*time.Second, func() { calls++ })

	c.Advance(9 * time.Second)
	if calls != 0 {
		t.Fatalf("fired early, calls=%d", calls)
	}
	c.Advance(1 * time.Second)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestTimerResetUsesOriginalInterval(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	calls := 0
	tm := New(c, 10*time.Second, func() { calls++ })

	c.Advance(5 * time.Second)
	tm.Reset(0)
	c.Advance(9 * time.Second)
	if calls != 0 {
		t.Fatalf("fired before reset interval elapsed, calls=%d", calls)
	}
	c.Advance(1 * time.Second)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestTimerStopPreventsFiring(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	calls := 0
	tm := New(c, 10*time.Second, func() { calls++ })
	tm.Stop()
	c.Advance(20 * time.Second)
	if calls != 0 {
		t.Fatalf("stopped timer fired, calls=%d", calls)
	}
	if tm.Running() {
		t.Fatalf("expected Running() false after Stop")
	}
}

func TestJitterStaysWithinSpread(t *testing.T) {
	base := 30 * time.Second
	spread := 5 * time.Second
	for i := 0; i < 200; i++ {
		got := Jitter(base, spread)
		if got < base-spread || got > base+spread {
			t.Fatalf("jitter %v outside [%v,%v]", got, base-spread, base+spread)
		}
	}
}

func TestRandBetweenBounds(t *testing.T) {
	lo, hi := time.Second, 5*time.Second
	for i := 0; i < 200; i++ {
		got := RandBetween(lo, hi)
		if got < lo || got > hi {
			t.Fatalf("RandBetween returned %v outside [%v,%v]", got, lo, hi)
		}
	}
}

func TestSchedulerReschedulesAfterFiring(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	updates, timeouts, gcs, neighbors := 0, 0, 0, 0
	NewScheduler(c, Durations{
		Update:       10 * time.Second,
		UpdateJitter: -1, // negative disables jitter; zero would fall back to the 5s default
		Timeout:      40 * time.Second,
		GC:           20 * time.Second,
		Neighbor:     30 * time.Second,
	}, Callbacks{
		OnUpdate:   func() { updates++ },
		OnTimeout:  func() { timeouts++ },
		OnGC:       func() { gcs++ },
		OnNeighbor: func() { neighbors++ },
	})

	c.Advance(10 * time.Second)
	if updates != 1 {
		t.Fatalf("expected 1 update tick, got %d", updates)
	}
	c.Advance(10 * time.Second) // t=20
	if updates != 2 || gcs != 1 {
		t.Fatalf("expected 2 updates/1 gc at t=20, got updates=%d gcs=%d", updates, gcs)
	}
	c.Advance(10 * time.Second) // t=30
	if neighbors != 1 {
		t.Fatalf("expected neighbor sweep at t=30, got %d", neighbors)
	}
	c.Advance(10 * time.Second) // t=40
	if timeouts != 1 {
		t.Fatalf("expected timeout sweep at t=40, got %d", timeouts)
	}
}

func TestSchedulerStopHaltsFurtherTicks(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	updates := 0
	s := NewScheduler(c, Durations{Update: 10 * time.Second, UpdateJitter: -1}, Callbacks{
		OnUpdate: func() { updates++ },
	})
	c.Advance(10 * time.Second)
	s.Stop()
	c.Advance(100 * time.Second)
	if updates != 1 {
		t.Fatalf("expected ticking to stop at 1, got %d", updates)
	}
}

func TestTriggerGateEmitsImmediatelyWhenQuiescent(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	emits := 0
	g := NewTriggerGate(c, time.Second, 5*time.Second, func() { emits++ })
	g.Fire()
	if emits != 1 {
		t.Fatalf("expected immediate emit, got %d", emits)
	}
}

func TestTriggerGateCoalescesDuringWindow(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	emits := 0
	g := NewTriggerGate(c, time.Second, time.Second, func() { emits++ })
	g.Fire()
	g.Fire()
	g.Fire()
	if emits != 1 {
		t.Fatalf("expected only the first trigger to emit immediately, got %d", emits)
	}
	if !g.Pending() {
		t.Fatalf("expected coalesced triggers to be marked pending")
	}
	c.Advance(time.Second)
	if emits != 2 {
		t.Fatalf("expected one coalesced emit after window closed, got %d", emits)
	}
}

func TestTriggerGateClosesWhenNoPendingChanges(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	emits := 0
	g := NewTriggerGate(c, time.Second, time.Second, func() { emits++ })
	g.Fire()
	c.Advance(time.Second)
	if emits != 1 {
		t.Fatalf("expected no coalesced emit with nothing pending, got %d", emits)
	}
	if g.Pending() {
		t.Fatalf("expected gate to be clean after window with no new triggers")
	}

	g.Fire()
	if emits != 2 {
		t.Fatalf("expected a fresh trigger after window close to emit immediately, got %d", emits)
	}
}

func TestTriggerGateStopCancelsWindow(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	emits := 0
	g := NewTriggerGate(c, time.Second, time.Second, func() { emits++ })
	g.Fire()
	g.Fire()
	g.Stop()
	c.Advance(10 * time.Second)
	if emits != 1 {
		t.Fatalf("expected stop to cancel the coalesced emit, got %d", emits)
	}
}
