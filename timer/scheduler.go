package timer

import (
	"time"

	"github.com/katrip/ripd/clock"
)

// Durations bundles the configurable periods driving the scheduler.
// Zero fields fall back to the RFC defaults.
type Durations struct {
	Update       time.Duration // T_update, default 30s
	UpdateJitter time.Duration // +-jitter applied to Update, default 5s; a negative value disables jitter
	Timeout      time.Duration // T_timeout, default 180s
	GC           time.Duration // T_gc, default 120s
	Neighbor     time.Duration // T_neighbor, default 3*Update
}

// WithDefaults fills any zero field with the RFC default.
func (d Durations) WithDefaults() Durations {
	if d.Update == 0 {
		d.Update = 30 * time.Second
	}
	if d.UpdateJitter == 0 {
		d.UpdateJitter = 5 * time.Second
	}
	if d.Timeout == 0 {
		d.Timeout = 180 * time.Second
	}
	if d.GC == 0 {
		d.GC = 120 * time.Second
	}
	if d.Neighbor == 0 {
		d.Neighbor = 3 * d.Update
	}
	return d
}

// Scheduler drives the four table-wide periodic sweeps: the full
// advertisement tick, the route-timeout sweep, the GC sweep, and the
// neighbor-expiry sweep (neighbors are dropped after T_neighbor
// inactivity). T_neighbor is a separate timer class rather than a
// check piggybacked on the update tick, even though it defaults to a
// multiple of T_update, since a reconfigure can change the two
// independently.
//
// Each timer is edge-triggered and idempotent: firing reschedules
// itself for exactly one more interval out, so a missed tick is never
// replayed as a burst.
type Scheduler struct {
	clock clock.Clock
	durs  Durations

	updateTimer   *Timer
	timeoutTimer  *Timer
	gcTimer       *Timer
	neighborTimer *Timer

	stopped bool
}

// Callbacks are invoked by the scheduler when each timer class fires.
// Sweeps must not block on I/O: they never hold the table write path
// across I/O.
type Callbacks struct {
	OnUpdate   func()
	OnTimeout  func()
	OnGC       func()
	OnNeighbor func()
}

// NewScheduler starts all four periodic timers against c.
func NewScheduler(c clock.Clock, durs Durations, cb Callbacks) *Scheduler {
	durs = durs.WithDefaults()
	s := &Scheduler{clock: c, durs: durs}

	s.updateTimer = New(c, Jitter(durs.Update, durs.UpdateJitter), s.fireUpdate(cb))
	s.timeoutTimer = New(c, durs.Timeout, s.fireTimeout(cb))
	s.gcTimer = New(c, durs.GC, s.fireGC(cb))
	s.neighborTimer = New(c, durs.Neighbor, s.fireNeighbor(cb))
	return s
}

func (s *Scheduler) fireUpdate(cb Callbacks) func() {
	return func() {
		if cb.OnUpdate != nil {
			cb.OnUpdate()
		}
		if !s.stopped {
			s.updateTimer.Reset(Jitter(s.durs.Update, s.durs.UpdateJitter))
		}
	}
}

func (s *Scheduler) fireTimeout(cb Callbacks) func() {
	return func() {
		if cb.OnTimeout != nil {
			cb.OnTimeout()
		}
		if !s.stopped {
			s.timeoutTimer.Reset(s.durs.Timeout)
		}
	}
}

func (s *Scheduler) fireGC(cb Callbacks) func() {
	return func() {
		if cb.OnGC != nil {
			cb.OnGC()
		}
		if !s.stopped {
			s.gcTimer.Reset(s.durs.GC)
		}
	}
}

func (s *Scheduler) fireNeighbor(cb Callbacks) func() {
	return func() {
		if cb.OnNeighbor != nil {
			cb.OnNeighbor()
		}
		if !s.stopped {
			s.neighborTimer.Reset(s.durs.Neighbor)
		}
	}
}

// Durations reports the effective (defaulted) durations in use.
func (s *Scheduler) Durations() Durations { return s.durs }

// Stop cancels all four timers. Timer changes that arrive after Stop
// has no effect; a new Scheduler must be created to resume. Timer
// changes take effect at the next scheduled tick; there is no
// retroactive re-ticking.
func (s *Scheduler) Stop() {
	s.stopped = true
	s.updateTimer.Stop()
	s.timeoutTimer.Stop()
	s.gcTimer.Stop()
	s.neighborTimer.Stop()
}

// Reconfigure applies new durations at the next scheduled tick of each
// timer class — it never re-ticks retroactively.
func (s *Scheduler) Reconfigure(durs Durations) {
	s.durs = durs.WithDefaults()
}
