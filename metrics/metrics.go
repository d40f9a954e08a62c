// Package metrics defines the operational counter surface and two
// implementations: an atomic-backed default usable with no external
// dependency, and a Prometheus-backed one for production wiring.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters is the full set of operational counters the core reports.
// Every method must be safe for concurrent use; the engine increments
// these from the read loop, the scheduler, and request handlers
// without external locking.
type Counters interface {
	PacketsReceived()
	PacketsDropped(reason string)
	ResponsesSent()
	RequestsSent()
	RouteChanges(kind string)
	TriggeredUpdatesSent()
	NeighborsExpired()
	GarbageCollected()
}

// Atomic is a dependency-free Counters implementation backed by
// atomic integers, useful for tests and for running without a metrics
// backend wired in.
type Atomic struct {
	packetsReceived      int64
	packetsDropped       int64
	responsesSent        int64
	requestsSent         int64
	routeChanges         int64
	triggeredUpdatesSent int64
	neighborsExpired     int64
	garbageCollected     int64
}

func (a *Atomic) PacketsReceived()        { atomic.AddInt64(&a.packetsReceived, 1) }
func (a *Atomic) PacketsDropped(_ string)  { atomic.AddInt64(&a.packetsDropped, 1) }
func (a *Atomic) ResponsesSent()          { atomic.AddInt64(&a.responsesSent, 1) }
func (a *Atomic) RequestsSent()           { atomic.AddInt64(&a.requestsSent, 1) }
func (a *Atomic) RouteChanges(_ string)   { atomic.AddInt64(&a.routeChanges, 1) }
func (a *Atomic) TriggeredUpdatesSent()   { atomic.AddInt64(&a.triggeredUpdatesSent, 1) }
func (a *Atomic) NeighborsExpired()       { atomic.AddInt64(&a.neighborsExpired, 1) }
func (a *Atomic) GarbageCollected()       { atomic.AddInt64(&a.garbageCollected, 1) }

// Snapshot is a point-in-time read of every Atomic counter, mainly
// for tests.
type Snapshot struct {
	PacketsReceived      int64
	PacketsDropped       int64
	ResponsesSent        int64
	RequestsSent         int64
	RouteChanges         int64
	TriggeredUpdatesSent int64
	NeighborsExpired     int64
	GarbageCollected     int64
}

func (a *Atomic) Snapshot() Snapshot {
	return Snapshot{
		PacketsReceived:      atomic.LoadInt64(&a.packetsReceived),
		PacketsDropped:       atomic.LoadInt64(&a.packetsDropped),
		ResponsesSent:        atomic.LoadInt64(&a.responsesSent),
		RequestsSent:         atomic.LoadInt64(&a.requestsSent),
		RouteChanges:         atomic.LoadInt64(&a.routeChanges),
		TriggeredUpdatesSent: atomic.LoadInt64(&a.triggeredUpdatesSent),
		NeighborsExpired:     atomic.LoadInt64(&a.neighborsExpired),
		GarbageCollected:     atomic.LoadInt64(&a.garbageCollected),
	}
}

// Prom is a Counters implementation that publishes each counter to a
// prometheus.Registerer, for scraping by an external collector.
type Prom struct {
	packetsReceived      prometheus.Counter
	packetsDropped       *prometheus.CounterVec
	responsesSent        prometheus.Counter
	requestsSent         prometheus.Counter
	routeChanges         *prometheus.CounterVec
	triggeredUpdatesSent prometheus.Counter
	neighborsExpired     prometheus.Counter
	garbageCollected     prometheus.Counter
}

// NewProm builds and registers the ripd counter family under reg.
func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ripd", Name: "packets_received_total",
			Help: "RIP datagrams received on any interface.",
		}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ripd", Name: "packets_dropped_total",
			Help: "RIP datagrams dropped, by reason.",
		}, []string{"reason"}),
		responsesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ripd", Name: "responses_sent_total",
			Help: "RIP response datagrams sent.",
		}),
		requestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ripd", Name: "requests_sent_total",
			Help: "RIP request datagrams sent.",
		}),
		routeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ripd", Name: "route_changes_total",
			Help: "Route table changes, by kind.",
		}, []string{"kind"}),
		triggeredUpdatesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ripd", Name: "triggered_updates_sent_total",
			Help: "Triggered (non-periodic) updates sent.",
		}),
		neighborsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ripd", Name: "neighbors_expired_total",
			Help: "Neighbors evicted for inactivity.",
		}),
		garbageCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ripd", Name: "routes_garbage_collected_total",
			Help: "Routes removed at the end of garbage collection.",
		}),
	}
	reg.MustRegister(p.packetsReceived, p.packetsDropped, p.responsesSent,
		p.requestsSent, p.routeChanges, p.triggeredUpdatesSent,
		p.neighborsExpired, p.garbageCollected)
	return p
}

func (p *Prom) PacketsReceived()             { p.packetsReceived.Inc() }
func (p *Prom) PacketsDropped(reason string) { p.packetsDropped.WithLabelValues(reason).Inc() }
func (p *Prom) ResponsesSent()               { p.responsesSent.Inc() }
func (p *Prom) RequestsSent()                { p.requestsSent.Inc() }
func (p *Prom) RouteChanges(kind string)     { p.routeChanges.WithLabelValues(kind).Inc() }
func (p *Prom) TriggeredUpdatesSent()        { p.triggeredUpdatesSent.Inc() }
func (p *Prom) NeighborsExpired()            { p.neighborsExpired.Inc() }
func (p *Prom) GarbageCollected()            { p.garbageCollected.Inc() }
