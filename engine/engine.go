// Package engine is the protocol engine: it wires the table, neighbor
// registry, interface sockets, and timer scheduler together, applies
// the distance-vector decision rules to inbound datagrams, and
// generates periodic and triggered advertisements. Task supervision
// uses golang.org/x/sync/errgroup rather than a hand-rolled
// WaitGroup/done-channel, since the engine needs the first failing
// task to cancel every other one.
package engine

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/katrip/ripd/clock"
	"github.com/katrip/ripd/config"
	"github.com/katrip/ripd/events"
	"github.com/katrip/ripd/ifacemgr"
	"github.com/katrip/ripd/metrics"
	"github.com/katrip/ripd/neighbor"
	"github.com/katrip/ripd/ripdutil"
	"github.com/katrip/ripd/route"
	"github.com/katrip/ripd/table"
	"github.com/katrip/ripd/timer"
	"github.com/katrip/ripd/wire"
)

// triggerHoldoffMin and triggerHoldoffMax bound the per-interface
// T_trig_supp jittered holdoff window (RFC 2453 §3.10.1).
const (
	triggerHoldoffMin = 1 * time.Second
	triggerHoldoffMax = 5 * time.Second
)

// routeTimeout is T_timeout: fixed at 180s and, unlike UpdateInterval
// and GarbageCollectionTimeout, not part of the configuration surface.
const routeTimeout = 180 * time.Second

// Engine is the running RIPv2 core: one Table, one neighbor Registry,
// a set of bound interfaces, and the timers that drive them.
type Engine struct {
	logger   *zap.Logger
	counters metrics.Counters
	clock    clock.Clock

	tbl       *table.Table
	neighbors *neighbor.Registry
	ifaces    *ifacemgr.Manager
	bus       *events.Bus
	scheduler *timer.Scheduler

	mu         sync.Mutex
	runningCfg config.Snapshot
	ifaceCIDR  map[string]string
	ifaceCost  map[string]int
	sendMu     map[string]*sync.Mutex
	gates      map[string]*timer.TriggerGate
	dirty      map[string]map[route.Key]route.Route
}

// New creates an idle Engine with no interfaces configured. Call Run
// to apply initialCfg and start serving.
func New(logger *zap.Logger, counters metrics.Counters, clk clock.Clock) *Engine {
	bus := &events.Bus{}
	return &Engine{
		logger:    logger,
		counters:  counters,
		clock:     clk,
		tbl:       table.New(bus),
		neighbors: neighbor.New(),
		ifaces:    ifacemgr.NewManager(520),
		bus:       bus,
		ifaceCIDR: make(map[string]string),
		ifaceCost: make(map[string]int),
		sendMu:    make(map[string]*sync.Mutex),
		gates:     make(map[string]*timer.TriggerGate),
		dirty:     make(map[string]map[route.Key]route.Route),
	}
}

// Table exposes the routing table for an admin surface's lookup and
// snapshot calls.
func (e *Engine) Table() *table.Table { return e.tbl }

// Neighbors exposes the neighbor registry for diagnostics.
func (e *Engine) Neighbors() *neighbor.Registry { return e.neighbors }

// Subscribe returns a channel of route-change events for an external
// observer.
func (e *Engine) Subscribe() <-chan events.Event { return e.bus.Subscribe() }

// Run applies initialCfg and blocks until ctx is canceled, then stops
// the timers, closes every interface, and waits for the event consumer
// and the receive loops to exit. A receive loop that hits a socket
// error ends without returning an error, so it does not stop the
// engine.
func (e *Engine) Run(ctx context.Context, initialCfg config.Snapshot) error {
	g, ctx := errgroup.WithContext(ctx)

	e.mu.Lock()
	e.scheduler = timer.NewScheduler(e.clock, timer.Durations{
		Update: initialCfg.UpdateInterval,
		GC:     initialCfg.GarbageCollectionTimeout,
	}, timer.Callbacks{
		OnUpdate:   e.onUpdateTick,
		OnTimeout:  e.onTimeoutTick,
		OnGC:       e.onGCTick,
		OnNeighbor: e.onNeighborTick,
	})
	e.mu.Unlock()

	sub := e.bus.Subscribe()
	g.Go(func() error {
		e.consumeEvents(ctx, sub)
		return nil
	})

	if err := e.ApplyConfig(ctx, g, initialCfg); err != nil {
		return err
	}

	<-ctx.Done()
	e.scheduler.Stop()
	e.bus.Unsubscribe(sub)
	e.ifaces.CloseAll()
	return g.Wait()
}

// ApplyConfig applies next atomically from the caller's perspective:
// tear down removed and changed interfaces, bring up added and changed
// interfaces, then reconfigure the timers if their durations changed.
// g is the errgroup that owns the engine's background tasks; newly
// added interfaces' receive loops are registered on it so Run's final
// Wait covers them too.
func (e *Engine) ApplyConfig(ctx context.Context, g *errgroup.Group, next config.Snapshot) error {
	e.mu.Lock()
	old := e.runningCfg
	e.mu.Unlock()

	diff := config.Compare(old, next)
	now := e.clock.Now()

	if next.InfinityMetric != 0 && next.InfinityMetric != route.Infinity {
		e.logger.Warn("configured infinity_metric is not RFC-compliant; ignoring, protocol infinity stays 16",
			zap.Uint32("configured", next.InfinityMetric))
	}
	if old.RouterID != "" && next.RouterID != old.RouterID {
		e.logger.Warn("router_id changed; routing table is not reset", zap.String("old", old.RouterID), zap.String("new", next.RouterID))
	}

	for _, ifc := range diff.RemovedInterfaces {
		e.teardownInterface(ifc.Name, now)
	}
	for _, ifc := range diff.ChangedInterfaces {
		// Treated as teardown-then-rebind: the CIDR, enable flag, or cost
		// changed, so stale state (bound socket, Direct route, dynamic
		// routes learned through the old binding) must not survive.
		e.teardownInterface(ifc.Name, now)
	}
	for _, ifc := range append(diff.AddedInterfaces, diff.ChangedInterfaces...) {
		if !ifc.Enabled {
			continue
		}
		if err := e.bringUpInterface(ctx, g, ifc, now); err != nil {
			e.logger.Warn("failed to bring up interface; skipping", zap.String("iface", ifc.Name), zap.Error(err))
		}
	}

	if diff.TimersChanged {
		e.scheduler.Reconfigure(timer.Durations{
			Update: next.UpdateInterval,
			GC:     next.GarbageCollectionTimeout,
		})
	}

	e.mu.Lock()
	e.runningCfg = next
	e.mu.Unlock()
	return nil
}

func (e *Engine) bringUpInterface(ctx context.Context, g *errgroup.Group, ifc config.InterfaceConfig, now time.Time) error {
	dest, mask, err := parseCIDR(ifc.CIDR)
	if err != nil {
		return err
	}

	e.mu.Lock()
	port := int(e.runningCfg.Port)
	e.mu.Unlock()
	if port == 0 {
		port = 520
	}

	if _, err := e.ifaces.AddInterface(ifc.Name); err != nil {
		return err
	}

	cost := ifc.Cost
	if cost <= 0 {
		cost = 1
	}

	e.mu.Lock()
	e.ifaceCIDR[ifc.Name] = ifc.CIDR
	e.ifaceCost[ifc.Name] = cost
	e.sendMu[ifc.Name] = &sync.Mutex{}
	e.dirty[ifc.Name] = make(map[route.Key]route.Route)
	e.gates[ifc.Name] = timer.NewTriggerGate(e.clock, triggerHoldoffMin, triggerHoldoffMax, func() {
		e.flushTriggered(ifc.Name)
	})
	e.mu.Unlock()

	e.tbl.InstallDirect(dest, mask, ifc.Name, now)

	g.Go(func() error {
		e.receiveLoop(ctx, ifc.Name)
		return nil
	})
	return nil
}

func (e *Engine) teardownInterface(name string, now time.Time) {
	e.mu.Lock()
	gate := e.gates[name]
	delete(e.gates, name)
	delete(e.ifaceCIDR, name)
	delete(e.ifaceCost, name)
	delete(e.sendMu, name)
	delete(e.dirty, name)
	e.mu.Unlock()

	if gate != nil {
		gate.Stop()
	}
	e.ifaces.RemoveInterface(name)
	e.tbl.RemoveInterface(name)
	e.tbl.RetractInterface(name, now)
}

func parseCIDR(cidr string) (net.IP, net.IPMask, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, nil, err
	}
	return ip.To4(), ipnet.Mask, nil
}

// receiveLoop reads datagrams off iface until the link is closed or
// ctx is canceled.
func (e *Engine) receiveLoop(ctx context.Context, iface string) {
	for {
		link, ok := e.ifaces.Get(iface)
		if !ok {
			return
		}
		dg, err := link.Receive()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			e.logger.Debug("receive ended", zap.String("iface", iface), zap.Error(err))
			return
		}
		e.counters.PacketsReceived()
		e.handleDatagram(iface, dg)
	}
}

func (e *Engine) handleDatagram(iface string, dg ifacemgr.Datagram) {
	now := e.clock.Now()
	d, err := wire.Decode(dg.Payload)
	if err != nil {
		reason := "malformed"
		var rerr *ripdutil.Error
		if errors.As(err, &rerr) && rerr.Kind == ripdutil.KindWireSemantic {
			reason = "semantic"
		}
		e.logger.Warn("dropping datagram", zap.String("iface", iface), zap.String("reason", reason), zap.Error(err))
		e.counters.PacketsDropped(reason)
		return
	}
	e.neighbors.Seen(dg.Source, iface, now)

	switch d.Command {
	case wire.CommandResponse:
		e.handleResponse(iface, dg.Source, d, now)
	case wire.CommandRequest:
		e.handleRequest(iface, dg.Source, d, now)
	}
}

// handleResponse applies the distance-vector Decision Process to every
// entry of a received Response.
func (e *Engine) handleResponse(iface string, peer net.IP, d *wire.Datagram, now time.Time) {
	e.mu.Lock()
	cost := e.ifaceCost[iface]
	e.mu.Unlock()
	if cost <= 0 {
		cost = 1
	}

	for _, ent := range d.Entries {
		metric := int(ent.Metric) + cost
		if metric > route.Infinity {
			metric = route.Infinity
		}
		res := e.tbl.UpsertDynamic(ent.IPAddress, ent.SubnetMask, ent.NextHop, metric, peer, iface, now)
		e.counters.RouteChanges(res.String())
	}
	e.neighbors.SetLearnedRoutes(peer, e.tbl.CountLearnedFrom(peer))
}

// handleRequest answers a Request: request-all gets the full
// advertisable set for the arrival interface; a specific request is
// answered entry-by-entry with the current metric or infinity.
func (e *Engine) handleRequest(iface string, peer net.IP, d *wire.Datagram, now time.Time) {
	e.mu.Lock()
	cfg := e.runningCfg
	e.mu.Unlock()

	if wire.IsRequestAll(d) {
		routes := e.tbl.AdvertisableOn(iface, cfg.SplitHorizon, cfg.PoisonReverse)
		e.sendRoutesTo(iface, peer, routes)
		return
	}

	entries := make([]wire.Entry, 0, len(d.Entries))
	for _, ent := range d.Entries {
		metric := route.Infinity
		if r, ok := e.tbl.Lookup(ent.IPAddress); ok {
			metric = r.Metric
		}
		entries = append(entries, wire.Entry{
			AddressFamily: wire.AddressFamilyIPv4,
			IPAddress:     ent.IPAddress,
			SubnetMask:    ent.SubnetMask,
			NextHop:       net.IPv4zero,
			Metric:        uint32(metric),
		})
	}
	e.sendEntriesTo(iface, peer, entries)
}

// consumeEvents drains the table's event bus and schedules triggered
// updates for every interface a change is visible on.
func (e *Engine) consumeEvents(ctx context.Context, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			e.onRouteEvent(ev)
		}
	}
}

// onRouteEvent schedules an immediate out-of-band update for any
// metric-increasing change, poisoning, or new install. Removed events
// never trigger an update: RIP has no withdrawal
// message, only poisoning, so a route leaving the table after GC has
// already been advertised at infinity for a full GC period.
func (e *Engine) onRouteEvent(ev events.Event) {
	if ev.Kind == events.Removed {
		return
	}
	r := route.Route{
		Destination: ev.Network,
		Mask:        ev.Mask,
		NextHop:     ev.NextHop,
		Metric:      ev.Metric,
		Source:      ev.Source,
		Interface:   ev.Interface,
	}

	e.mu.Lock()
	cfg := e.runningCfg
	ifaces := make([]string, 0, len(e.ifaceCIDR))
	for name := range e.ifaceCIDR {
		ifaces = append(ifaces, name)
	}
	e.mu.Unlock()

	for _, iface := range ifaces {
		filtered, ok := table.AdvertiseFilter(r, iface, cfg.SplitHorizon, cfg.PoisonReverse)
		if !ok {
			continue
		}
		e.markDirty(iface, filtered)
		e.mu.Lock()
		gate := e.gates[iface]
		e.mu.Unlock()
		if gate != nil {
			gate.Fire()
		}
	}
}

func (e *Engine) markDirty(iface string, r route.Route) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.dirty[iface]
	if !ok {
		return
	}
	set[r.Key()] = r
}

// flushTriggered is the TriggerGate emit callback for iface: it drains
// the accumulated dirty set and sends exactly one coalesced update
// containing only the changed entries.
func (e *Engine) flushTriggered(iface string) {
	e.mu.Lock()
	set := e.dirty[iface]
	e.dirty[iface] = make(map[route.Key]route.Route)
	e.mu.Unlock()

	if len(set) == 0 {
		return
	}
	routes := make([]route.Route, 0, len(set))
	for _, r := range set {
		routes = append(routes, r)
	}
	sortRoutes(routes)
	e.sendRoutesMulticast(iface, routes)
	e.counters.TriggeredUpdatesSent()
}

// onUpdateTick sends the full periodic advertisement on every
// configured interface, with jitter already applied by the scheduler.
func (e *Engine) onUpdateTick() {
	e.mu.Lock()
	cfg := e.runningCfg
	ifaces := make([]string, 0, len(e.ifaceCIDR))
	for name := range e.ifaceCIDR {
		ifaces = append(ifaces, name)
	}
	e.mu.Unlock()

	for _, iface := range ifaces {
		routes := e.tbl.AdvertisableOn(iface, cfg.SplitHorizon, cfg.PoisonReverse)
		e.sendRoutesMulticast(iface, routes)
	}
}

func (e *Engine) onTimeoutTick() {
	e.tbl.SweepTimeouts(routeTimeout, e.clock.Now())
}

func (e *Engine) onGCTick() {
	e.mu.Lock()
	gc := e.runningCfg.GarbageCollectionTimeout
	e.mu.Unlock()
	removed := e.tbl.SweepGC(gc, e.clock.Now())
	for range removed {
		e.counters.GarbageCollected()
	}
}

func (e *Engine) onNeighborTick() {
	now := e.clock.Now()
	e.mu.Lock()
	timeout := 3 * e.runningCfg.UpdateInterval
	e.mu.Unlock()
	evicted := e.neighbors.Sweep(timeout, now)
	for _, addr := range evicted {
		e.counters.NeighborsExpired()
		e.tbl.RetractLearnedFrom(addr, now)
	}
}

// sendRoutesMulticast advertises routes out iface to the RIP
// multicast group.
func (e *Engine) sendRoutesMulticast(iface string, routes []route.Route) {
	entries := make([]wire.Entry, 0, len(routes))
	for _, r := range routes {
		entries = append(entries, wire.Entry{
			AddressFamily: wire.AddressFamilyIPv4,
			IPAddress:     r.Destination,
			SubnetMask:    r.Mask,
			NextHop:       r.NextHop,
			Metric:        uint32(r.Metric),
		})
	}
	e.mu.Lock()
	port := int(e.runningCfg.Port)
	e.mu.Unlock()
	if port == 0 {
		port = 520
	}
	e.sendChunked(iface, ifacemgr.RIPMulticastGroup, port, entries, true)
}

func (e *Engine) sendRoutesTo(iface string, dst net.IP, routes []route.Route) {
	entries := make([]wire.Entry, 0, len(routes))
	for _, r := range routes {
		entries = append(entries, wire.Entry{
			AddressFamily: wire.AddressFamilyIPv4,
			IPAddress:     r.Destination,
			SubnetMask:    r.Mask,
			NextHop:       r.NextHop,
			Metric:        uint32(r.Metric),
		})
	}
	e.sendEntriesTo(iface, dst, entries)
}

func (e *Engine) sendEntriesTo(iface string, dst net.IP, entries []wire.Entry) {
	e.mu.Lock()
	port := int(e.runningCfg.Port)
	e.mu.Unlock()
	if port == 0 {
		port = 520
	}
	e.sendChunked(iface, dst, port, entries, false)
}

// sendChunked packs entries into datagrams of at most 25 entries and
// sends each one, serialized per interface so a periodic and a
// triggered advertisement for the same interface never overlap in
// flight.
func (e *Engine) sendChunked(iface string, dst net.IP, port int, entries []wire.Entry, isResponse bool) {
	if len(entries) == 0 {
		return
	}
	link, ok := e.ifaces.Get(iface)
	if !ok {
		return
	}
	e.mu.Lock()
	mu := e.sendMu[iface]
	e.mu.Unlock()
	if mu == nil {
		mu = &sync.Mutex{}
	}
	mu.Lock()
	defer mu.Unlock()

	const maxEntriesPerDatagram = 25
	for start := 0; start < len(entries); start += maxEntriesPerDatagram {
		end := start + maxEntriesPerDatagram
		if end > len(entries) {
			end = len(entries)
		}
		d := &wire.Datagram{Command: wire.CommandResponse, Entries: entries[start:end]}
		payload, err := wire.Encode(d)
		if err != nil {
			e.logger.Error("failed to encode outbound datagram", zap.String("iface", iface), zap.Error(err))
			continue
		}
		if err := link.Send(payload, dst, port); err != nil {
			e.logger.Warn("send failed", zap.String("iface", iface), zap.Error(err))
			e.counters.PacketsDropped("send_error")
			continue
		}
		if isResponse {
			e.counters.ResponsesSent()
		}
	}
}

func sortRoutes(rs []route.Route) {
	sort.Slice(rs, func(i, j int) bool {
		oi, _ := rs[i].Mask.Size()
		oj, _ := rs[j].Mask.Size()
		if oi != oj {
			return oi > oj
		}
		return rs[i].Destination.String() < rs[j].Destination.String()
	})
}
