// Package table implements the routing table: a store of Routes keyed
// by (network, mask), sharded by prefix length so longest-prefix-match
// lookup never has to scan the whole table.
//
// An entry is found by narrowing from the most specific candidate mask
// down, and upsert_dynamic returns a tagged outcome documented next to
// the decision that produces it, the way a Decision Process is usually
// laid out for a distance-vector protocol. The shard-by-prefix-length
// layout, rather than a radix trie or a popcount multibit trie, is the
// deliberate choice for this core's scale and mutability profile (see
// DESIGN.md).
package table

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/katrip/ripd/events"
	"github.com/katrip/ripd/route"
)

// UpsertResult tags what upsert_dynamic actually did, per the
// distance-vector Decision Process.
type UpsertResult int

const (
	// Unchanged is not returned by UpsertDynamic: a claim from the
	// incumbent next hop at the installed metric is reported as
	// Refreshed, and an equal claim from another peer as
	// WorsenedByIncumbent.
	Unchanged UpsertResult = iota
	// Installed: no route existed for this prefix; the claim is stored.
	Installed
	// Improved: the claim carries a strictly lower metric than the
	// installed Dynamic route. A different peer's claim replaces the
	// route; the incumbent next hop's claim has its new metric adopted.
	Improved
	// Refreshed: the claim comes from the incumbent's next hop at the
	// installed, reachable metric. Per RFC 2453 §3.9.2 any update from
	// the current next hop resets the timeout; claims from it at a
	// different metric reset it too but are tagged Improved,
	// WorsenedByIncumbent, or Poisoned.
	Refreshed
	// WorsenedByIncumbent covers every "ignore this claim" outcome of
	// the Decision Process: a Direct/Static incumbent outranking a
	// Dynamic claim, a different peer's claim that doesn't beat the
	// incumbent's metric, or a from-incumbent claim whose metric moved
	// up without reaching infinity. In the from-incumbent case the
	// higher metric is adopted and the timeout reset; in the other
	// cases nothing is installed or changed.
	WorsenedByIncumbent
	// Poisoned: the route's metric has reached infinity; it starts
	// garbage collection instead of being removed immediately.
	Poisoned
)

func (r UpsertResult) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Installed:
		return "installed"
	case Improved:
		return "improved"
	case Refreshed:
		return "refreshed"
	case WorsenedByIncumbent:
		return "worsened_by_incumbent"
	case Poisoned:
		return "poisoned"
	default:
		return "unknown"
	}
}

// entry is the table's internal record: the route plus bookkeeping the
// public Route type doesn't need to expose.
type entry struct {
	r route.Route
}

// Table is the router's routing information base. Safe for concurrent
// use; every exported method takes the single lock.
type Table struct {
	mu     sync.RWMutex
	shards [33]map[string]*entry // index by prefix length (ones), key by network string
	bus    *events.Bus
}

// New creates an empty Table. bus may be nil if no subscriber needs
// route-change notifications.
func New(bus *events.Bus) *Table {
	t := &Table{bus: bus}
	for i := range t.shards {
		t.shards[i] = make(map[string]*entry)
	}
	return t
}

func (t *Table) publish(kind events.Kind, r route.Route) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(events.Event{
		Kind:      kind,
		Network:   r.Destination,
		Mask:      r.Mask,
		Metric:    r.Metric,
		NextHop:   r.NextHop,
		Interface: r.Interface,
		Source:    r.Source,
		At:        r.LastUpdated,
	})
}

// InstallDirect installs or refreshes a Direct route for a locally
// configured interface prefix. Direct routes never expire or undergo
// GC; they're removed only by RemoveInterface when the interface is
// unconfigured.
func (t *Table) InstallDirect(dest net.IP, mask net.IPMask, iface string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	canon, m, err := route.Canonicalize(dest, mask)
	if err != nil {
		return
	}
	key := route.KeyOf(canon, m)
	shard := t.shards[key.Ones]

	r := route.Route{
		Destination: canon,
		Mask:        m,
		NextHop:     net.IPv4zero,
		Metric:      1,
		Source:      route.Direct,
		Interface:   iface,
		CreatedAt:   now,
		LastUpdated: now,
	}
	_, existed := shard[key.Network]
	shard[key.Network] = &entry{r: r}
	if existed {
		t.publish(events.Updated, r)
	} else {
		t.publish(events.Added, r)
	}
}

// InstallStatic installs an administratively configured route. Static
// routes, like Direct, never expire or GC. A Direct route for the same
// prefix outranks it and is left in place.
func (t *Table) InstallStatic(dest net.IP, mask net.IPMask, nextHop net.IP, metric int, iface string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	canon, m, err := route.Canonicalize(dest, mask)
	if err != nil {
		return
	}
	key := route.KeyOf(canon, m)
	shard := t.shards[key.Ones]
	if cur, ok := shard[key.Network]; ok && cur.r.Source.Preferred(route.Static) {
		return
	}

	r := route.Route{
		Destination: canon,
		Mask:        m,
		NextHop:     nextHop,
		Metric:      metric,
		Source:      route.Static,
		Interface:   iface,
		CreatedAt:   now,
		LastUpdated: now,
	}
	_, existed := shard[key.Network]
	shard[key.Network] = &entry{r: r}
	if existed {
		t.publish(events.Updated, r)
	} else {
		t.publish(events.Added, r)
	}
}

// UpsertDynamic applies a single route claim learned from a RIP
// response, per the distance-vector Decision Process. learnedFrom is
// the sending peer's address; it becomes the route's next hop when the
// entry's NextHop field in the incoming claim is unspecified.
func (t *Table) UpsertDynamic(dest net.IP, mask net.IPMask, nextHop net.IP, metric int, learnedFrom net.IP, iface string, now time.Time) UpsertResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	canon, m, err := route.Canonicalize(dest, mask)
	if err != nil {
		return WorsenedByIncumbent
	}
	if nextHop == nil || nextHop.Equal(net.IPv4zero) {
		nextHop = learnedFrom
	}
	key := route.KeyOf(canon, m)
	shard := t.shards[key.Ones]
	existing, ok := shard[key.Network]

	if !ok {
		if metric >= route.Infinity {
			// Never install a brand-new route at infinity.
			return WorsenedByIncumbent
		}
		r := route.Route{
			Destination: canon,
			Mask:        m,
			NextHop:     nextHop,
			Metric:      metric,
			Source:      route.Dynamic,
			LearnedFrom: learnedFrom,
			Interface:   iface,
			CreatedAt:   now,
			LastUpdated: now,
		}
		shard[key.Network] = &entry{r: r}
		t.publish(events.Added, r)
		return Installed
	}

	cur := &existing.r

	// Direct/Static always wins over a Dynamic claim for the same prefix.
	if cur.Source.Preferred(route.Dynamic) {
		return WorsenedByIncumbent
	}

	fromIncumbent := cur.LearnedFrom.Equal(learnedFrom) && cur.Interface == iface

	switch {
	case fromIncumbent:
		// RFC 2453 §3.9.2: any update from the current next hop is
		// accepted and resets the timeout, whether the metric improved,
		// stayed the same, or got worse.
		cur.NextHop = nextHop
		cur.Interface = iface
		cur.LastUpdated = now
		if metric == cur.Metric {
			if metric >= route.Infinity {
				// Still unreachable: leave GCStart running so a peer
				// that keeps re-advertising the poison doesn't reset
				// the garbage-collection clock indefinitely.
				return Poisoned
			}
			cur.GCStart = time.Time{}
			return Refreshed
		}
		improved := metric < cur.Metric
		cur.Metric = metric
		if metric >= route.Infinity {
			cur.GCStart = now
			t.publish(events.Poisoned, *cur)
			return Poisoned
		}
		cur.GCStart = time.Time{}
		t.publish(events.Updated, *cur)
		if improved {
			return Improved
		}
		return WorsenedByIncumbent

	case metric < cur.Metric:
		// A strictly better claim from a different peer replaces the
		// incumbent outright.
		cur.NextHop = nextHop
		cur.Metric = metric
		cur.LearnedFrom = learnedFrom
		cur.Interface = iface
		cur.LastUpdated = now
		cur.GCStart = time.Time{}
		t.publish(events.Updated, *cur)
		return Improved

	default:
		return WorsenedByIncumbent
	}
}

// Remove deletes the route for (dest, mask), used by the admin API.
// Direct and Static routes are always deleted immediately. A Dynamic
// route is, by default, removed gracefully: it is poisoned (metric set
// to infinity, GC-start begun, a Poisoned event emitted) so peers are
// told of the withdrawal, and only actually deleted once SweepGC later
// collects it. Pass immediate=true to delete a Dynamic route right
// away instead.
func (t *Table) Remove(dest net.IP, mask net.IPMask, now time.Time, immediate bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	canon, m, err := route.Canonicalize(dest, mask)
	if err != nil {
		return
	}
	key := route.KeyOf(canon, m)
	shard := t.shards[key.Ones]
	e, ok := shard[key.Network]
	if !ok {
		return
	}

	if e.r.Source == route.Dynamic && !immediate {
		if !e.r.Unreachable() {
			e.r.Metric = route.Infinity
			e.r.GCStart = now
			e.r.LastUpdated = now
			t.publish(events.Poisoned, e.r)
		}
		return
	}

	delete(shard, key.Network)
	t.publish(events.Removed, e.r)
}

// RemoveInterface removes every Direct route attached to iface, used
// when a config apply unconfigures an interface.
func (t *Table) RemoveInterface(iface string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, shard := range t.shards {
		for k, e := range shard {
			if e.r.Source == route.Direct && e.r.Interface == iface {
				delete(shard, k)
				t.publish(events.Removed, e.r)
			}
		}
	}
}

// RetractInterface poisons every Dynamic route whose egress interface
// is iface: metric set to infinity, GC-start started, a Poisoned
// event emitted for each. Used when an interface is unconfigured (the
// Direct route for it is also removed, and every Dynamic route learned
// on it must be retracted). A neighbor timeout goes through
// RetractLearnedFrom instead.
func (t *Table) RetractInterface(iface string, now time.Time) []route.Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	var poisoned []route.Route
	for _, shard := range t.shards {
		for _, e := range shard {
			if e.r.Source == route.Dynamic && e.r.Interface == iface && !e.r.Unreachable() {
				e.r.Metric = route.Infinity
				e.r.GCStart = now
				e.r.LastUpdated = now
				t.publish(events.Poisoned, e.r)
				poisoned = append(poisoned, e.r)
			}
		}
	}
	return poisoned
}

// RetractLearnedFrom poisons every Dynamic route whose LearnedFrom
// equals peer, used when that neighbor is evicted for inactivity.
func (t *Table) RetractLearnedFrom(peer net.IP, now time.Time) []route.Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	var poisoned []route.Route
	for _, shard := range t.shards {
		for _, e := range shard {
			if e.r.Source == route.Dynamic && e.r.LearnedFrom.Equal(peer) && !e.r.Unreachable() {
				e.r.Metric = route.Infinity
				e.r.GCStart = now
				e.r.LastUpdated = now
				t.publish(events.Poisoned, e.r)
				poisoned = append(poisoned, e.r)
			}
		}
	}
	return poisoned
}

// CountLearnedFrom reports how many Dynamic routes currently carry
// peer as their LearnedFrom, for the neighbor registry's
// learned_routes bookkeeping.
func (t *Table) CountLearnedFrom(peer net.IP) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, shard := range t.shards {
		for _, e := range shard {
			if e.r.Source == route.Dynamic && e.r.LearnedFrom.Equal(peer) {
				count++
			}
		}
	}
	return count
}

// Lookup performs longest-prefix-match for dest, walking shards from
// the most specific (/32) to the least (/0). Ties within the same
// shard cannot occur (the shard is keyed by canonical network), so no
// further tie-break is needed there.
func (t *Table) Lookup(dest net.IP) (route.Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dest4 := dest.To4()
	if dest4 == nil {
		return route.Route{}, false
	}
	for ones := 32; ones >= 0; ones-- {
		mask := route.MaskFromOnes(ones)
		network := dest4.Mask(mask)
		if e, ok := t.shards[ones][network.String()]; ok {
			return e.r, true
		}
	}
	return route.Route{}, false
}

// AdvertisableOn returns the set of routes to advertise out iface,
// applying split-horizon / poison-reverse: a route learned from a
// neighbor reached through iface is omitted (split horizon) unless
// poisonReverse is set, in which case it is advertised back at
// infinity instead. When splitHorizon is false (rip.split_horizon
// disabled), every route is advertised on every interface exactly as
// stored, regardless of poisonReverse.
func (t *Table) AdvertisableOn(iface string, splitHorizon, poisonReverse bool) []route.Route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []route.Route
	for _, shard := range t.shards {
		for _, e := range shard {
			if r, ok := AdvertiseFilter(e.r, iface, splitHorizon, poisonReverse); ok {
				out = append(out, r)
			}
		}
	}
	sortByPrefixThenAddress(out)
	return out
}

func sortByPrefixThenAddress(rs []route.Route) {
	sort.Slice(rs, func(i, j int) bool {
		oi, _ := rs[i].Mask.Size()
		oj, _ := rs[j].Mask.Size()
		if oi != oj {
			return oi > oj
		}
		return rs[i].Destination.String() < rs[j].Destination.String()
	})
}

// AdvertiseFilter applies split-horizon / poison-reverse to a single
// route for advertisement out iface, returning the route to send
// (possibly with its metric raised to infinity) and whether it should
// be sent at all. It is exported so the triggered-update path can
// apply the same rule to a single changed route without taking a full
// AdvertisableOn snapshot.
func AdvertiseFilter(r route.Route, iface string, splitHorizon, poisonReverse bool) (route.Route, bool) {
	if splitHorizon && r.Source == route.Dynamic && r.Interface == iface {
		if !poisonReverse {
			return route.Route{}, false
		}
		r.Metric = route.Infinity
	}
	return r, true
}

// SweepTimeouts moves every Dynamic route whose LastUpdated is older
// than timeout to the infinity metric and begins garbage collection.
// Returns the routes that were poisoned by this sweep.
func (t *Table) SweepTimeouts(timeout time.Duration, now time.Time) []route.Route {
	t.mu.Lock()
	defer t.mu.Unlock()

	var poisoned []route.Route
	for _, shard := range t.shards {
		for _, e := range shard {
			r := &e.r
			if r.Source != route.Dynamic || r.Unreachable() {
				continue
			}
			if now.Sub(r.LastUpdated) >= timeout {
				r.Metric = route.Infinity
				r.GCStart = now
				t.publish(events.Poisoned, *r)
				poisoned = append(poisoned, *r)
			}
		}
	}
	return poisoned
}

// SweepGC removes every Dynamic route that has carried the infinity
// metric for at least gc since GCStart. Returns the removed routes.
func (t *Table) SweepGC(gc time.Duration, now time.Time) []route.Route {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []route.Route
	for _, shard := range t.shards {
		for k, e := range shard {
			r := e.r
			if r.Source != route.Dynamic || !r.Unreachable() || r.GCStart.IsZero() {
				continue
			}
			if now.Sub(r.GCStart) >= gc {
				delete(shard, k)
				t.publish(events.Removed, r)
				removed = append(removed, r)
			}
		}
	}
	return removed
}

// Stats summarizes the table's current contents for Snapshot.
type Stats struct {
	Total   int
	Direct  int
	Static  int
	Dynamic int
}

// Snapshot returns every route currently installed plus aggregate
// counts, split out by source.
func (t *Table) Snapshot() ([]route.Route, Stats) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var all []route.Route
	var stats Stats
	for _, shard := range t.shards {
		for _, e := range shard {
			all = append(all, e.r)
			stats.Total++
			switch e.r.Source {
			case route.Direct:
				stats.Direct++
			case route.Static:
				stats.Static++
			case route.Dynamic:
				stats.Dynamic++
			}
		}
	}
	sortByPrefixThenAddress(all)
	return all, stats
}
