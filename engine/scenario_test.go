package engine

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katrip/ripd/clock"
	"github.com/katrip/ripd/config"
	"github.com/katrip/ripd/ifacemgr"
	"github.com/katrip/ripd/route"
	"github.com/katrip/ripd/wire"
)

// These exercise end-to-end protocol behavior against a bare Engine
// (no real sockets), driving handleDatagram/handleResponse directly
// and advancing a fake clock instead of sleeping for real.

func TestLearnsRouteAdvertisedByDirectlyConnectedPeer(t *testing.T) {
	e, _ := testEngine(t, "eth1", config.Default())

	// R1 advertises its directly connected 10.0.0.0/24 at metric 1; R2's
	// eth1 has interface cost 1, so the learned route should land at
	// metric 2, next hop the advertising peer.
	e.handleDatagram("eth1", ifacemgr.Datagram{
		Source: mustIP("10.1.0.1"),
		Payload: mustEncode(t, &wire.Datagram{Command: wire.CommandResponse, Entries: []wire.Entry{{
			AddressFamily: wire.AddressFamilyIPv4,
			IPAddress:     mustIP("10.0.0.0"),
			SubnetMask:    net.CIDRMask(24, 32),
			NextHop:       net.IPv4zero,
			Metric:        1,
		}}}),
	})

	r, ok := e.tbl.Lookup(mustIP("10.0.0.5"))
	require.True(t, ok)
	require.Equal(t, 2, r.Metric)
	require.True(t, r.NextHop.Equal(mustIP("10.1.0.1")))
	require.Equal(t, "eth1", r.Interface)
}

func TestRouteIsPoisonedOnTimeoutThenGarbageCollectedAfterGCWindow(t *testing.T) {
	e, _ := testEngine(t, "eth1", config.Default())
	now := e.clock.Now()
	e.tbl.UpsertDynamic(mustIP("10.0.0.0"), net.CIDRMask(24, 32), mustIP("10.1.0.1"), 2, mustIP("10.1.0.1"), "eth1", now)

	fake := e.clock.(*clock.Fake)
	fake.Advance(180 * time.Second) // T_timeout elapses with no refresh
	e.onTimeoutTick()

	r, ok := e.tbl.Lookup(mustIP("10.0.0.5"))
	require.True(t, ok)
	require.Equal(t, route.Infinity, r.Metric)
	require.False(t, r.GCStart.IsZero())

	fake.Advance(120 * time.Second) // T_gc elapses since GCStart
	e.onGCTick()

	_, ok = e.tbl.Lookup(mustIP("10.0.0.5"))
	require.False(t, ok, "expected the route to be fully removed after the GC window")
}

func TestBetterRouteFromDifferentPeerReplacesIncumbent(t *testing.T) {
	e, _ := testEngine(t, "eth0", config.Default())
	e.ifaceCost["eth1"] = 1
	now := e.clock.Now()

	e.tbl.UpsertDynamic(mustIP("10.2.0.0"), net.CIDRMask(16, 32), mustIP("10.0.0.1"), 5, mustIP("10.0.0.1"), "eth0", now)
	e.tbl.UpsertDynamic(mustIP("10.2.0.0"), net.CIDRMask(16, 32), mustIP("10.1.0.1"), 3, mustIP("10.1.0.1"), "eth1", now)

	r, ok := e.tbl.Lookup(mustIP("10.2.0.0"))
	require.True(t, ok)
	require.Equal(t, 3, r.Metric)
	require.True(t, r.NextHop.Equal(mustIP("10.1.0.1")))
}

func TestMalformedDatagramIsDroppedAndTableIsUntouched(t *testing.T) {
	e, counters := testEngine(t, "eth1", config.Default())
	e.tbl.InstallDirect(mustIP("10.0.0.0"), net.CIDRMask(24, 32), "eth1", e.clock.Now())
	before, _ := e.tbl.Snapshot()

	// version=1 instead of 2: a WireMalformed header.
	payload := mustEncode(t, &wire.Datagram{Command: wire.CommandResponse, Entries: []wire.Entry{{
		AddressFamily: wire.AddressFamilyIPv4,
		IPAddress:     mustIP("172.16.0.0"),
		SubnetMask:    net.CIDRMask(24, 32),
		NextHop:       net.IPv4zero,
		Metric:        1,
	}}})
	payload[1] = 1 // corrupt version
	e.handleDatagram("eth1", ifacemgr.Datagram{Source: mustIP("10.1.0.1"), Payload: payload})

	after, _ := e.tbl.Snapshot()
	require.Equal(t, len(before), len(after))
	require.EqualValues(t, 1, counters.Snapshot().PacketsDropped)
}

func TestStaticRouteOverridesLearnedDynamicRoute(t *testing.T) {
	e, _ := testEngine(t, "eth1", config.Default())
	now := e.clock.Now()
	e.tbl.UpsertDynamic(mustIP("10.0.0.0"), net.CIDRMask(24, 32), mustIP("10.1.0.1"), 2, mustIP("10.1.0.1"), "eth1", now)

	e.tbl.InstallStatic(mustIP("10.0.0.0"), net.CIDRMask(24, 32), mustIP("10.9.0.1"), 5, "eth2", now)

	r, ok := e.tbl.Lookup(mustIP("10.0.0.5"))
	require.True(t, ok)
	require.Equal(t, route.Static, r.Source)
	require.Equal(t, 5, r.Metric)
}

func mustEncode(t *testing.T, d *wire.Datagram) []byte {
	t.Helper()
	b, err := wire.Encode(d)
	require.NoError(t, err)
	return b
}
