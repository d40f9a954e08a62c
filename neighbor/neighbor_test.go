package neighbor

import (
	"net"
	"testing"
	"time"
)

func TestSeenCreatesAndUpdatesNeighbor(t *testing.T) {
	r := New()
	now := time.Unix(0, 0)
	addr := net.ParseIP("10.0.0.2").To4()

	r.Seen(addr, "eth0", now)
	n, ok := r.Get(addr)
	if !ok {
		t.Fatalf("expected neighbor to be present")
	}
	if !n.FirstSeen.Equal(now) || !n.LastSeen.Equal(now) {
		t.Fatalf("unexpected timestamps %+v", n)
	}

	later := now.Add(30 * time.Second)
	r.Seen(addr, "eth0", later)
	n, _ = r.Get(addr)
	if !n.FirstSeen.Equal(now) {
		t.Fatalf("FirstSeen should not change on subsequent Seen calls")
	}
	if !n.LastSeen.Equal(later) {
		t.Fatalf("expected LastSeen to advance to %v, got %v", later, n.LastSeen)
	}
}

func TestSweepEvictsStaleNeighbors(t *testing.T) {
	r := New()
	now := time.Unix(0, 0)
	addr := net.ParseIP("10.0.0.2").To4()
	r.Seen(addr, "eth0", now)

	evicted := r.Sweep(90*time.Second, now.Add(100*time.Second))
	if len(evicted) != 1 || !evicted[0].Equal(addr) {
		t.Fatalf("expected %v to be evicted, got %v", addr, evicted)
	}
	if _, ok := r.Get(addr); ok {
		t.Fatalf("expected neighbor to be removed from registry")
	}
}

func TestSetLearnedRoutes(t *testing.T) {
	r := New()
	now := time.Unix(0, 0)
	addr := net.ParseIP("10.0.0.2").To4()
	r.Seen(addr, "eth0", now)
	r.SetLearnedRoutes(addr, 4)

	n, _ := r.Get(addr)
	if n.LearnedRoutes != 4 {
		t.Fatalf("expected 4 learned routes, got %d", n.LearnedRoutes)
	}
}

func TestAllReturnsEveryNeighbor(t *testing.T) {
	r := New()
	now := time.Unix(0, 0)
	r.Seen(net.ParseIP("10.0.0.2").To4(), "eth0", now)
	r.Seen(net.ParseIP("10.0.0.3").To4(), "eth1", now)

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(all))
	}
}
