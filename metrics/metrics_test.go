package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestAtomicSnapshotCounts(t *testing.T) {
	a := &Atomic{}
	a.PacketsReceived()
	a.PacketsReceived()
	a.PacketsDropped("wire_malformed")
	a.RouteChanges("improved")
	a.TriggeredUpdatesSent()

	snap := a.Snapshot()
	if snap.PacketsReceived != 2 {
		t.Fatalf("expected 2 packets received, got %d", snap.PacketsReceived)
	}
	if snap.PacketsDropped != 1 {
		t.Fatalf("expected 1 packet dropped, got %d", snap.PacketsDropped)
	}
	if snap.RouteChanges != 1 || snap.TriggeredUpdatesSent != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestPromRegistersAndIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)
	p.PacketsReceived()
	p.RouteChanges("poisoned")

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]float64{}
	for _, mf := range metricFamilies {
		for _, m := range mf.GetMetric() {
			found[mf.GetName()] += counterValue(m)
		}
	}
	if found["ripd_packets_received_total"] != 1 {
		t.Fatalf("expected packets_received_total=1, got %v", found["ripd_packets_received_total"])
	}
	if found["ripd_route_changes_total"] != 1 {
		t.Fatalf("expected route_changes_total=1, got %v", found["ripd_route_changes_total"])
	}
}

func counterValue(m *dto.Metric) float64 {
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	return 0
}
