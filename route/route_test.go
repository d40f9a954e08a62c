package route

import (
	"net"
	"testing"
)

func TestSourcePreference(t *testing.T) {
	if !Direct.Preferred(Static) {
		t.Errorf("expected Direct to be preferred over Static")
	}
	if !Static.Preferred(Dynamic) {
		t.Errorf("expected Static to be preferred over Dynamic")
	}
	if Dynamic.Preferred(Direct) {
		t.Errorf("expected Dynamic to never be preferred over Direct")
	}
}

func TestKeyOfCanonicalizes(t *testing.T) {
	dest := net.ParseIP("10.0.0.5").To4()
	mask := net.CIDRMask(24, 32)
	k := KeyOf(dest, mask)
	if k.Network != "10.0.0.0" {
		t.Errorf("expected canonical network 10.0.0.0, got %s", k.Network)
	}
	if k.Ones != 24 {
		t.Errorf("expected /24, got /%d", k.Ones)
	}
}

func TestContiguousMask(t *testing.T) {
	if !ContiguousMask(net.CIDRMask(24, 32)) {
		t.Errorf("expected /24 to be contiguous")
	}
	if !ContiguousMask(net.CIDRMask(0, 32)) {
		t.Errorf("expected /0 to be contiguous")
	}
	nonContiguous := net.IPMask{0xff, 0x00, 0xff, 0x00}
	if ContiguousMask(nonContiguous) {
		t.Errorf("expected 255.0.255.0 to be non-contiguous")
	}
}

func TestCanonicalizeRejectsNonContiguous(t *testing.T) {
	dest := net.ParseIP("10.0.0.5")
	nonContiguous := net.IPMask{0xff, 0x00, 0xff, 0x00}
	if _, _, err := Canonicalize(dest, nonContiguous); err == nil {
		t.Errorf("expected an error for a non-contiguous mask")
	}
}

func TestIPUint32RoundTrip(t *testing.T) {
	ip := net.ParseIP("192.168.1.1")
	v := IPToUint32(ip)
	back := Uint32ToIP(v)
	if !back.Equal(ip) {
		t.Errorf("expected round trip %s, got %s", ip, back)
	}
}

func TestUnreachable(t *testing.T) {
	r := &Route{Metric: Infinity}
	if !r.Unreachable() {
		t.Errorf("expected metric 16 to be unreachable")
	}
	r.Metric = 15
	if r.Unreachable() {
		t.Errorf("expected metric 15 to be reachable")
	}
}
