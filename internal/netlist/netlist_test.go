package netlist

import (
	"net/netip"
	"testing"
)

func TestParseCIDRListMixed(t *testing.T) {
	list, err := ParseCIDRList("192.0.2.0/24, 2001:db8::1; 203.0.113.5")
	if err != nil {
		t.Fatalf("ParseCIDRList: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d entries, want 3", len(list))
	}

	if !list.Match(netip.MustParseAddr("192.0.2.17")) {
		t.Error("expected 192.0.2.17 to match 192.0.2.0/24")
	}
	if !list.Match(netip.MustParseAddr("2001:db8::1")) {
		t.Error("expected exact v6 match")
	}
	if !list.Match(netip.MustParseAddr("192.0.2.18")) {
		t.Error("expected 192.0.2.18 (still inside /24) to match")
	}
	if list.Match(netip.MustParseAddr("198.51.100.1")) {
		t.Error("did not expect 198.51.100.1 to match")
	}
}

func TestMatchIPv4MappedIPv6(t *testing.T) {
	list, err := ParseCIDRList("192.0.2.1")
	if err != nil {
		t.Fatalf("ParseCIDRList: %v", err)
	}
	mapped := netip.MustParseAddr("::ffff:192.0.2.1")
	if !list.Match(mapped) {
		t.Error("expected IPv4-mapped IPv6 address to match its IPv4 entry")
	}
}

func TestDomainListCaseInsensitive(t *testing.T) {
	list := ParseDomainList("Forest.Example, River.Example")
	if !list.Match("forest.example") {
		t.Error("expected case-insensitive domain match")
	}
	if list.Match("mountain.example") {
		t.Error("did not expect a match")
	}
}

func TestLoopbackList(t *testing.T) {
	if !Loopback.Match(netip.MustParseAddr("127.0.0.1")) {
		t.Error("expected 127.0.0.1 to match Loopback")
	}
	if !Loopback.Match(netip.MustParseAddr("::1")) {
		t.Error("expected ::1 to match Loopback")
	}
}
