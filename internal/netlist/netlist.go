// Package netlist parses and matches the comma/semicolon/space-separated
// IP-network and domain allow-lists accepted by several hashcash-milter
// flags (spec.md §6's address and domain lists), on top of net/netip.
package netlist

import (
	"fmt"
	"net/netip"
	"strings"
)

// CIDRList is a parsed list of IP network prefixes.
type CIDRList []netip.Prefix

// ParseCIDRList parses a comma/semicolon/space-separated list of IP
// addresses (bare, meaning /32 or /128) or CIDR prefixes.
func ParseCIDRList(list string) (CIDRList, error) {
	var out CIDRList
	for _, item := range splitList(list) {
		prefix, err := parseOnePrefix(item)
		if err != nil {
			return nil, fmt.Errorf("netlist: %q: %w", item, err)
		}
		out = append(out, prefix)
	}
	return out, nil
}

func parseOnePrefix(item string) (netip.Prefix, error) {
	if strings.Contains(item, "/") {
		prefix, err := netip.ParsePrefix(item)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(item)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Match reports whether addr falls within any prefix in the list. An
// IPv4-mapped IPv6 address is additionally tried as its plain IPv4 form,
// matching spec.md's rule that connections arriving over an IPv4-mapped
// socket are also checked against IPv4 entries.
func (l CIDRList) Match(addr netip.Addr) bool {
	if addr.Is4In6() {
		if l.matchExact(addr.Unmap()) {
			return true
		}
	}
	return l.matchExact(addr)
}

func (l CIDRList) matchExact(addr netip.Addr) bool {
	for _, prefix := range l {
		if prefix.Addr().Is4() != addr.Is4() {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Loopback is the CIDRList treated as "connected from" when a message
// arrives over a local domain socket, matching spec.md's "local sockets
// behave as if connected from the loopback address" rule.
var Loopback = CIDRList{
	netip.PrefixFrom(netip.MustParseAddr("127.0.0.1"), 32),
	netip.PrefixFrom(netip.MustParseAddr("::1"), 128),
}

// DomainList is a parsed list of domain names, matched case-insensitively.
type DomainList []string

// ParseDomainList parses a comma/semicolon/space-separated list of domain
// names.
func ParseDomainList(list string) DomainList {
	return DomainList(splitList(list))
}

// Match reports whether dom equals (case-insensitively) any entry in the
// list.
func (l DomainList) Match(dom string) bool {
	for _, d := range l {
		if strings.EqualFold(d, dom) {
			return true
		}
	}
	return false
}

func splitList(list string) []string {
	var out []string
	for _, item := range strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	}) {
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
