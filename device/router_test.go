/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"net/netip"
	"testing"
)

func TestRouterLongestPrefixMatch(t *testing.T) {
	var r Router
	r.Reset()

	broad := &Peer{}
	narrow := &Peer{}

	r.Insert(netip.MustParsePrefix("10.0.0.0/8"), broad)
	r.Insert(netip.MustParsePrefix("10.0.0.0/24"), narrow)

	if got := r.Lookup(netip.MustParseAddr("10.0.0.5")); got != narrow {
		t.Fatal("lookup should prefer the more specific /24 route")
	}
	if got := r.Lookup(netip.MustParseAddr("10.1.2.3")); got != broad {
		t.Fatal("lookup outside the /24 should fall back to the /8 route")
	}
	if got := r.Lookup(netip.MustParseAddr("192.168.0.1")); got != nil {
		t.Fatal("lookup for an unrouted address should return nil")
	}
}

func TestRouterInsertReplacesIdenticalPrefix(t *testing.T) {
	var r Router
	r.Reset()

	p1 := &Peer{}
	p2 := &Peer{}
	prefix := netip.MustParsePrefix("192.168.1.0/24")

	r.Insert(prefix, p1)
	r.Insert(prefix, p2)

	if got := r.Lookup(netip.MustParseAddr("192.168.1.1")); got != p2 {
		t.Fatal("re-inserting an identical prefix should replace its owner")
	}
	if len(r.AllowedIPs(p1)) != 0 {
		t.Fatal("the displaced peer should no longer own the prefix")
	}
}

func TestRouterRemoveByPeer(t *testing.T) {
	var r Router
	r.Reset()

	peer := &Peer{}
	r.Insert(netip.MustParsePrefix("10.0.0.0/24"), peer)
	r.Insert(netip.MustParsePrefix("fd00::/64"), peer)

	r.RemoveByPeer(peer)

	if got := r.Lookup(netip.MustParseAddr("10.0.0.1")); got != nil {
		t.Fatal("removed peer's routes should no longer resolve")
	}
	if len(r.AllowedIPs(peer)) != 0 {
		t.Fatal("removed peer should have no allowed ips left")
	}
}

func TestRouterAllowedIPs(t *testing.T) {
	var r Router
	r.Reset()

	peer := &Peer{}
	other := &Peer{}
	a := netip.MustParsePrefix("10.0.0.0/24")
	b := netip.MustParsePrefix("10.0.1.0/24")

	r.Insert(a, peer)
	r.Insert(b, peer)
	r.Insert(netip.MustParsePrefix("10.0.2.0/24"), other)

	got := r.AllowedIPs(peer)
	if len(got) != 2 {
		t.Fatalf("expected 2 allowed ips for peer, got %d", len(got))
	}
}
