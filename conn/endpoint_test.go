/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package conn

import (
	"net/netip"
	"testing"
)

func TestEndpointRoundTrip(t *testing.T) {
	addrs := []netip.AddrPort{
		netip.MustParseAddrPort("192.0.2.1:51820"),
		netip.MustParseAddrPort("[2001:db8::1]:51820"),
	}
	for _, addr := range addrs {
		ep := NewEndpoint(addr)
		if ep.Addr() != addr {
			t.Fatalf("Addr() = %v, want %v", ep.Addr(), addr)
		}
	}
}

func TestEndpointClearSrcLeavesDst(t *testing.T) {
	addr := netip.MustParseAddrPort("192.0.2.1:51820")
	ep := NewEndpoint(addr)
	ep.src = netip.MustParseAddr("203.0.113.9")
	ep.srcIfidx = 4

	ep.ClearSrc()

	if ep.Addr() != addr {
		t.Fatalf("ClearSrc mutated destination: got %v, want %v", ep.Addr(), addr)
	}
	if ep.SrcIP().IsValid() {
		t.Fatalf("ClearSrc left a source hint: %v", ep.SrcIP())
	}
	if ep.SrcIfidx() != 0 {
		t.Fatalf("ClearSrc left an interface hint: %v", ep.SrcIfidx())
	}
}

func TestEndpointSourceHintSurvivesCopy(t *testing.T) {
	ep := NewEndpoint(netip.MustParseAddrPort("192.0.2.1:51820"))
	ep.src = netip.MustParseAddr("203.0.113.9")
	ep.srcIfidx = 2

	clone := ep
	if clone.SrcIP() != ep.SrcIP() || clone.SrcIfidx() != ep.srcIfidx {
		t.Fatalf("source hint did not survive value copy")
	}

	clone.ClearSrc()
	if !ep.SrcIP().IsValid() {
		t.Fatalf("clearing the clone's source hint affected the original")
	}
}

func TestEndpointDstToBytes(t *testing.T) {
	ep := NewEndpoint(netip.MustParseAddrPort("192.0.2.1:51820"))
	b := ep.DstToBytes()
	if len(b) != 4+2 {
		t.Fatalf("DstToBytes() length = %d, want 6", len(b))
	}
	port := uint16(b[4]) | uint16(b[5])<<8
	if port != 51820 {
		t.Fatalf("DstToBytes() port = %d, want 51820", port)
	}
}
