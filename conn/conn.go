/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

// Package conn implements the tunnel's UDP transport: dual-stack datagram
// binds and the Endpoint value that carries per-packet return-path
// metadata between a receive and the reply send it enables.
package conn

import (
	"errors"
	"net/netip"
)

var (
	ErrBindAlreadyOpen  = errors.New("bind is already open")
	ErrWrongEndpointType = errors.New("endpoint type does not match bind type")
)

// ReceiveFunc reads a single datagram into buf, returning its length and
// the Endpoint it arrived from. A Bind produces one ReceiveFunc per bound
// address family; each is only ever called from one goroutine.
type ReceiveFunc func(buf []byte) (n int, ep Endpoint, err error)

// Bind owns up to two UDP sockets — one per IP family — bound to the same
// port number on all interfaces. At least one socket is present once Open
// succeeds; if both are present they share a port.
type Bind interface {
	// Open binds to port (0 requests an OS-chosen port) and returns one
	// ReceiveFunc per live family plus the actual bound port.
	Open(port uint16) (fns []ReceiveFunc, actualPort uint16, err error)

	// Send writes buf as a single datagram to ep's destination, pinning
	// the reply source/interface from ep's source hint when present.
	Send(buf []byte, ep Endpoint) error

	// SetMark applies a routing mark (SO_MARK) to every live socket.
	SetMark(mark uint32) error

	// LastMark reports the most recently applied mark.
	LastMark() uint32

	// Close closes every live socket exactly once.
	Close() error
}

// Endpoint is a peer's destination address plus the local source address
// and interface index the kernel reported on the last successful receive
// from that peer. It is a plain value: cheap to copy, holds no descriptors.
type Endpoint struct {
	dst      netip.AddrPort
	src      netip.Addr
	srcIfidx int32
}

// NewEndpoint builds an Endpoint whose destination is addr and whose
// source hint is empty (send will fall back to routing-table selection).
func NewEndpoint(addr netip.AddrPort) Endpoint {
	return Endpoint{dst: addr}
}

// Addr returns the destination address only.
func (e Endpoint) Addr() netip.AddrPort {
	return e.dst
}

// ClearSrc zeroes the source hint in place, forcing the kernel to
// re-select a source address/interface on the next send.
func (e *Endpoint) ClearSrc() {
	e.src = netip.Addr{}
	e.srcIfidx = 0
}

// SrcIP reports the cached source hint, or the zero Addr if unset.
func (e Endpoint) SrcIP() netip.Addr {
	return e.src
}

// SrcIfidx reports the cached interface index hint (0 if unset or not
// reported by the bind).
func (e Endpoint) SrcIfidx() int32 {
	return e.srcIfidx
}

// DstToBytes returns the destination address and port in the wire format
// used for mac2 cookie calculations: 4 or 16 address bytes, then the port
// as two little-endian bytes.
func (e Endpoint) DstToBytes() []byte {
	addr := e.dst.Addr()
	var out []byte
	if addr.Is4() || addr.Is4In6() {
		a4 := addr.As4()
		out = append(out, a4[:]...)
	} else {
		a16 := addr.As16()
		out = append(out, a16[:]...)
	}
	port := e.dst.Port()
	return append(out, byte(port&0xff), byte((port>>8)&0xff))
}

func (e Endpoint) String() string {
	return e.dst.String()
}
