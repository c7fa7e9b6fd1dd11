//go:build !linux

/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package conn

import (
	"errors"
	"net"
	"sync"
	"syscall"
)

// StdBind is a portable Bind built on net.ListenUDP for platforms where the
// packet-info ancillary mechanism isn't wired in by this module. It has no
// source hint: ClearSrc is a no-op and sends always let the kernel pick the
// route, same as upstream wireguard-go's StdNetBind.
type StdBind struct {
	mu   sync.Mutex
	ipv4 *net.UDPConn
	ipv6 *net.UDPConn
	mark uint32
}

var _ Bind = (*StdBind)(nil)

func NewNativeBind() *StdBind { return &StdBind{} }

func listenNet(network string, port int) (*net.UDPConn, int, error) {
	conn, err := net.ListenUDP(network, &net.UDPAddr{Port: port})
	if err != nil {
		return nil, 0, err
	}
	addr := conn.LocalAddr().(*net.UDPAddr)
	return conn, addr.Port, nil
}

func (bind *StdBind) Open(port uint16) ([]ReceiveFunc, uint16, error) {
	bind.mu.Lock()
	defer bind.mu.Unlock()

	if bind.ipv4 != nil || bind.ipv6 != nil {
		return nil, 0, ErrBindAlreadyOpen
	}

	var fns []ReceiveFunc
	actual := int(port)

	ipv6, newPort, err6 := listenNet("udp6", actual)
	if err6 == nil {
		bind.ipv6 = ipv6
		actual = newPort
		fns = append(fns, bind.makeReceiveFunc(ipv6))
	} else if !errors.Is(err6, syscall.EAFNOSUPPORT) {
		return nil, 0, err6
	}

	ipv4, newPort, err4 := listenNet("udp4", actual)
	if err4 == nil {
		bind.ipv4 = ipv4
		actual = newPort
		fns = append(fns, bind.makeReceiveFunc(ipv4))
	} else if !errors.Is(err4, syscall.EAFNOSUPPORT) {
		if bind.ipv6 != nil {
			bind.ipv6.Close()
			bind.ipv6 = nil
		}
		return nil, 0, err4
	}

	if bind.ipv4 == nil && bind.ipv6 == nil {
		return nil, 0, syscall.EAFNOSUPPORT
	}

	return fns, uint16(actual), nil
}

func (bind *StdBind) makeReceiveFunc(conn *net.UDPConn) ReceiveFunc {
	return func(buf []byte) (int, Endpoint, error) {
		n, addr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return 0, Endpoint{}, err
		}
		return n, NewEndpoint(addr), nil
	}
}

func (bind *StdBind) Send(buf []byte, ep Endpoint) error {
	bind.mu.Lock()
	v4, v6 := bind.ipv4, bind.ipv6
	bind.mu.Unlock()

	addr := ep.dst.Addr()
	if addr.Is4() || addr.Is4In6() {
		if v4 == nil {
			return syscall.EAFNOSUPPORT
		}
		_, err := v4.WriteToUDPAddrPort(buf, ep.dst)
		return err
	}
	if v6 == nil {
		return syscall.EAFNOSUPPORT
	}
	_, err := v6.WriteToUDPAddrPort(buf, ep.dst)
	return err
}

func (bind *StdBind) SetMark(mark uint32) error {
	bind.mu.Lock()
	defer bind.mu.Unlock()
	bind.mark = mark
	return nil
}

func (bind *StdBind) LastMark() uint32 {
	bind.mu.Lock()
	defer bind.mu.Unlock()
	return bind.mark
}

func (bind *StdBind) Close() error {
	bind.mu.Lock()
	defer bind.mu.Unlock()

	var err error
	if bind.ipv4 != nil {
		if e := bind.ipv4.Close(); e != nil {
			err = e
		}
		bind.ipv4 = nil
	}
	if bind.ipv6 != nil {
		if e := bind.ipv6.Close(); e != nil {
			err = e
		}
		bind.ipv6 = nil
	}
	return err
}
