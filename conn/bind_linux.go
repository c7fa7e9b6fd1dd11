//go:build linux

/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package conn

import (
	"net/netip"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// NativeBind is the Linux Bind: it opens raw dual-stack UDP sockets and
// asks the kernel for IP_PKTINFO/IPV6_RECVPKTINFO ancillary data on every
// receive so the source address/interface a peer last reached us on can be
// pinned on the reply send.
type NativeBind struct {
	mu       sync.Mutex
	sock4    int
	sock6    int
	lastMark uint32
}

const fdInvalid = -1

var _ Bind = (*NativeBind)(nil)

// NewNativeBind constructs an unopened Linux bind.
func NewNativeBind() *NativeBind {
	return &NativeBind{sock4: fdInvalid, sock6: fdInvalid}
}

func (bind *NativeBind) Open(port uint16) ([]ReceiveFunc, uint16, error) {
	bind.mu.Lock()
	defer bind.mu.Unlock()

	if bind.sock4 != fdInvalid || bind.sock6 != fdInvalid {
		return nil, 0, ErrBindAlreadyOpen
	}

	var fns []ReceiveFunc

	sock6, newPort, err6 := create6(port)
	if err6 == nil {
		bind.sock6 = sock6
		port = newPort
		fns = append(fns, bind.makeReceiveFunc(sock6, true))
	} else if err6 != syscall.EAFNOSUPPORT {
		return nil, 0, err6
	}

	sock4, newPort, err4 := create4(port)
	if err4 == nil {
		bind.sock4 = sock4
		port = newPort
		fns = append(fns, bind.makeReceiveFunc(sock4, false))
	} else if err4 != syscall.EAFNOSUPPORT {
		if bind.sock6 != fdInvalid {
			unix.Close(bind.sock6)
			bind.sock6 = fdInvalid
		}
		return nil, 0, err4
	}

	if bind.sock4 == fdInvalid && bind.sock6 == fdInvalid {
		return nil, 0, err6
	}

	return fns, port, nil
}

func (bind *NativeBind) makeReceiveFunc(fd int, isV6 bool) ReceiveFunc {
	return func(buf []byte) (int, Endpoint, error) {
		if isV6 {
			return receive6(fd, buf)
		}
		return receive4(fd, buf)
	}
}

func (bind *NativeBind) Send(buf []byte, ep Endpoint) error {
	bind.mu.Lock()
	sock4, sock6 := bind.sock4, bind.sock6
	bind.mu.Unlock()

	addr := ep.dst.Addr()
	if addr.Is4() || addr.Is4In6() {
		if sock4 == fdInvalid {
			return syscall.EAFNOSUPPORT
		}
		return send4(sock4, ep, buf)
	}
	if sock6 == fdInvalid {
		return syscall.EAFNOSUPPORT
	}
	return send6(sock6, ep, buf)
}

func (bind *NativeBind) SetMark(mark uint32) error {
	bind.mu.Lock()
	defer bind.mu.Unlock()

	for _, fd := range [2]int{bind.sock4, bind.sock6} {
		if fd == fdInvalid {
			continue
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, int(mark)); err != nil {
			return err
		}
	}
	bind.lastMark = mark
	return nil
}

func (bind *NativeBind) LastMark() uint32 {
	bind.mu.Lock()
	defer bind.mu.Unlock()
	return bind.lastMark
}

func closeUnblock(fd int) error {
	unix.Shutdown(fd, unix.SHUT_RDWR)
	return unix.Close(fd)
}

func (bind *NativeBind) Close() error {
	bind.mu.Lock()
	defer bind.mu.Unlock()

	var err error
	if bind.sock6 != fdInvalid {
		if e := closeUnblock(bind.sock6); e != nil {
			err = e
		}
		bind.sock6 = fdInvalid
	}
	if bind.sock4 != fdInvalid {
		if e := closeUnblock(bind.sock4); e != nil {
			err = e
		}
		bind.sock4 = fdInvalid
	}
	return err
}

func create4(port uint16) (int, uint16, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fdInvalid, 0, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fdInvalid, 0, err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_PKTINFO, 1); err != nil {
		unix.Close(fd)
		return fdInvalid, 0, err
	}

	addr := unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return fdInvalid, 0, err
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return fdInvalid, 0, err
	}
	return fd, uint16(sa.(*unix.SockaddrInet4).Port), nil
}

func create6(port uint16) (int, uint16, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fdInvalid, 0, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fdInvalid, 0, err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_RECVPKTINFO, 1); err != nil {
		unix.Close(fd)
		return fdInvalid, 0, err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
		unix.Close(fd)
		return fdInvalid, 0, err
	}

	addr := unix.SockaddrInet6{Port: int(port)}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return fdInvalid, 0, err
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return fdInvalid, 0, err
	}
	return fd, uint16(sa.(*unix.SockaddrInet6).Port), nil
}

func send4(sock int, ep Endpoint, buf []byte) error {
	dst := unix.SockaddrInet4{Port: int(ep.dst.Port())}
	dst.Addr = ep.dst.Addr().As4()

	cmsg := struct {
		hdr     unix.Cmsghdr
		pktinfo unix.Inet4Pktinfo
	}{
		hdr: unix.Cmsghdr{
			Level: unix.IPPROTO_IP,
			Type:  unix.IP_PKTINFO,
			Len:   unix.SizeofInet4Pktinfo + unix.SizeofCmsghdr,
		},
	}
	if ep.src.Is4() {
		cmsg.pktinfo.Spec_dst = ep.src.As4()
		cmsg.pktinfo.Ifindex = ep.srcIfidx
	}

	oob := (*[unsafe.Sizeof(cmsg)]byte)(unsafe.Pointer(&cmsg))[:]
	_, err := unix.SendmsgN(sock, buf, oob, &dst, 0)
	if err == unix.EINVAL && ep.src.IsValid() {
		// Cached source is stale (interface gone, address removed); retry
		// once letting the kernel pick a fresh route.
		cmsg.pktinfo = unix.Inet4Pktinfo{}
		_, err = unix.SendmsgN(sock, buf, oob, &dst, 0)
	}
	return err
}

func send6(sock int, ep Endpoint, buf []byte) error {
	dst := unix.SockaddrInet6{Port: int(ep.dst.Port())}
	dst.Addr = ep.dst.Addr().As16()

	cmsg := struct {
		hdr     unix.Cmsghdr
		pktinfo unix.Inet6Pktinfo
	}{
		hdr: unix.Cmsghdr{
			Level: unix.IPPROTO_IPV6,
			Type:  unix.IPV6_PKTINFO,
			Len:   unix.SizeofInet6Pktinfo + unix.SizeofCmsghdr,
		},
	}
	if ep.src.Is6() && !ep.src.Is4In6() {
		cmsg.pktinfo.Addr = ep.src.As16()
		cmsg.pktinfo.Ifindex = uint32(ep.srcIfidx)
	}

	oob := (*[unsafe.Sizeof(cmsg)]byte)(unsafe.Pointer(&cmsg))[:]
	_, err := unix.SendmsgN(sock, buf, oob, &dst, 0)
	if err == unix.EINVAL && ep.src.IsValid() {
		cmsg.pktinfo = unix.Inet6Pktinfo{}
		_, err = unix.SendmsgN(sock, buf, oob, &dst, 0)
	}
	return err
}

func receive4(sock int, buf []byte) (int, Endpoint, error) {
	var cmsg struct {
		hdr     unix.Cmsghdr
		pktinfo unix.Inet4Pktinfo
	}

	n, _, _, from, err := unix.Recvmsg(sock, buf, (*[unsafe.Sizeof(cmsg)]byte)(unsafe.Pointer(&cmsg))[:], 0)
	if err != nil {
		return 0, Endpoint{}, err
	}

	var ep Endpoint
	if sa4, ok := from.(*unix.SockaddrInet4); ok {
		ep.dst = netip.AddrPortFrom(netip.AddrFrom4(sa4.Addr), uint16(sa4.Port))
	}

	if cmsg.hdr.Level == unix.IPPROTO_IP && cmsg.hdr.Type == unix.IP_PKTINFO &&
		int(cmsg.hdr.Len) >= unix.SizeofInet4Pktinfo {
		ep.src = netip.AddrFrom4(cmsg.pktinfo.Spec_dst)
		ep.srcIfidx = cmsg.pktinfo.Ifindex
	}

	return n, ep, nil
}

func receive6(sock int, buf []byte) (int, Endpoint, error) {
	var cmsg struct {
		hdr     unix.Cmsghdr
		pktinfo unix.Inet6Pktinfo
	}

	n, _, _, from, err := unix.Recvmsg(sock, buf, (*[unsafe.Sizeof(cmsg)]byte)(unsafe.Pointer(&cmsg))[:], 0)
	if err != nil {
		return 0, Endpoint{}, err
	}

	var ep Endpoint
	if sa6, ok := from.(*unix.SockaddrInet6); ok {
		ep.dst = netip.AddrPortFrom(netip.AddrFrom16(sa6.Addr), uint16(sa6.Port))
	}

	if cmsg.hdr.Level == unix.IPPROTO_IPV6 && cmsg.hdr.Type == unix.IPV6_PKTINFO &&
		int(cmsg.hdr.Len) >= unix.SizeofInet6Pktinfo {
		ep.src = netip.AddrFrom16(cmsg.pktinfo.Addr)
		ep.srcIfidx = int32(cmsg.pktinfo.Ifindex)
	}

	return n, ep, nil
}
