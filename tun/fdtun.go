/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package tun

import (
	"sync/atomic"
)

// FileTUN adapts an already-open TUN file descriptor, handed to this
// process by an external collaborator (a container runtime, a setup script,
// or a platform-specific helper), into a Device. It assumes the fd was
// opened IFF_NO_PI: every Read/Write is the raw IP packet, no 4-byte
// packet-info header. Creating and naming the underlying interface is the
// supplying collaborator's job, not this package's.
type FileTUN struct {
	fd     fder
	name   string
	mtu    atomic.Int32
	events chan Event
}

// fder is the subset of *os.File this adapter needs; kept narrow so tests
// can substitute an in-memory pipe instead of a real fd.
type fder interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}

// NewFileTUN wraps fd as a Device reporting the given interface name and
// initial MTU. Send EventMTUUpdate on the returned Device's Events channel
// to have workers reload device.mtu after the collaborator resizes the
// interface out from under this process.
func NewFileTUN(fd fder, name string, mtu int) *FileTUN {
	t := &FileTUN{fd: fd, name: name, events: make(chan Event, 5)}
	t.mtu.Store(int32(mtu))
	return t
}

func (t *FileTUN) Read(buf []byte, offset int) (int, error) {
	return t.fd.Read(buf[offset:])
}

func (t *FileTUN) Write(buf []byte, offset int) (int, error) {
	return t.fd.Write(buf[offset:])
}

func (t *FileTUN) MTU() (int, error) { return int(t.mtu.Load()), nil }

// SetMTU updates the MTU this adapter reports and signals EventMTUUpdate so
// a running device picks it up.
func (t *FileTUN) SetMTU(mtu int) {
	t.mtu.Store(int32(mtu))
	select {
	case t.events <- EventMTUUpdate:
	default:
	}
}

func (t *FileTUN) Name() (string, error) { return t.name, nil }
func (t *FileTUN) Events() chan Event    { return t.events }

func (t *FileTUN) Close() error {
	close(t.events)
	return t.fd.Close()
}
