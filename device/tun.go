/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"errors"
	"sync"

	"github.com/prismnet/tunnel/tun"
)

// loopbackTUN is an in-memory tun.Device: packets written to it can be read
// back out, and nothing touches the host network stack. It lets the worker
// loops be exercised in tests without a real platform driver.
type loopbackTUN struct {
	mutex   sync.Mutex
	packets [][]byte
	notify  chan struct{}
	events  chan tun.Event
	mtu     int
	closed  bool
}

func newLoopbackTUN(mtu int) *loopbackTUN {
	return &loopbackTUN{
		notify: make(chan struct{}, 1),
		events: make(chan tun.Event, 1),
		mtu:    mtu,
	}
}

func (t *loopbackTUN) Read(buf []byte, offset int) (int, error) {
	for {
		t.mutex.Lock()
		if t.closed {
			t.mutex.Unlock()
			return 0, errors.New("loopback tun closed")
		}
		if len(t.packets) > 0 {
			packet := t.packets[0]
			t.packets = t.packets[1:]
			t.mutex.Unlock()
			n := copy(buf[offset:], packet)
			return n, nil
		}
		t.mutex.Unlock()
		<-t.notify
	}
}

func (t *loopbackTUN) Write(buf []byte, offset int) (int, error) {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return 0, errors.New("loopback tun closed")
	}
	packet := append([]byte(nil), buf[offset:]...)
	t.packets = append(t.packets, packet)
	t.mutex.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
	return len(packet), nil
}

// Inject delivers a packet to Read as if it had arrived from the kernel.
func (t *loopbackTUN) Inject(packet []byte) {
	t.Write(packet, 0)
}

// Drain returns the next packet written by the device under test, or nil
// if none is queued.
func (t *loopbackTUN) Drain() []byte {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if len(t.packets) == 0 {
		return nil
	}
	packet := t.packets[0]
	t.packets = t.packets[1:]
	return packet
}

func (t *loopbackTUN) MTU() (int, error)      { return t.mtu, nil }
func (t *loopbackTUN) Name() (string, error)  { return "loop0", nil }
func (t *loopbackTUN) Events() chan tun.Event { return t.events }

func (t *loopbackTUN) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.events)
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}
