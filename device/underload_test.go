/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import "testing"

// newTestDevice builds a Device with a loopback TUN and no real UDP bind,
// for tests that only exercise in-memory state.
func newTestDevice(t *testing.T) *Device {
	t.Helper()
	device := &Device{}
	device.log = NewLogger(LogLevelError, "")
	device.tunDevice = newLoopbackTUN(DefaultMTU)
	device.peers.keyMap = make(map[NoisePublicKey]*Peer)
	device.indexTable.Init()
	device.router.Reset()
	device.rate.Init()
	device.handshakeQueue = make(chan HandshakeJob, HandshakeQueueSize)
	device.stop = make(chan struct{})
	device.mtu.Store(DefaultMTU)
	return device
}

func TestIsUnderLoadTripsAtThreshold(t *testing.T) {
	device := newTestDevice(t)

	if device.IsUnderLoad() {
		t.Fatal("an empty handshake queue should not report under load")
	}

	for i := 0; i < ThresholdUnderLoad; i++ {
		device.handshakeQueue <- HandshakeJob{}
	}

	if !device.IsUnderLoad() {
		t.Fatal("a handshake queue at ThresholdUnderLoad should report under load")
	}
}

func TestIsUnderLoadStaysTrueDuringGracePeriod(t *testing.T) {
	device := newTestDevice(t)

	for i := 0; i < ThresholdUnderLoad; i++ {
		device.handshakeQueue <- HandshakeJob{}
	}
	if !device.IsUnderLoad() {
		t.Fatal("expected under load once threshold is reached")
	}

	// Drain the queue: load is gone, but the grace period latched by the
	// previous call should keep IsUnderLoad reporting true.
	for i := 0; i < ThresholdUnderLoad; i++ {
		<-device.handshakeQueue
	}
	if !device.IsUnderLoad() {
		t.Fatal("expected under load to remain latched through UnderLoadAfterTime")
	}
}
