/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"sync/atomic"
	"time"
)

// peerTimers drives the retransmit/keepalive/rekey state machine for one
// peer. Each timer either enqueues a handshake-begin job for the shared
// handshake workers or runs a direct action.
type peerTimers struct {
	peer *Peer

	retransmitHandshake *time.Timer
	sendKeepalive       *time.Timer
	newHandshake        *time.Timer
	zeroKeyMaterial     *time.Timer
	persistentKeepalive *time.Timer

	handshakeAttempts       atomic.Uint32
	needAnotherKeepalive    atomic.Bool
	sentLastMinuteHandshake atomic.Bool
}

func (t *peerTimers) init(peer *Peer) {
	t.peer = peer

	stopped := func(fn func()) *time.Timer {
		tm := time.AfterFunc(time.Hour, fn)
		tm.Stop()
		return tm
	}

	t.retransmitHandshake = stopped(func() { t.onRetransmitHandshake() })
	t.sendKeepalive = stopped(func() { t.onSendKeepalive() })
	t.newHandshake = stopped(func() { t.onNewHandshake() })
	t.zeroKeyMaterial = stopped(func() { peer.ZeroAndFlushAll() })
	t.persistentKeepalive = stopped(func() { t.onSendKeepalive() })
}

func (t *peerTimers) stopAll() {
	t.retransmitHandshake.Stop()
	t.sendKeepalive.Stop()
	t.newHandshake.Stop()
	t.zeroKeyMaterial.Stop()
	t.persistentKeepalive.Stop()
}

// requestHandshake enqueues a request for the handshake workers to begin a
// fresh initiation with this peer. A full queue just drops the request;
// the retransmit timer will ask again.
func (t *peerTimers) requestHandshake() {
	select {
	case t.peer.device.handshakeQueue <- NewHandshakeBeginJob(t.peer):
	default:
	}
}

func (t *peerTimers) onRetransmitHandshake() {
	if t.handshakeAttempts.Load() > MaxTimerHandshakes {
		t.peer.device.log.Infof("%s - retrying handshake, but giving up after %d attempts", t.peer, MaxTimerHandshakes)
		t.peer.ExpireCurrentKeypairs()
		return
	}
	t.handshakeAttempts.Add(1)
	t.requestHandshake()
}

func (t *peerTimers) onNewHandshake() {
	t.requestHandshake()
}

func (t *peerTimers) onSendKeepalive() {
	device := t.peer.device
	if err := device.SendKeepalive(t.peer); err != nil && err != errDeviceDown {
		device.log.Errorf("%s - failed to send keepalive: %v", t.peer, err)
	}
}

// dataSent is the event fired after any authenticated message is sent.
func (t *peerTimers) dataSent() {
	t.sendKeepalive.Stop()
	t.newHandshake.Reset(RekeyAfterTime + randomJitter())
}

// dataReceived is the event fired after any authenticated message arrives.
func (t *peerTimers) dataReceived() {
	t.sendKeepalive.Reset(KeepaliveTimeout)
}

// anyAuthenticatedPacketReceived cancels the pending new-handshake timer:
// the peer is clearly alive, no need to force a rekey just yet.
func (t *peerTimers) anyAuthenticatedPacketReceived() {
	t.newHandshake.Stop()
}

func (t *peerTimers) anyAuthenticatedPacketTraversal() {
	interval := t.peer.PersistentKeepaliveInterval()
	if interval > 0 {
		t.persistentKeepalive.Reset(time.Duration(interval) * time.Second)
	}
}

func (t *peerTimers) handshakeComplete() {
	atomic.StoreInt64(&t.peer.stats.lastHandshakeNano, time.Now().UnixNano())
	t.handshakeAttempts.Store(0)
	t.sentLastMinuteHandshake.Store(false)
	t.retransmitHandshake.Stop()
}

func (t *peerTimers) handshakeInitiated() {
	t.retransmitHandshake.Reset(RekeyTimeout + randomJitter())
}

func randomJitter() time.Duration {
	// Deterministic-enough jitter without reaching for crypto/rand on a
	// hot timer path; the exact value only needs to desynchronize peers.
	return time.Duration(time.Now().UnixNano()%RekeyTimeoutJitterMaxMs) * time.Millisecond
}

func (peer *Peer) PersistentKeepaliveInterval() uint32 {
	return atomic.LoadUint32(&peer.persistentKeepaliveInterval)
}

func (peer *Peer) SetPersistentKeepaliveInterval(seconds uint32) {
	atomic.StoreUint32(&peer.persistentKeepaliveInterval, seconds)
	if seconds > 0 {
		peer.timers.persistentKeepalive.Reset(time.Duration(seconds) * time.Second)
	} else {
		peer.timers.persistentKeepalive.Stop()
	}
}
