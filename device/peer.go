/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prismnet/tunnel/conn"
)

// Peer is one tunnel endpoint this device has a configured static key for.
// Unlike a per-peer goroutine pool, packets to/from a peer are handled
// inline by the device's shared TUN/UDP/handshake workers; Peer itself
// only holds state those workers read and update.
type Peer struct {
	sync.RWMutex // protects endpoint and the mutable fields below

	device          *Device
	handshake       Handshake
	keypairs        KeyPairs
	cookieGenerator CookieGenerator
	endpoint        conn.Endpoint
	hasEndpoint     bool

	persistentKeepaliveInterval uint32 // seconds; accessed atomically
	disableRoaming              bool

	stats struct {
		txBytes           uint64 // atomic
		rxBytes           uint64 // atomic
		lastHandshakeNano int64  // atomic, UnixNano
	}

	timers peerTimers
}

func (device *Device) NewPeer(pk NoisePublicKey) (*Peer, error) {
	if device.isClosed.Load() {
		return nil, errors.New("device closed")
	}

	device.staticIdentity.RLock()
	defer device.staticIdentity.RUnlock()

	device.peers.Lock()
	defer device.peers.Unlock()

	if len(device.peers.keyMap) >= MaxPeers {
		return nil, errors.New("too many peers")
	}
	if _, ok := device.peers.keyMap[pk]; ok {
		return nil, errors.New("adding existing peer")
	}

	peer := &Peer{device: device}
	peer.cookieGenerator.Init(pk)
	peer.handshake.remoteStatic = pk
	peer.handshake.precomputedStaticStatic = device.staticIdentity.privateKey.sharedSecret(pk)
	peer.timers.init(peer)

	device.peers.keyMap[pk] = peer
	return peer, nil
}

// SendBuffer transmits buffer to peer's last known endpoint, accounting it
// against tx stats on success.
func (peer *Peer) SendBuffer(buffer []byte) error {
	peer.device.net.RLock()
	bind := peer.device.net.bind
	peer.device.net.RUnlock()

	if bind == nil {
		return errors.New("no bind")
	}

	peer.RLock()
	endpoint := peer.endpoint
	hasEndpoint := peer.hasEndpoint
	peer.RUnlock()

	if !hasEndpoint {
		return errors.New("no known endpoint for peer")
	}

	err := bind.Send(buffer, endpoint)
	if err == nil {
		atomic.AddUint64(&peer.stats.txBytes, uint64(len(buffer)))
	}
	return err
}

func (peer *Peer) String() string {
	b64 := base64.StdEncoding.EncodeToString(peer.handshake.remoteStatic[:])
	abbreviated := "invalid"
	if len(b64) == 44 {
		abbreviated = b64[0:4] + "…" + b64[39:43]
	}
	return fmt.Sprintf("peer(%s)", abbreviated)
}

// SetEndpointFromPacket records the address a packet was last received
// from so replies have somewhere to go, unless roaming is disabled and an
// endpoint is already set.
func (peer *Peer) SetEndpointFromPacket(endpoint conn.Endpoint) {
	peer.Lock()
	defer peer.Unlock()
	if peer.disableRoaming && peer.hasEndpoint {
		return
	}
	peer.endpoint = endpoint
	peer.hasEndpoint = true
}

func (peer *Peer) Endpoint() (conn.Endpoint, bool) {
	peer.RLock()
	defer peer.RUnlock()
	return peer.endpoint, peer.hasEndpoint
}

// ExpireCurrentKeypairs discards the handshake and session keys negotiated
// so far, forcing a fresh handshake on the next outbound packet.
func (peer *Peer) ExpireCurrentKeypairs() {
	device := peer.device

	handshake := &peer.handshake
	handshake.mutex.Lock()
	device.indexTable.Delete(handshake.localIndex)
	handshake.Clear()
	handshake.mutex.Unlock()

	kp := &peer.keypairs
	kp.mutex.Lock()
	if kp.current != nil {
		atomic.StoreUint64(&kp.current.sendNonce, RejectAfterMessages)
	}
	if kp.next != nil {
		atomic.StoreUint64(&kp.next.sendNonce, RejectAfterMessages)
	}
	kp.mutex.Unlock()
}

// ZeroAndFlushAll discards all cryptographic state held for peer.
func (peer *Peer) ZeroAndFlushAll() {
	device := peer.device

	kp := &peer.keypairs
	kp.mutex.Lock()
	device.DeleteKeyPair(kp.previous)
	device.DeleteKeyPair(kp.current)
	device.DeleteKeyPair(kp.next)
	kp.previous, kp.current, kp.next = nil, nil, nil
	kp.mutex.Unlock()

	handshake := &peer.handshake
	handshake.mutex.Lock()
	device.indexTable.Delete(handshake.localIndex)
	handshake.Clear()
	handshake.mutex.Unlock()
}

func (peer *Peer) LastHandshakeTime() time.Time {
	nano := atomic.LoadInt64(&peer.stats.lastHandshakeNano)
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}
