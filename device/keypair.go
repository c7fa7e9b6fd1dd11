/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/cipher"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

type safeAEAD struct {
	mutex sync.RWMutex
	aead  cipher.AEAD
}

func (c *safeAEAD) clear() {
	c.mutex.Lock()
	c.aead = nil
	c.mutex.Unlock()
}

func (c *safeAEAD) setKey(key *[chacha20poly1305.KeySize]byte) {
	c.mutex.Lock()
	c.aead, _ = chacha20poly1305.New(key[:])
	c.mutex.Unlock()
}

func (c *safeAEAD) get() cipher.AEAD {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.aead
}

// KeyPair holds one direction-paired set of transport session keys, plus
// the replay filter for the receiving side. Sending under a KeyPair stops
// once its send nonce reaches RejectAfterMessages; it is deleted when
// displaced by rotation.
type KeyPair struct {
	send         safeAEAD
	receive      safeAEAD
	replayFilter ReplayFilter
	sendNonce    uint64 // accessed atomically
	isInitiator  bool
	created      time.Time
	localIndex   uint32
	remoteIndex  uint32
}

// KeyPairs is the current/previous/next rotation triple for one peer.
// next is the keypair derived from a response this device sent, not yet
// confirmed by a received transport message.
type KeyPairs struct {
	mutex    sync.RWMutex
	current  *KeyPair
	previous *KeyPair
	next     *KeyPair
}

func (kp *KeyPairs) Current() *KeyPair {
	kp.mutex.RLock()
	defer kp.mutex.RUnlock()
	return kp.current
}

func (device *Device) DeleteKeyPair(key *KeyPair) {
	if key == nil {
		return
	}
	key.send.clear()
	key.receive.clear()
	device.indexTable.Delete(key.localIndex)
}
