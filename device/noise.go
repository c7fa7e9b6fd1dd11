/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/prismnet/tunnel/tai64n"
)

// Handshake carries the mutable Noise_IK state for one peer across the
// two messages of a handshake, and the bookkeeping needed to detect and
// reject replayed initiations.
type Handshake struct {
	mutex sync.RWMutex

	state                   int
	hash                    [blake2s.Size]byte
	chainKey                [blake2s.Size]byte
	presharedKey            NoiseSymmetricKey
	localEphemeral          NoisePrivateKey
	localIndex              uint32
	remoteIndex             uint32
	remoteStatic            NoisePublicKey
	remoteEphemeral         NoisePublicKey
	precomputedStaticStatic [NoisePublicKeySize]byte
	lastTimestamp           tai64n.Timestamp
	lastInitiationConsumed  time.Time
}

func (h *Handshake) Clear() {
	h.localEphemeral = NoisePrivateKey{}
	h.remoteEphemeral = NoisePublicKey{}
	h.chainKey = [blake2s.Size]byte{}
	h.hash = [blake2s.Size]byte{}
	h.state = HandshakeZeroed
}

var (
	initialChainKey [blake2s.Size]byte
	initialHash     [blake2s.Size]byte
	zeroNonce       [chacha20poly1305.NonceSize]byte
)

func init() {
	initialChainKey = blake2s.Sum256([]byte(NoiseConstruction))
	initialHash = mixHash(initialChainKey, []byte(WGIdentifier))
}

func mixKey(c [blake2s.Size]byte, data []byte) [blake2s.Size]byte {
	return KDF1(c[:], data)
}

func mixHash(h [blake2s.Size]byte, data []byte) [blake2s.Size]byte {
	return blake2s.Sum256(append(h[:], data...))
}

func (h *Handshake) mixHash(data []byte) {
	h.hash = mixHash(h.hash, data)
}

func (h *Handshake) mixKey(data []byte) {
	h.chainKey = mixKey(h.chainKey, data)
}

// CreateMessageInitiation builds the first handshake message for peer,
// resetting its handshake state to a fresh ephemeral key and session index.
func (device *Device) CreateMessageInitiation(peer *Peer) (*MessageInitiation, error) {
	handshake := &peer.handshake
	handshake.mutex.Lock()
	defer handshake.mutex.Unlock()

	device.staticIdentity.RLock()
	defer device.staticIdentity.RUnlock()

	handshake.hash = initialHash
	handshake.chainKey = initialChainKey

	var err error
	handshake.localEphemeral, err = newPrivateKey()
	if err != nil {
		return nil, err
	}

	device.indexTable.Delete(handshake.localIndex)
	handshake.localIndex, err = device.indexTable.NewIndexForHandshake(peer, handshake)
	if err != nil {
		return nil, err
	}

	handshake.mixHash(handshake.remoteStatic[:])

	msg := MessageInitiation{
		Type:      MessageInitiationType,
		Ephemeral: handshake.localEphemeral.publicKey(),
		Sender:    handshake.localIndex,
	}

	handshake.mixKey(msg.Ephemeral[:])
	handshake.mixHash(msg.Ephemeral[:])

	ss := handshake.localEphemeral.sharedSecret(handshake.remoteStatic)
	var key [chacha20poly1305.KeySize]byte
	handshake.chainKey, key = KDF2(handshake.chainKey[:], ss[:])
	aead, _ := chacha20poly1305.New(key[:])
	aead.Seal(msg.Static[:0], zeroNonce[:], device.staticIdentity.publicKey[:], handshake.hash[:])
	handshake.mixHash(msg.Static[:])

	timestamp := tai64n.Now()
	handshake.chainKey, key = KDF2(handshake.chainKey[:], handshake.precomputedStaticStatic[:])
	aead, _ = chacha20poly1305.New(key[:])
	aead.Seal(msg.Timestamp[:0], zeroNonce[:], timestamp[:], handshake.hash[:])
	handshake.mixHash(msg.Timestamp[:])

	handshake.state = HandshakeInitiationCreated
	return &msg, nil
}

// ConsumeMessageInitiation authenticates msg and returns the peer it names,
// or nil if msg doesn't decrypt, names an unknown peer, or its timestamp
// doesn't advance on the one we last accepted (a replay).
func (device *Device) ConsumeMessageInitiation(msg *MessageInitiation) *Peer {
	if msg.Type != MessageInitiationType {
		return nil
	}

	device.staticIdentity.RLock()
	defer device.staticIdentity.RUnlock()

	hash := mixHash(initialHash, device.staticIdentity.publicKey[:])
	hash = mixHash(hash, msg.Ephemeral[:])
	chainKey := mixKey(initialChainKey, msg.Ephemeral[:])

	ss := device.staticIdentity.privateKey.sharedSecret(msg.Ephemeral)
	var key [chacha20poly1305.KeySize]byte
	chainKey, key = KDF2(chainKey[:], ss[:])

	var peerPK NoisePublicKey
	aead, _ := chacha20poly1305.New(key[:])
	if _, err := aead.Open(peerPK[:0], zeroNonce[:], msg.Static[:], hash[:]); err != nil {
		return nil
	}
	hash = mixHash(hash, msg.Static[:])

	peer := device.LookupPeer(peerPK)
	if peer == nil {
		return nil
	}
	handshake := &peer.handshake

	var timestamp tai64n.Timestamp
	ok := func() bool {
		handshake.mutex.RLock()
		defer handshake.mutex.RUnlock()

		chainKey, key = KDF2(chainKey[:], handshake.precomputedStaticStatic[:])
		aead, _ := chacha20poly1305.New(key[:])
		if _, err := aead.Open(timestamp[:0], zeroNonce[:], msg.Timestamp[:], hash[:]); err != nil {
			return false
		}
		return timestamp.After(handshake.lastTimestamp)
	}()
	if !ok {
		return nil
	}
	hash = mixHash(hash, msg.Timestamp[:])

	handshake.mutex.Lock()
	handshake.hash = hash
	handshake.chainKey = chainKey
	handshake.remoteIndex = msg.Sender
	handshake.remoteEphemeral = msg.Ephemeral
	handshake.lastTimestamp = timestamp
	handshake.lastInitiationConsumed = time.Now()
	handshake.state = HandshakeInitiationConsumed
	handshake.mutex.Unlock()

	return peer
}

// CreateMessageResponse completes the responder's half of the handshake.
// peer's handshake must be in HandshakeInitiationConsumed state.
func (device *Device) CreateMessageResponse(peer *Peer) (*MessageResponse, error) {
	handshake := &peer.handshake
	handshake.mutex.Lock()
	defer handshake.mutex.Unlock()

	if handshake.state != HandshakeInitiationConsumed {
		return nil, errors.New("handshake initiation must be consumed first")
	}

	var err error
	device.indexTable.Delete(handshake.localIndex)
	handshake.localIndex, err = device.indexTable.NewIndexForHandshake(peer, handshake)
	if err != nil {
		return nil, err
	}

	msg := MessageResponse{
		Type:     MessageResponseType,
		Sender:   handshake.localIndex,
		Receiver: handshake.remoteIndex,
	}

	handshake.localEphemeral, err = newPrivateKey()
	if err != nil {
		return nil, err
	}
	msg.Ephemeral = handshake.localEphemeral.publicKey()
	handshake.mixHash(msg.Ephemeral[:])
	handshake.mixKey(msg.Ephemeral[:])

	ss := handshake.localEphemeral.sharedSecret(handshake.remoteEphemeral)
	handshake.mixKey(ss[:])
	ss = handshake.localEphemeral.sharedSecret(handshake.remoteStatic)
	handshake.mixKey(ss[:])

	var tau [blake2s.Size]byte
	var key [chacha20poly1305.KeySize]byte
	handshake.chainKey, tau, key = KDF3(handshake.chainKey[:], handshake.presharedKey[:])
	handshake.mixHash(tau[:])

	aead, _ := chacha20poly1305.New(key[:])
	aead.Seal(msg.Empty[:0], zeroNonce[:], nil, handshake.hash[:])
	handshake.mixHash(msg.Empty[:])

	handshake.state = HandshakeResponseCreated
	return &msg, nil
}

// ConsumeMessageResponse authenticates msg against the handshake it names
// and returns the owning peer, or nil on any failure.
func (device *Device) ConsumeMessageResponse(msg *MessageResponse) *Peer {
	if msg.Type != MessageResponseType {
		return nil
	}

	lookup := device.indexTable.Lookup(msg.Receiver)
	handshake := lookup.handshake
	if handshake == nil {
		return nil
	}

	var hash, chainKey [blake2s.Size]byte

	ok := func() bool {
		handshake.mutex.RLock()
		defer handshake.mutex.RUnlock()

		if handshake.state != HandshakeInitiationCreated {
			return false
		}

		hash = mixHash(handshake.hash, msg.Ephemeral[:])
		chainKey = mixKey(handshake.chainKey, msg.Ephemeral[:])

		ss := handshake.localEphemeral.sharedSecret(msg.Ephemeral)
		chainKey = mixKey(chainKey, ss[:])
		ss = device.staticIdentity.privateKey.sharedSecret(msg.Ephemeral)
		chainKey = mixKey(chainKey, ss[:])

		var tau [blake2s.Size]byte
		var key [chacha20poly1305.KeySize]byte
		chainKey, tau, key = KDF3(chainKey[:], handshake.presharedKey[:])
		hash = mixHash(hash, tau[:])

		aead, _ := chacha20poly1305.New(key[:])
		if _, err := aead.Open(nil, zeroNonce[:], msg.Empty[:], hash[:]); err != nil {
			return false
		}
		hash = mixHash(hash, msg.Empty[:])
		return true
	}()
	if !ok {
		return nil
	}

	handshake.mutex.Lock()
	handshake.hash = hash
	handshake.chainKey = chainKey
	handshake.remoteIndex = msg.Sender
	handshake.state = HandshakeResponseConsumed
	handshake.mutex.Unlock()

	return lookup.peer
}

// BeginSymmetricSession derives the transport KeyPair from a completed
// handshake and rotates it into the peer's current/previous/next triple.
func (peer *Peer) BeginSymmetricSession() (*KeyPair, error) {
	device := peer.device
	handshake := &peer.handshake
	handshake.mutex.Lock()
	defer handshake.mutex.Unlock()

	var isInitiator bool
	var sendKey, recvKey [chacha20poly1305.KeySize]byte

	switch handshake.state {
	case HandshakeResponseConsumed:
		sendKey, recvKey = KDF2(handshake.chainKey[:], nil)
		isInitiator = true
	case HandshakeResponseCreated:
		recvKey, sendKey = KDF2(handshake.chainKey[:], nil)
		isInitiator = false
	default:
		return nil, errors.New("handshake not ready for a session")
	}

	localIndex := handshake.localIndex
	handshake.localIndex = 0 // the id now belongs to the keypair
	handshake.Clear()

	keyPair := &KeyPair{
		isInitiator: isInitiator,
		created:     time.Now(),
		localIndex:  localIndex,
		remoteIndex: handshake.remoteIndex,
	}
	keyPair.send.setKey(&sendKey)
	keyPair.receive.setKey(&recvKey)
	keyPair.replayFilter.Init()

	device.indexTable.SwapIndexForKeyPair(localIndex, keyPair)

	kp := &peer.keypairs
	kp.mutex.Lock()
	defer kp.mutex.Unlock()
	if isInitiator {
		if kp.previous != nil {
			device.DeleteKeyPair(kp.previous)
		}
		kp.previous = kp.current
		kp.current = keyPair
	} else {
		if kp.next != nil {
			device.DeleteKeyPair(kp.next)
		}
		kp.next = keyPair
	}

	return keyPair, nil
}
