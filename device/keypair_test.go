/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import "testing"

// handshakePair runs a full Noise_IK exchange between two fresh, in-memory
// devices and returns the peer each one holds for the other, with both
// handshakes left in their post-response state.
func handshakePair(t *testing.T) (initDevice, respDevice *Device, initPeer, respPeer *Peer) {
	t.Helper()

	initDevice = newTestDevice(t)
	respDevice = newTestDevice(t)

	initSK, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	respSK, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	if err := initDevice.SetPrivateKey(initSK); err != nil {
		t.Fatal(err)
	}
	if err := respDevice.SetPrivateKey(respSK); err != nil {
		t.Fatal(err)
	}

	respPeer, err = initDevice.NewPeer(respSK.publicKey())
	if err != nil {
		t.Fatal(err)
	}
	initPeer, err = respDevice.NewPeer(initSK.publicKey())
	if err != nil {
		t.Fatal(err)
	}

	initiation, err := initDevice.CreateMessageInitiation(respPeer)
	if err != nil {
		t.Fatal(err)
	}

	remoteInitPeer := respDevice.ConsumeMessageInitiation(initiation)
	if remoteInitPeer == nil {
		t.Fatal("responder failed to consume initiation")
	}

	response, err := respDevice.CreateMessageResponse(remoteInitPeer)
	if err != nil {
		t.Fatal(err)
	}

	remoteRespPeer := initDevice.ConsumeMessageResponse(response)
	if remoteRespPeer == nil {
		t.Fatal("initiator failed to consume response")
	}

	return initDevice, respDevice, remoteInitPeer, respPeer
}

func TestBeginSymmetricSessionDerivesMatchingKeys(t *testing.T) {
	// respDevicePeer is the peer object the responder device holds for the
	// initiator, built while creating the response (isInitiator == false).
	// initDevicePeer is the peer object the initiator device holds for the
	// responder, built while consuming the response (isInitiator == true).
	_, _, respDevicePeer, initDevicePeer := handshakePair(t)

	respSideKP, err := respDevicePeer.BeginSymmetricSession()
	if err != nil {
		t.Fatal(err)
	}
	initSideKP, err := initDevicePeer.BeginSymmetricSession()
	if err != nil {
		t.Fatal(err)
	}

	if respSideKP.isInitiator == initSideKP.isInitiator {
		t.Fatal("exactly one side of a handshake should consider itself the initiator")
	}
	if initSideKP.send.get() == nil || initSideKP.receive.get() == nil {
		t.Fatal("BeginSymmetricSession should install both send and receive AEADs")
	}
	if initDevicePeer.keypairs.Current() != initSideKP {
		t.Fatal("the initiator side should promote its derived keypair straight to current")
	}
	if respDevicePeer.keypairs.next != respSideKP {
		t.Fatal("the responder side should stage its derived keypair as next until confirmed")
	}
}

func TestKeyPairRotationEvictsOldest(t *testing.T) {
	device := newTestDevice(t)
	peer := &Peer{device: device}

	mkPair := func(initiator bool) *KeyPair {
		return &KeyPair{isInitiator: initiator}
	}

	rotate := func(kp *KeyPair) {
		peer.keypairs.mutex.Lock()
		defer peer.keypairs.mutex.Unlock()
		if kp.isInitiator {
			if peer.keypairs.previous != nil {
				device.DeleteKeyPair(peer.keypairs.previous)
			}
			peer.keypairs.previous = peer.keypairs.current
			peer.keypairs.current = kp
		} else {
			if peer.keypairs.next != nil {
				device.DeleteKeyPair(peer.keypairs.next)
			}
			peer.keypairs.next = kp
		}
	}

	first := mkPair(true)
	rotate(first)
	if peer.keypairs.Current() != first {
		t.Fatal("first initiator keypair should become current")
	}

	second := mkPair(true)
	rotate(second)
	if peer.keypairs.Current() != second {
		t.Fatal("second initiator keypair should replace current")
	}
	if peer.keypairs.previous != first {
		t.Fatal("the displaced current keypair should move to previous")
	}

	third := mkPair(true)
	rotate(third)
	if peer.keypairs.previous != second {
		t.Fatal("rotating again should evict the oldest (first) keypair entirely")
	}
}

func TestZeroAndFlushAllClearsAllThreeSlots(t *testing.T) {
	device := newTestDevice(t)
	peer := &Peer{device: device}
	peer.keypairs.current = &KeyPair{}
	peer.keypairs.previous = &KeyPair{}
	peer.keypairs.next = &KeyPair{}

	peer.ZeroAndFlushAll()

	if peer.keypairs.current != nil || peer.keypairs.previous != nil || peer.keypairs.next != nil {
		t.Fatal("ZeroAndFlushAll should clear current, previous, and next")
	}
}
