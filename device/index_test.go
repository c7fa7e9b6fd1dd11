/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import "testing"

func TestIndexTableUniqueness(t *testing.T) {
	var table IndexTable
	table.Init()

	peer := &Peer{}
	seen := make(map[uint32]bool)

	const n = 1000
	for i := 0; i < n; i++ {
		handshake := &Handshake{}
		id, err := table.NewIndexForHandshake(peer, handshake)
		if err != nil {
			t.Fatal(err)
		}
		if id == 0 {
			t.Fatal("index 0 is reserved and must never be handed out")
		}
		if seen[id] {
			t.Fatalf("index %d issued twice", id)
		}
		seen[id] = true
	}
}

func TestIndexTableSwapAndDelete(t *testing.T) {
	var table IndexTable
	table.Init()

	peer := &Peer{}
	handshake := &Handshake{}
	id, err := table.NewIndexForHandshake(peer, handshake)
	if err != nil {
		t.Fatal(err)
	}

	entry := table.Lookup(id)
	if entry.handshake != handshake {
		t.Fatal("lookup should resolve to the handshake that owns the index")
	}

	kp := &KeyPair{}
	table.SwapIndexForKeyPair(id, kp)

	entry = table.Lookup(id)
	if entry.handshake != nil {
		t.Fatal("swap should clear the handshake side of the entry")
	}
	if entry.keyPair != kp {
		t.Fatal("swap should install the keypair side of the entry")
	}

	table.Delete(id)
	entry = table.Lookup(id)
	if entry.peer != nil || entry.keyPair != nil {
		t.Fatal("deleted index should resolve to the zero entry")
	}
}

func TestIndexTableDeleteZeroIsNoop(t *testing.T) {
	var table IndexTable
	table.Init()
	table.Delete(0) // must not panic or touch a real entry
}

func TestIndexTableReissueReplacesHandshakeIndex(t *testing.T) {
	var table IndexTable
	table.Init()

	peer := &Peer{}
	handshake := &Handshake{}

	first, err := table.NewIndexForHandshake(peer, handshake)
	if err != nil {
		t.Fatal(err)
	}
	// Callers are expected to store the issued index on the handshake
	// before requesting another one, as CreateMessageInitiation does.
	handshake.localIndex = first

	second, err := table.NewIndexForHandshake(peer, handshake)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("reissuing an index for the same handshake should produce a fresh id")
	}

	if entry := table.Lookup(first); entry.peer != nil {
		t.Fatal("stale index should be dropped once a new one is issued")
	}
	if entry := table.Lookup(second); entry.handshake != handshake {
		t.Fatal("new index should resolve back to the handshake")
	}
}
