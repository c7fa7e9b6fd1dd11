/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// IndexTableEntry is the lookup result for a session index: at most one of
// handshake or keyPair is meaningful, depending on which stage owns the id.
type IndexTableEntry struct {
	peer      *Peer
	handshake *Handshake
	keyPair   *KeyPair
}

// IndexTable maps the random uint32 session indices carried on the wire
// back to the peer/handshake/keypair that owns them. Index 0 is reserved
// and never handed out.
type IndexTable struct {
	mutex sync.RWMutex
	table map[uint32]IndexTableEntry
}

func (table *IndexTable) Init() {
	table.mutex.Lock()
	defer table.mutex.Unlock()
	table.table = make(map[uint32]IndexTableEntry)
}

func randUint32() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// NewIndexForHandshake allocates a fresh session index for peer's
// in-progress handshake, replacing any index peer's handshake held before.
func (table *IndexTable) NewIndexForHandshake(peer *Peer, handshake *Handshake) (uint32, error) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	for {
		id, err := randUint32()
		if err != nil {
			return 0, err
		}
		if id == 0 {
			continue
		}
		if _, ok := table.table[id]; ok {
			continue
		}

		delete(table.table, handshake.localIndex)
		table.table[id] = IndexTableEntry{peer: peer, handshake: handshake}
		return id, nil
	}
}

// SwapIndexForKeyPair moves ownership of id from the handshake it was
// issued to over to the keypair the handshake just produced.
func (table *IndexTable) SwapIndexForKeyPair(id uint32, keyPair *KeyPair) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	entry, ok := table.table[id]
	if !ok {
		return
	}
	entry.handshake = nil
	entry.keyPair = keyPair
	table.table[id] = entry
}

func (table *IndexTable) Lookup(id uint32) IndexTableEntry {
	table.mutex.RLock()
	defer table.mutex.RUnlock()
	return table.table[id]
}

func (table *IndexTable) Delete(id uint32) {
	if id == 0 {
		return
	}
	table.mutex.Lock()
	defer table.mutex.Unlock()
	delete(table.table, id)
}
