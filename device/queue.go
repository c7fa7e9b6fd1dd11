/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import "github.com/prismnet/tunnel/conn"

// HandshakeJob is the unit of work the UDP worker hands to the handshake
// workers: either a wire message that needs authenticating and responding
// to, or a local request to begin a new handshake with a peer.
type HandshakeJob struct {
	peer     *Peer        // set on a New job; nil on a Message job
	message  []byte       // set on a Message job
	endpoint conn.Endpoint // source of a Message job, when known
	isNew    bool
}

// NewHandshakeMessageJob wraps a received handshake-class datagram.
func NewHandshakeMessageJob(message []byte, endpoint conn.Endpoint) HandshakeJob {
	return HandshakeJob{message: message, endpoint: endpoint}
}

// NewHandshakeBeginJob requests that a fresh initiation be sent to peer.
func NewHandshakeBeginJob(peer *Peer) HandshakeJob {
	return HandshakeJob{peer: peer, isNew: true}
}
