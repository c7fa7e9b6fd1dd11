/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"net/netip"
	"testing"

	"github.com/prismnet/tunnel/conn"
)

func TestCookieMAC1RoundTrip(t *testing.T) {
	sk, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pk := sk.publicKey()

	var checker CookieChecker
	checker.Init(pk)

	var gen CookieGenerator
	gen.Init(pk)

	msg := make([]byte, MessageInitiationSize)
	gen.AddMACs(msg)

	if !checker.CheckMAC1(msg) {
		t.Fatal("mac1 stamped by the generator should validate against the checker")
	}

	msg[0] ^= 0xff
	if checker.CheckMAC1(msg) {
		t.Fatal("mac1 should not validate once the signed content is tampered with")
	}
}

func TestCookieReplyRoundTrip(t *testing.T) {
	sk, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pk := sk.publicKey()

	var checker CookieChecker
	checker.Init(pk)

	var gen CookieGenerator
	gen.Init(pk)

	msg := make([]byte, MessageInitiationSize)
	gen.AddMACs(msg)

	addr := conn.NewEndpoint(netip.MustParseAddrPort("203.0.113.1:51820"))

	reply, err := checker.CreateReply(msg, 42, addr)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Receiver != 42 {
		t.Fatalf("reply.Receiver = %d, want 42", reply.Receiver)
	}

	if !gen.ConsumeReply(reply) {
		t.Fatal("generator should be able to decrypt its own requested cookie reply")
	}

	// With a fresh cookie on file, the next AddMACs call should stamp a
	// non-zero mac2 that the checker accepts.
	gen.AddMACs(msg)
	if !checker.CheckMAC2(msg, addr) {
		t.Fatal("mac2 stamped after consuming a cookie reply should validate")
	}

	if checker.CheckMAC2(msg, conn.NewEndpoint(netip.MustParseAddrPort("203.0.113.2:51820"))) {
		t.Fatal("mac2 is bound to the source address and must not validate for a different one")
	}
}

func TestCookieGeneratorRejectsReplyWithoutMAC1(t *testing.T) {
	sk, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pk := sk.publicKey()

	var gen CookieGenerator
	gen.Init(pk)

	if gen.ConsumeReply(&MessageCookieReply{}) {
		t.Fatal("a generator that never stamped mac1 has nothing to bind a cookie reply to")
	}
}
