/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"bufio"
	"fmt"
	"strings"
	"testing"
)

func TestIpcSetGetPeerRoundTrip(t *testing.T) {
	device := newTestDevice(t)

	sk, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	peerSK, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	peerPK := peerSK.publicKey()

	set := fmt.Sprintf(
		"private_key=%s\npublic_key=%s\nendpoint=192.0.2.1:51820\nallowed_ip=10.0.0.2/32\npersistent_keepalive_interval=25\n\n",
		sk.ToHex(), peerPK.ToHex(),
	)

	if err := device.IpcSetOperation(bufio.NewReader(strings.NewReader(set))); err != nil {
		t.Fatalf("IpcSetOperation failed: %v", err)
	}

	peer := device.LookupPeer(peerPK)
	if peer == nil {
		t.Fatal("expected peer to be created by IpcSetOperation")
	}
	if got := peer.PersistentKeepaliveInterval(); got != 25 {
		t.Fatalf("persistent_keepalive_interval = %d, want 25", got)
	}
	if len(device.router.AllowedIPs(peer)) != 1 {
		t.Fatal("expected one allowed ip to be routed to the peer")
	}

	var buf strings.Builder
	w := bufio.NewWriter(&buf)
	if err := device.IpcGetOperation(w); err != nil {
		t.Fatalf("IpcGetOperation failed: %v", err)
	}
	w.Flush()

	out := buf.String()
	if !strings.Contains(out, "public_key="+peerPK.ToHex()) {
		t.Fatalf("get output missing configured peer: %q", out)
	}
	if !strings.Contains(out, "allowed_ip=10.0.0.2/32") {
		t.Fatalf("get output missing allowed ip: %q", out)
	}
	if !strings.Contains(out, "endpoint=192.0.2.1:51820") {
		t.Fatalf("get output missing endpoint: %q", out)
	}
}

func TestIpcSetRemovePeer(t *testing.T) {
	device := newTestDevice(t)

	peerSK, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	peerPK := peerSK.publicKey()

	add := fmt.Sprintf("public_key=%s\nallowed_ip=10.0.0.2/32\n\n", peerPK.ToHex())
	if err := device.IpcSetOperation(bufio.NewReader(strings.NewReader(add))); err != nil {
		t.Fatal(err)
	}
	if device.LookupPeer(peerPK) == nil {
		t.Fatal("expected peer to exist after add")
	}

	remove := fmt.Sprintf("public_key=%s\nremove=true\n\n", peerPK.ToHex())
	if err := device.IpcSetOperation(bufio.NewReader(strings.NewReader(remove))); err != nil {
		t.Fatal(err)
	}
	if device.LookupPeer(peerPK) != nil {
		t.Fatal("expected peer to be gone after remove=true")
	}
}

func TestIpcSetReplacePeers(t *testing.T) {
	device := newTestDevice(t)

	peerSK, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	peerPK := peerSK.publicKey()

	set := fmt.Sprintf("replace_peers=true\npublic_key=%s\nallowed_ip=10.0.0.2/32\n\n", peerPK.ToHex())
	if err := device.IpcSetOperation(bufio.NewReader(strings.NewReader(set))); err != nil {
		t.Fatal(err)
	}
	if device.LookupPeer(peerPK) == nil {
		t.Fatal("expected peer to exist after replace_peers+public_key")
	}

	clear := "replace_peers=true\n\n"
	if err := device.IpcSetOperation(bufio.NewReader(strings.NewReader(clear))); err != nil {
		t.Fatal(err)
	}
	if device.LookupPeer(peerPK) != nil {
		t.Fatal("replace_peers=true with no following peers should remove all existing ones")
	}
}

func TestIpcSetRejectsMalformedLine(t *testing.T) {
	device := newTestDevice(t)
	err := device.IpcSetOperation(bufio.NewReader(strings.NewReader("not-a-key-value-pair\n\n")))
	if err == nil {
		t.Fatal("expected an error for a line with no '='")
	}
	if _, ok := err.(*IPCError); !ok {
		t.Fatalf("expected an *IPCError, got %T", err)
	}
}

func TestIpcSetRejectsUnknownDeviceKey(t *testing.T) {
	device := newTestDevice(t)
	err := device.IpcSetOperation(bufio.NewReader(strings.NewReader("bogus_key=1\n\n")))
	if err == nil {
		t.Fatal("expected an error for an unrecognized device-level key")
	}
}
