/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package conn

import (
	"net/netip"
	"strconv"
	"testing"
	"time"
)

func mustOpen(t *testing.T, bind Bind) ([]ReceiveFunc, uint16) {
	t.Helper()
	fns, port, err := bind.Open(0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(fns) == 0 {
		t.Fatalf("Open() returned no receive funcs")
	}
	if port == 0 {
		t.Fatalf("Open() returned port 0 after requesting an ephemeral port")
	}
	return fns, port
}

func TestBindOpenAssignsPort(t *testing.T) {
	bind := NewNativeBind()
	defer bind.Close()

	_, port := mustOpen(t, bind)
	if got := bind.LastMark(); got != 0 {
		t.Fatalf("LastMark() before SetMark = %d, want 0", got)
	}
	_ = port
}

func TestBindOpenTwiceFails(t *testing.T) {
	bind := NewNativeBind()
	defer bind.Close()

	mustOpen(t, bind)
	if _, _, err := bind.Open(0); err != ErrBindAlreadyOpen {
		t.Fatalf("second Open() error = %v, want ErrBindAlreadyOpen", err)
	}
}

func TestBindSendReceiveLoopback(t *testing.T) {
	server := NewNativeBind()
	defer server.Close()
	fns, port := mustOpen(t, server)

	client := NewNativeBind()
	defer client.Close()
	mustOpen(t, client)

	dst := NewEndpoint(netip.MustParseAddrPort("127.0.0.1:" + strconv.Itoa(int(port))))
	msg := []byte("handshake-initiation-stand-in")
	if err := client.Send(msg, dst); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	recv := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 2048)
		for _, fn := range fns {
			n, _, err := fn(buf)
			if err == nil {
				recv <- append([]byte(nil), buf[:n]...)
				return
			}
		}
	}()

	select {
	case got := <-recv:
		if string(got) != string(msg) {
			t.Fatalf("received %q, want %q", got, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for loopback datagram")
	}
}
