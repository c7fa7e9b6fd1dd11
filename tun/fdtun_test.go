/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package tun

import (
	"io"
	"testing"
)

// pipeFile is a minimal in-memory fder backed by an io.Pipe, so FileTUN can
// be exercised without a real file descriptor.
type pipeFile struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipeFile() *pipeFile {
	r, w := io.Pipe()
	return &pipeFile{r: r, w: w}
}

func (p *pipeFile) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeFile) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeFile) Close() error {
	p.w.Close()
	return p.r.Close()
}

func TestFileTUNReadWrite(t *testing.T) {
	pf := newPipeFile()
	tun := NewFileTUN(pf, "tun0", 1420)

	payload := []byte("hello packet")
	go func() {
		if _, err := tun.Write(payload, 0); err != nil {
			t.Error(err)
		}
	}()

	buf := make([]byte, 64)
	n, err := tun.Read(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("Read() = %q, want %q", buf[:n], payload)
	}
}

func TestFileTUNReadWriteOffset(t *testing.T) {
	pf := newPipeFile()
	tun := NewFileTUN(pf, "tun0", 1420)

	payload := []byte("ip packet bytes")
	buf := make([]byte, 4+len(payload))
	copy(buf[4:], payload)

	go func() {
		if _, err := tun.Write(buf, 4); err != nil {
			t.Error(err)
		}
	}()

	out := make([]byte, 4+64)
	n, err := tun.Read(out, 4)
	if err != nil {
		t.Fatal(err)
	}
	if string(out[4:4+n]) != string(payload) {
		t.Fatalf("Read() with offset = %q, want %q", out[4:4+n], payload)
	}
}

func TestFileTUNMTUAndEvents(t *testing.T) {
	pf := newPipeFile()
	tun := NewFileTUN(pf, "tun0", 1420)

	mtu, err := tun.MTU()
	if err != nil {
		t.Fatal(err)
	}
	if mtu != 1420 {
		t.Fatalf("MTU() = %d, want 1420", mtu)
	}

	tun.SetMTU(1280)
	mtu, _ = tun.MTU()
	if mtu != 1280 {
		t.Fatalf("MTU() after SetMTU = %d, want 1280", mtu)
	}

	select {
	case ev := <-tun.Events():
		if ev != EventMTUUpdate {
			t.Fatalf("got event %v, want EventMTUUpdate", ev)
		}
	default:
		t.Fatal("expected SetMTU to signal EventMTUUpdate")
	}

	if name, _ := tun.Name(); name != "tun0" {
		t.Fatalf("Name() = %q, want tun0", name)
	}

	if err := tun.Close(); err != nil {
		t.Fatal(err)
	}
}
