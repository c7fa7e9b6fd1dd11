/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"testing"
	"time"

	"github.com/prismnet/tunnel/conn"
)

// stubReceiveClosed is a conn.ReceiveFunc that always fails, as a closed
// socket's receive call would.
func stubReceiveClosed(buf []byte) (int, conn.Endpoint, error) {
	return 0, conn.Endpoint{}, errStubClosed
}

var errStubClosed = &stubError{"socket closed"}

type stubError struct{ s string }

func (e *stubError) Error() string { return e.s }

func TestUDPWorkerExitsOnStaleGeneration(t *testing.T) {
	device := newTestDevice(t)
	device.isClosed.Store(false)

	current := device.bindGeneration.Add(1)

	device.wg.Add(1)
	done := make(chan struct{})
	go func() {
		device.RoutineUDPWorker(stubReceiveClosed, current)
		close(done)
	}()

	// Bump the generation, as BindUpdate would after rebinding, so the
	// worker launched for the old bind should notice and exit.
	device.bindGeneration.Add(1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RoutineUDPWorker did not exit after its bind generation went stale")
	}
}
