/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import "testing"

func TestReplayFilterFirstUse(t *testing.T) {
	var filter ReplayFilter
	filter.Init()

	if !filter.ValidateCounter(0) {
		t.Fatal("first use of counter 0 should validate")
	}
	if filter.ValidateCounter(0) {
		t.Fatal("replaying counter 0 should be rejected")
	}
}

func TestReplayFilterOutOfOrder(t *testing.T) {
	var filter ReplayFilter
	filter.Init()

	order := []uint64{2, 1, 0, 4, 3}
	for _, c := range order {
		if !filter.ValidateCounter(c) {
			t.Fatalf("counter %d should validate on first sight", c)
		}
	}
	for _, c := range order {
		if filter.ValidateCounter(c) {
			t.Fatalf("counter %d replayed should be rejected", c)
		}
	}
}

func TestReplayFilterWindowSlides(t *testing.T) {
	var filter ReplayFilter
	filter.Init()

	if !filter.ValidateCounter(0) {
		t.Fatal("counter 0 should validate")
	}

	// Advance far enough that 0 falls outside the sliding window.
	far := CounterWindowSize + 1
	if !filter.ValidateCounter(far) {
		t.Fatalf("counter %d should validate", far)
	}
	if filter.ValidateCounter(0) {
		t.Fatal("counter 0 should now be outside the window and rejected")
	}
}

func TestReplayFilterRejectsAtCeiling(t *testing.T) {
	var filter ReplayFilter
	filter.Init()

	if filter.ValidateCounter(RejectAfterMessages) {
		t.Fatal("counter at RejectAfterMessages must never validate")
	}
}
