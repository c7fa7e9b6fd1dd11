/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import "testing"

func TestPaddedLen(t *testing.T) {
	mtu := 1420

	cases := []struct {
		size, mtu, want int
	}{
		{0, mtu, 0},
		{1, mtu, PaddingMultiple},
		{PaddingMultiple, mtu, PaddingMultiple},
		{PaddingMultiple + 1, mtu, 2 * PaddingMultiple},
		{mtu, mtu, mtu},
		{mtu + 1, mtu, mtu + 1}, // oversized content is passed through, never truncated
		{mtu - 3, mtu, mtu},     // rounds up but caps at mtu rather than overshooting it
	}

	for _, c := range cases {
		got := paddedLen(c.size, c.mtu)
		if got != c.want {
			t.Errorf("paddedLen(%d, %d) = %d, want %d", c.size, c.mtu, got, c.want)
		}
	}
}

func TestPaddedLenNeverShrinks(t *testing.T) {
	for size := 0; size < 4096; size++ {
		got := paddedLen(size, 1420)
		if got < size && size <= 1420 {
			t.Fatalf("paddedLen(%d, 1420) = %d shrank below input", size, got)
		}
	}
}
