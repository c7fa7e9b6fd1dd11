/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	RatelimiterPacketsPerSecond   = 20
	RatelimiterPacketsBurstable   = 5
	RatelimiterGarbageCollectTime = time.Second
)

// Ratelimiter bounds how often an unauthenticated source address may
// trigger expensive handshake processing, one token bucket per source IP.
// Ported from the classic per-IP token bucket to golang.org/x/time/rate,
// which already implements the same algorithm without the hand-rolled
// nanosecond bookkeeping.
type ratelimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Ratelimiter struct {
	mutex   sync.Mutex
	table   map[netip.Addr]*ratelimiterEntry
	stop    chan struct{}
	stopped sync.Once
}

func (r *Ratelimiter) Init() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.table = make(map[netip.Addr]*ratelimiterEntry)
	r.stop = make(chan struct{})
	go r.routineGarbageCollect()
}

func (r *Ratelimiter) Close() {
	r.stopped.Do(func() {
		close(r.stop)
	})
}

func (r *Ratelimiter) routineGarbageCollect() {
	ticker := time.NewTicker(RatelimiterGarbageCollectTime)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mutex.Lock()
			for addr, entry := range r.table {
				if time.Since(entry.lastSeen) > RatelimiterGarbageCollectTime {
					delete(r.table, addr)
				}
			}
			r.mutex.Unlock()
		}
	}
}

// Allow reports whether a packet from addr may proceed to expensive
// handling right now, consuming a token if so.
func (r *Ratelimiter) Allow(addr netip.Addr) bool {
	r.mutex.Lock()
	entry, ok := r.table[addr]
	if !ok {
		entry = &ratelimiterEntry{
			limiter: rate.NewLimiter(rate.Limit(RatelimiterPacketsPerSecond), RatelimiterPacketsBurstable),
		}
		r.table[addr] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	r.mutex.Unlock()

	return limiter.Allow()
}
