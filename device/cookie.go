/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/hmac"
	"crypto/rand"
	"sync"
	"time"

	"golang.org/x/crypto/blake2s"

	"github.com/prismnet/tunnel/conn"
	"github.com/prismnet/tunnel/xchacha20poly1305"
)

// CookieChecker is the device-wide half of the anti-DoS cookie scheme: it
// validates mac1 on every incoming handshake message, and — once the
// device decides it's under load — validates mac2 and can mint cookie
// replies so unverified sources have to prove they saw one before the
// expensive DH work of a real handshake runs.
type CookieChecker struct {
	mutex     sync.RWMutex
	secret    [blake2s.Size]byte
	refreshed time.Time
	keyMAC1   [blake2s.Size]byte
	keyMAC2   [blake2s.Size]byte
}

func (state *CookieChecker) Init(pk NoisePublicKey) {
	state.mutex.Lock()
	defer state.mutex.Unlock()

	state.keyMAC1 = macKey(WGLabelMAC1, pk)
	state.keyMAC2 = macKey(WGLabelCookie, pk)
	state.refreshed = time.Time{}
}

func macKey(label string, pk NoisePublicKey) (key [blake2s.Size]byte) {
	h, _ := blake2s.New256(nil)
	h.Write([]byte(label))
	h.Write(pk[:])
	h.Sum(key[:0])
	return
}

func (state *CookieChecker) CheckMAC1(msg []byte) bool {
	size := len(msg)
	startMAC1 := size - blake2s.Size128*2
	startMAC2 := size - blake2s.Size128

	state.mutex.RLock()
	key := state.keyMAC1
	state.mutex.RUnlock()

	var mac1 [blake2s.Size128]byte
	mac, _ := blake2s.New128(key[:])
	mac.Write(msg[:startMAC1])
	mac.Sum(mac1[:0])

	return hmac.Equal(mac1[:], msg[startMAC1:startMAC2])
}

// CheckMAC2 reports whether msg's trailing mac2 proves the source recently
// received a cookie reply from addr. Returns false (not an error) once
// CookieRefreshTime has elapsed since the last secret rotation.
func (state *CookieChecker) CheckMAC2(msg []byte, addr conn.Endpoint) bool {
	state.mutex.RLock()
	defer state.mutex.RUnlock()

	if time.Since(state.refreshed) > CookieRefreshTime {
		return false
	}

	cookie := deriveCookie(state.secret, addr)

	start := len(msg) - blake2s.Size128
	var mac2 [blake2s.Size128]byte
	mac, _ := blake2s.New128(cookie[:])
	mac.Write(msg[:start])
	mac.Sum(mac2[:0])

	return hmac.Equal(mac2[:], msg[start:])
}

func deriveCookie(secret [blake2s.Size]byte, addr conn.Endpoint) (cookie [blake2s.Size128]byte) {
	mac, _ := blake2s.New128(secret[:])
	mac.Write(addr.DstToBytes())
	mac.Sum(cookie[:0])
	return
}

// CreateReply builds a cookie reply for the handshake message msg, which
// arrived on session index receiver from addr.
func (state *CookieChecker) CreateReply(msg []byte, receiver uint32, addr conn.Endpoint) (*MessageCookieReply, error) {
	state.mutex.Lock()
	if time.Since(state.refreshed) > CookieRefreshTime {
		if _, err := rand.Read(state.secret[:]); err != nil {
			state.mutex.Unlock()
			return nil, err
		}
		state.refreshed = time.Now()
	}
	secret := state.secret
	key := state.keyMAC2
	state.mutex.Unlock()

	cookie := deriveCookie(secret, addr)

	size := len(msg)
	startMAC1 := size - blake2s.Size128*2
	startMAC2 := size - blake2s.Size128
	mac1 := msg[startMAC1:startMAC2]

	reply := &MessageCookieReply{
		Type:     MessageCookieReplyType,
		Receiver: receiver,
	}
	if _, err := rand.Read(reply.Nonce[:]); err != nil {
		return nil, err
	}

	xchacha20poly1305.Encrypt(reply.Cookie[:0], &reply.Nonce, cookie[:], mac1, &key)
	return reply, nil
}

// CookieGenerator is the per-peer half: it stamps outgoing handshake
// messages with mac1 (and mac2 once a cookie has been received) and
// remembers the cookie a MessageCookieReply last handed back.
type CookieGenerator struct {
	mutex     sync.RWMutex
	cookieSet time.Time
	cookie    [blake2s.Size128]byte
	lastMAC1  [blake2s.Size128]byte
	haveMAC1  bool
	keyMAC1   [blake2s.Size]byte
	keyMAC2   [blake2s.Size]byte
}

func (gen *CookieGenerator) Init(pk NoisePublicKey) {
	gen.mutex.Lock()
	defer gen.mutex.Unlock()

	gen.keyMAC1 = macKey(WGLabelMAC1, pk)
	gen.keyMAC2 = macKey(WGLabelCookie, pk)
	gen.cookieSet = time.Time{}
}

// AddMACs stamps msg's mac1 field, and mac2 too if a cookie is still fresh.
func (gen *CookieGenerator) AddMACs(msg []byte) {
	size := len(msg)
	startMAC1 := size - blake2s.Size128*2
	startMAC2 := size - blake2s.Size128

	mac1 := msg[startMAC1:startMAC2]
	mac2 := msg[startMAC2:]

	gen.mutex.Lock()
	defer gen.mutex.Unlock()

	mac, _ := blake2s.New128(gen.keyMAC1[:])
	mac.Write(msg[:startMAC1])
	mac.Sum(mac1[:0])
	copy(gen.lastMAC1[:], mac1)
	gen.haveMAC1 = true

	if gen.cookieSet.IsZero() {
		return
	}
	if time.Since(gen.cookieSet) > CookieRefreshTime {
		gen.cookieSet = time.Time{}
		return
	}

	mac, _ = blake2s.New128(gen.cookie[:])
	mac.Write(msg[:startMAC2])
	mac.Sum(mac2[:0])
}

// ConsumeReply decrypts reply, storing its cookie for subsequent AddMACs
// calls. Reports whether the reply authenticated correctly.
func (gen *CookieGenerator) ConsumeReply(reply *MessageCookieReply) bool {
	gen.mutex.Lock()
	defer gen.mutex.Unlock()

	if !gen.haveMAC1 {
		return false
	}

	var cookie [blake2s.Size128]byte
	_, err := xchacha20poly1305.Decrypt(cookie[:0], &reply.Nonce, reply.Cookie[:], gen.lastMAC1[:], &gen.keyMAC2)
	if err != nil {
		return false
	}

	gen.cookie = cookie
	gen.cookieSet = time.Now()
	return true
}
