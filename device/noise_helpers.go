/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/hmac"
	"crypto/rand"
	"hash"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/curve25519"
)

/* KDF related functions.
 * HMAC-based Key Derivation Function (HKDF)
 * https://tools.ietf.org/html/rfc5869
 */

func HMAC1(sum *[blake2s.Size]byte, key, input []byte) {
	mac := hmac.New(func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	}, key)
	mac.Write(input)
	mac.Sum(sum[:0])
}

func KDF1(key, input []byte) (t0 [blake2s.Size]byte) {
	HMAC1(&t0, key, input)
	HMAC1(&t0, t0[:], []byte{0x1})
	return
}

func KDF2(key, input []byte) (t0, t1 [blake2s.Size]byte) {
	var prk [blake2s.Size]byte
	HMAC1(&prk, key, input)
	HMAC1(&t0, prk[:], []byte{0x1})
	HMAC1(&t1, prk[:], append(append([]byte{}, t0[:]...), 0x2))
	prk = [blake2s.Size]byte{}
	return
}

func KDF3(key, input []byte) (t0, t1, t2 [blake2s.Size]byte) {
	var prk [blake2s.Size]byte
	HMAC1(&prk, key, input)
	HMAC1(&t0, prk[:], []byte{0x1})
	HMAC1(&t1, prk[:], append(append([]byte{}, t0[:]...), 0x2))
	HMAC1(&t2, prk[:], append(append([]byte{}, t1[:]...), 0x3))
	prk = [blake2s.Size]byte{}
	return
}

/* curve25519 wrappers */

func newPrivateKey() (sk NoisePrivateKey, err error) {
	_, err = rand.Read(sk[:])
	sk.clamp()
	return
}

func (key *NoisePrivateKey) clamp() {
	key[0] &= 248
	key[31] = (key[31] & 127) | 64
}

func (sk *NoisePrivateKey) publicKey() (pk NoisePublicKey) {
	apk := (*[NoisePublicKeySize]byte)(&pk)
	ask := (*[NoisePrivateKeySize]byte)(sk)
	curve25519.ScalarBaseMult(apk, ask)
	return
}

func (sk *NoisePrivateKey) sharedSecret(pk NoisePublicKey) (ss [NoisePublicKeySize]byte) {
	apk := (*[NoisePublicKeySize]byte)(&pk)
	ask := (*[NoisePrivateKeySize]byte)(sk)
	curve25519.ScalarMult(&ss, ask, apk)
	return ss
}
