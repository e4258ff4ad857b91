// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package blockcipher

import "encoding/binary"

// sbox is the AES S-box, generated at init from the multiplicative inverse
// in GF(2^8) followed by the affine transform.
var sbox [256]byte

// powx holds the round constants x^(i) in GF(2^8)
var powx [16]byte

func init() {
	p, q := byte(1), byte(1)
	for {
		// p *= 3
		if p&0x80 != 0 {
			p = p ^ (p << 1) ^ 0x1b
		} else {
			p = p ^ (p << 1)
		}

		// q /= 3
		q ^= q << 1
		q ^= q << 2
		q ^= q << 4
		if q&0x80 != 0 {
			q ^= 0x09
		}

		x := q ^ rotl8(q, 1) ^ rotl8(q, 2) ^ rotl8(q, 3) ^ rotl8(q, 4)
		sbox[p] = x ^ 0x63

		if p == 1 {
			break
		}
	}
	sbox[0] = 0x63

	r := byte(1)
	for i := range powx {
		powx[i] = r
		if r&0x80 != 0 {
			r = r<<1 ^ 0x1b
		} else {
			r <<= 1
		}
	}
}

func rotl8(x byte, n uint) byte {
	return x<<n | x>>(8-n)
}

func subw(w uint32) uint32 {
	return uint32(sbox[w>>24])<<24 |
		uint32(sbox[w>>16&0xff])<<16 |
		uint32(sbox[w>>8&0xff])<<8 |
		uint32(sbox[w&0xff])
}

func rotw(w uint32) uint32 {
	return w<<8 | w>>24
}

// scheduleTerm is the value XORed into w[i-nk] to produce w[i]
func scheduleTerm(prev uint32, i, nk int) uint32 {
	switch {
	case i%nk == 0:
		return subw(rotw(prev)) ^ uint32(powx[i/nk-1])<<24
	case nk > 6 && i%nk == 4:
		return subw(prev)
	default:
		return prev
	}
}

// expandKey returns the full AES key schedule as 32-bit words
func expandKey(key []byte) []uint32 {
	nk := len(key) / 4
	n := 4 * (nk + 7)
	w := make([]uint32, n)
	for i := 0; i < nk; i++ {
		w[i] = binary.BigEndian.Uint32(key[4*i:])
	}
	for i := nk; i < n; i++ {
		w[i] = w[i-nk] ^ scheduleTerm(w[i-1], i, nk)
	}
	return w
}

// DeriveLastSubkey returns the final key-length slice of the AES key
// schedule for key: the round 10 key for AES-128, round keys 13 and 14 for
// AES-256. AES accelerators that keep the expanded key in a register after
// encrypting need this value loaded to run decryption.
func DeriveLastSubkey(key []byte) ([]byte, error) {
	if !ValidKeySize(len(key)) {
		return nil, &CryptoError{Op: "derive last subkey", Err: ErrInvalidKeySize}
	}
	w := expandKey(key)
	defer clearWords(w)

	nk := len(key) / 4
	out := make([]byte, len(key))
	for i, word := range w[len(w)-nk:] {
		binary.BigEndian.PutUint32(out[4*i:], word)
	}
	return out, nil
}

// RecoverKey runs the key schedule backwards from a last subkey to the
// cipher key it was derived from.
func RecoverKey(subkey []byte) ([]byte, error) {
	if !ValidKeySize(len(subkey)) {
		return nil, &CryptoError{Op: "recover key", Err: ErrInvalidKeySize}
	}
	nk := len(subkey) / 4
	n := 4 * (nk + 7)
	w := make([]uint32, n)
	defer clearWords(w)

	for i := 0; i < nk; i++ {
		w[n-nk+i] = binary.BigEndian.Uint32(subkey[4*i:])
	}
	for i := n - 1; i >= nk; i-- {
		w[i-nk] = w[i] ^ scheduleTerm(w[i-1], i, nk)
	}

	out := make([]byte, len(subkey))
	for i := 0; i < nk; i++ {
		binary.BigEndian.PutUint32(out[4*i:], w[i])
	}
	return out, nil
}

func clearWords(w []uint32) {
	for i := range w {
		w[i] = 0
	}
}
