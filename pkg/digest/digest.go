// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package digest provides the fixed 32-byte hash used for passphrase
// verification and disk key hashing.
package digest

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2s"
)

// Size is the output length of every supported hash
const Size = 32

// Supported hash names
const (
	NameSHA256  = "sha256"
	NameBLAKE2s = "blake2s"
)

// ErrUnsupportedHash indicates the hash algorithm is not supported
var ErrUnsupportedHash = errors.New("unsupported hash algorithm")

// Hash is a one-way function with a 32-byte output
type Hash struct {
	name string
	sum  func([]byte) [Size]byte
}

// SHA256 is the default hash
var SHA256 = Hash{name: NameSHA256, sum: sha256.Sum256}

// BLAKE2s is BLAKE2s-256 without a key
var BLAKE2s = Hash{name: NameBLAKE2s, sum: blake2s.Sum256}

// ByName returns the hash registered under name. An empty name selects
// SHA256.
func ByName(name string) (Hash, error) {
	switch strings.ToLower(name) {
	case "", NameSHA256, "sha-256":
		return SHA256, nil
	case NameBLAKE2s, "blake2s-256":
		return BLAKE2s, nil
	default:
		return Hash{}, fmt.Errorf("%w: %s", ErrUnsupportedHash, name)
	}
}

// Name returns the canonical name of the hash
func (h Hash) Name() string {
	return h.name
}

// Sum hashes data into a freshly allocated slice. The caller owns the
// result and is responsible for wiping it.
func (h Hash) Sum(data []byte) []byte {
	if h.sum == nil {
		h = SHA256
	}
	out := h.sum(data)
	b := make([]byte, Size)
	copy(b, out[:])
	for i := range out {
		out[i] = 0
	}
	return b
}
