// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package essiv

import (
	"crypto/aes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
)

func TestIV_MatchesConstruction(t *testing.T) {
	key := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	hash := sha256.Sum256(key)

	for _, keySize := range []int{16, 32} {
		d, err := New(&blockcipher.Software{}, hash[:], keySize)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		iv, err := d.IV(5)
		if err != nil {
			t.Fatalf("IV failed: %v", err)
		}

		block, _ := aes.NewCipher(hash[:keySize])
		var want [16]byte
		binary.LittleEndian.PutUint32(want[:], 5)
		block.Encrypt(want[:], want[:])

		if iv != want {
			t.Errorf("keySize %d: expected %x, got %x", keySize, want, iv)
		}
	}
}

func TestIV_Deterministic(t *testing.T) {
	hash := sha256.Sum256([]byte("disk key"))
	d1, _ := New(&blockcipher.Software{}, hash[:], 16)
	d2, _ := New(blockcipher.NewAccelerator(blockcipher.NewEmulatedEngine()), hash[:], 16)

	seen := make(map[[16]byte]uint32)
	for _, sector := range []uint32{0, 1, 2, 5, 6, 255, 256, 1 << 16, 1<<32 - 1} {
		a, err := d1.IV(sector)
		if err != nil {
			t.Fatal(err)
		}
		b, err := d1.IV(sector)
		if err != nil {
			t.Fatal(err)
		}
		c, err := d2.IV(sector)
		if err != nil {
			t.Fatal(err)
		}
		if a != b || a != c {
			t.Errorf("sector %d: IV is not a pure function of the index", sector)
		}
		if prev, ok := seen[a]; ok {
			t.Errorf("sectors %d and %d share an IV", prev, sector)
		}
		seen[a] = sector
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(&blockcipher.Software{}, make([]byte, 32), 24); !errors.Is(err, blockcipher.ErrInvalidKeySize) {
		t.Errorf("Expected ErrInvalidKeySize, got %v", err)
	}
	if _, err := New(&blockcipher.Software{}, make([]byte, 16), 32); !errors.Is(err, ErrShortKeyHash) {
		t.Errorf("Expected ErrShortKeyHash, got %v", err)
	}
}

func TestNew_CopiesKey(t *testing.T) {
	hash := sha256.Sum256([]byte("k"))
	d, _ := New(&blockcipher.Software{}, hash[:], 16)
	before, _ := d.IV(1)

	hash[0] ^= 0xFF
	after, _ := d.IV(1)
	if before != after {
		t.Error("Deriver must not alias the caller's key hash")
	}
}

func TestWipe(t *testing.T) {
	hash := sha256.Sum256([]byte("k"))
	d, _ := New(&blockcipher.Software{}, hash[:], 16)
	d.Wipe()
	if _, err := d.IV(0); !errors.Is(err, blockcipher.ErrInvalidKeySize) {
		t.Errorf("Expected a wiped deriver to refuse, got %v", err)
	}
}
