// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package cbc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
)

func backends() []blockcipher.Cipher {
	return []blockcipher.Cipher{
		&blockcipher.Software{},
		blockcipher.NewAccelerator(blockcipher.NewEmulatedEngine()),
	}
}

func randBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	for _, c := range backends() {
		for _, keySize := range []int{16, 32} {
			for _, n := range []int{16, 32, 512, 4096} {
				key := randBytes(t, keySize)
				iv := randBytes(t, 16)
				plain := randBytes(t, n)
				buf := append([]byte(nil), plain...)

				if got, err := Encrypt(c, key, iv, buf); err != nil || got != n {
					t.Fatalf("%s: Encrypt returned %d, %v", c.Name(), got, err)
				}
				if bytes.Equal(buf, plain) {
					t.Fatalf("%s: ciphertext equals plaintext", c.Name())
				}

				dk, err := c.DecryptionKey(key)
				if err != nil {
					t.Fatalf("DecryptionKey failed: %v", err)
				}
				if got, err := Decrypt(c, dk, iv, buf); err != nil || got != n {
					t.Fatalf("%s: Decrypt returned %d, %v", c.Name(), got, err)
				}
				if !bytes.Equal(buf, plain) {
					t.Errorf("%s/%d/%d: round trip mismatch", c.Name(), keySize, n)
				}
			}
		}
	}
}

func TestMatchesStandardLibrary(t *testing.T) {
	key := randBytes(t, 16)
	iv := randBytes(t, 16)
	plain := randBytes(t, 512)

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(want, plain)

	for _, c := range backends() {
		buf := append([]byte(nil), plain...)
		if _, err := Encrypt(c, key, iv, buf); err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if !bytes.Equal(buf, want) {
			t.Errorf("%s: ciphertext differs from crypto/cipher CBC", c.Name())
		}
	}
}

func TestInputsNotMutated(t *testing.T) {
	c := &blockcipher.Software{}
	key := randBytes(t, 16)
	iv := randBytes(t, 16)
	keyCopy := append([]byte(nil), key...)
	ivCopy := append([]byte(nil), iv...)

	buf := randBytes(t, 64)
	if _, err := Encrypt(c, key, iv, buf); err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(c, key, iv, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(key, keyCopy) || !bytes.Equal(iv, ivCopy) {
		t.Error("key and iv must be read-only")
	}
}

func TestInvalidLength(t *testing.T) {
	c := &blockcipher.Software{}
	key := make([]byte, 16)

	tests := []struct {
		name  string
		ivLen int
		n     int
	}{
		{"empty buffer", 16, 0},
		{"short buffer", 16, 15},
		{"unaligned buffer", 16, 33},
		{"short iv", 8, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := bytes.Repeat([]byte{0xAA}, tt.n)
			orig := append([]byte(nil), buf...)
			iv := make([]byte, tt.ivLen)

			n, err := Encrypt(c, key, iv, buf)
			if n != 0 || !errors.Is(err, ErrInvalidLength) {
				t.Errorf("Encrypt: expected 0, ErrInvalidLength; got %d, %v", n, err)
			}
			n, err = Decrypt(c, key, iv, buf)
			if n != 0 || !errors.Is(err, ErrInvalidLength) {
				t.Errorf("Decrypt: expected 0, ErrInvalidLength; got %d, %v", n, err)
			}
			if !bytes.Equal(buf, orig) {
				t.Error("buffer must be untouched on a length error")
			}
		})
	}
}

func TestAcceleratorFaultPropagates(t *testing.T) {
	engine := blockcipher.NewEmulatedEngine()
	c := blockcipher.NewAccelerator(engine)
	key := randBytes(t, 16)
	iv := randBytes(t, 16)
	buf := randBytes(t, 64)

	engine.InjectFaults(2)
	n, err := Encrypt(c, key, iv, buf)
	if n != 0 {
		t.Errorf("Expected 0 bytes processed, got %d", n)
	}
	if !errors.Is(err, blockcipher.ErrAcceleratorFault) {
		t.Errorf("Expected ErrAcceleratorFault, got %v", err)
	}
}
