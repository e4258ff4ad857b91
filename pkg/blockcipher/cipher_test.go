// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package blockcipher

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// FIPS-197 appendix C vectors
var fipsVectors = []struct {
	name       string
	key        string
	plaintext  string
	ciphertext string
}{
	{
		name:       "AES-128",
		key:        "000102030405060708090a0b0c0d0e0f",
		plaintext:  "00112233445566778899aabbccddeeff",
		ciphertext: "69c4e0d86a7b0430d8cdb78070b4c55a",
	},
	{
		name:       "AES-256",
		key:        "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		plaintext:  "00112233445566778899aabbccddeeff",
		ciphertext: "8ea2b7ca516745bfeafc49904b496089",
	},
}

func backends() []Cipher {
	return []Cipher{&Software{}, NewAccelerator(NewEmulatedEngine())}
}

func TestCipher_FIPS197(t *testing.T) {
	for _, c := range backends() {
		for _, v := range fipsVectors {
			t.Run(c.Name()+"/"+v.name, func(t *testing.T) {
				key := mustHex(t, v.key)
				block := mustHex(t, v.plaintext)

				if err := c.EncryptBlock(key, block); err != nil {
					t.Fatalf("EncryptBlock failed: %v", err)
				}
				if hex.EncodeToString(block) != v.ciphertext {
					t.Fatalf("Expected ciphertext %s, got %x", v.ciphertext, block)
				}

				dk, err := c.DecryptionKey(key)
				if err != nil {
					t.Fatalf("DecryptionKey failed: %v", err)
				}
				if err := c.DecryptBlock(dk, block); err != nil {
					t.Fatalf("DecryptBlock failed: %v", err)
				}
				if hex.EncodeToString(block) != v.plaintext {
					t.Fatalf("Expected plaintext %s, got %x", v.plaintext, block)
				}
				if hex.EncodeToString(key) != v.key {
					t.Error("Key must not be mutated")
				}
			})
		}
	}
}

func TestCipher_InvalidArguments(t *testing.T) {
	for _, c := range backends() {
		t.Run(c.Name(), func(t *testing.T) {
			if err := c.EncryptBlock(make([]byte, 24), make([]byte, 16)); !errors.Is(err, ErrInvalidKeySize) {
				t.Errorf("Expected ErrInvalidKeySize for 24-byte key, got %v", err)
			}
			if err := c.EncryptBlock(make([]byte, 16), make([]byte, 15)); !errors.Is(err, ErrInvalidBlockSize) {
				t.Errorf("Expected ErrInvalidBlockSize, got %v", err)
			}
			if err := c.DecryptBlock(make([]byte, 16), make([]byte, 32)); !errors.Is(err, ErrInvalidBlockSize) {
				t.Errorf("Expected ErrInvalidBlockSize, got %v", err)
			}
			if _, err := c.DecryptionKey(make([]byte, 8)); !errors.Is(err, ErrInvalidKeySize) {
				t.Errorf("Expected ErrInvalidKeySize, got %v", err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", BackendSoftware, false},
		{"software", BackendSoftware, false},
		{"Accelerator", BackendAccelerator, false},
		{"dcp", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownBackend) {
					t.Fatalf("Expected ErrUnknownBackend, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c.Name() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, c.Name())
			}
		})
	}
}

func TestAccelerator_RetriesOnce(t *testing.T) {
	engine := NewEmulatedEngine()
	a := NewAccelerator(engine)
	key := mustHex(t, fipsVectors[0].key)
	block := mustHex(t, fipsVectors[0].plaintext)

	engine.InjectFaults(1)
	if err := a.EncryptBlock(key, block); err != nil {
		t.Fatalf("Expected a single fault to be absorbed, got %v", err)
	}
	if hex.EncodeToString(block) != fipsVectors[0].ciphertext {
		t.Errorf("Expected ciphertext %s after retry, got %x", fipsVectors[0].ciphertext, block)
	}
	if engine.Runs() != 2 {
		t.Errorf("Expected 2 engine runs, got %d", engine.Runs())
	}
}

func TestAccelerator_PersistentFault(t *testing.T) {
	engine := NewEmulatedEngine()
	a := NewAccelerator(engine)
	key := mustHex(t, fipsVectors[0].key)
	block := mustHex(t, fipsVectors[0].plaintext)
	orig := append([]byte(nil), block...)

	engine.InjectFaults(2)
	err := a.EncryptBlock(key, block)
	if !errors.Is(err, ErrAcceleratorFault) {
		t.Fatalf("Expected ErrAcceleratorFault, got %v", err)
	}

	var cryptoErr *CryptoError
	if !errors.As(err, &cryptoErr) || cryptoErr.Op != "encrypt" {
		t.Errorf("Expected CryptoError with op encrypt, got %v", err)
	}
	if !bytes.Equal(block, orig) {
		t.Error("Block must not be modified when the engine fails")
	}
}
