// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package blockcipher

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestSbox(t *testing.T) {
	tests := map[byte]byte{
		0x00: 0x63,
		0x01: 0x7c,
		0x10: 0xca,
		0x53: 0xed,
		0xc9: 0xdd,
		0xff: 0x16,
	}
	for in, want := range tests {
		if sbox[in] != want {
			t.Errorf("sbox[%#02x]: expected %#02x, got %#02x", in, want, sbox[in])
		}
	}
}

func TestDeriveLastSubkey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{
			name: "FIPS-197 A.1",
			key:  "2b7e151628aed2a6abf7158809cf4f3c",
			want: "d014f9a8c9ee2589e13f0cc8b6630ca6",
		},
		{
			name: "FIPS-197 C.1",
			key:  "000102030405060708090a0b0c0d0e0f",
			want: "13111d7fe3944a17f307a78b4d2b30c5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveLastSubkey(mustHex(t, tt.key))
			if err != nil {
				t.Fatalf("DeriveLastSubkey failed: %v", err)
			}
			if hex.EncodeToString(got) != tt.want {
				t.Errorf("Expected %s, got %x", tt.want, got)
			}
		})
	}
}

func TestDeriveLastSubkey_AES256(t *testing.T) {
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	got, err := DeriveLastSubkey(key)
	if err != nil {
		t.Fatalf("DeriveLastSubkey failed: %v", err)
	}
	if len(got) != 32 {
		t.Fatalf("Expected 32-byte subkey, got %d", len(got))
	}
	// round 14 key from FIPS-197 C.3
	if hex.EncodeToString(got[16:]) != "24fc79ccbf0979e9371ac23c6d68de36" {
		t.Errorf("Unexpected final round key %x", got[16:])
	}
}

func TestRecoverKey_InvertsSchedule(t *testing.T) {
	keys := []string{
		"000102030405060708090a0b0c0d0e0f",
		"2b7e151628aed2a6abf7158809cf4f3c",
		"ffffffffffffffffffffffffffffffff",
		"000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		"603deb1015ca71be2b73aef0857d77811f352c073b6108d72d9810a30914dff4",
	}

	for _, k := range keys {
		t.Run(k, func(t *testing.T) {
			key := mustHex(t, k)
			sub, err := DeriveLastSubkey(key)
			if err != nil {
				t.Fatalf("DeriveLastSubkey failed: %v", err)
			}
			back, err := RecoverKey(sub)
			if err != nil {
				t.Fatalf("RecoverKey failed: %v", err)
			}
			if !bytes.Equal(back, key) {
				t.Errorf("Expected %x, got %x", key, back)
			}
		})
	}
}

func TestEmulatedEngine_DecryptNeedsLastSubkey(t *testing.T) {
	engine := NewEmulatedEngine()
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	state := mustHex(t, "69c4e0d86a7b0430d8cdb78070b4c55a")

	// loading the cipher key for decryption does not give the plaintext
	wrong := append([]byte(nil), state...)
	if err := engine.Run(key, wrong, true); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if hex.EncodeToString(wrong) == "00112233445566778899aabbccddeeff" {
		t.Fatal("Engine decrypted with the cipher key; expected last-subkey semantics")
	}

	sub, _ := DeriveLastSubkey(key)
	if err := engine.Run(sub, state, true); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if hex.EncodeToString(state) != "00112233445566778899aabbccddeeff" {
		t.Errorf("Unexpected plaintext %x", state)
	}
}
