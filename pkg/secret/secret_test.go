// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package secret

import (
	"bytes"
	"testing"
)

func TestWipe(t *testing.T) {
	tests := []struct {
		name   string
		filler byte
	}{
		{"zeros", 0x00},
		{"passphrase filler", PassphraseFiller},
		{"arbitrary", 0x5A},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := []byte("correct horse battery staple")
			Wipe(b, tt.filler)
			if !bytes.Equal(b, bytes.Repeat([]byte{tt.filler}, len(b))) {
				t.Errorf("Expected buffer filled with %#x, got %x", tt.filler, b)
			}
		})
	}
}

func TestWipe_Empty(t *testing.T) {
	Wipe(nil, 0xFF)
	Wipe([]byte{}, 0xFF)
}

func TestZeroAll(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{4, 5}
	ZeroAll(a, b, nil)
	if !bytes.Equal(a, []byte{0, 0, 0}) || !bytes.Equal(b, []byte{0, 0}) {
		t.Errorf("Expected all slices zeroed, got %v %v", a, b)
	}
}

func TestBuffer_Close(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	buf := From(raw)

	if buf.Len() != 4 {
		t.Fatalf("Expected length 4, got %d", buf.Len())
	}

	buf.Close()

	if !bytes.Equal(raw, make([]byte, 4)) {
		t.Errorf("Expected backing memory zeroed, got %x", raw)
	}
	if buf.Bytes() != nil {
		t.Error("Expected nil bytes after Close")
	}
	if buf.Len() != 0 {
		t.Errorf("Expected length 0 after Close, got %d", buf.Len())
	}
	if !buf.IsClosed() {
		t.Error("Expected buffer to report closed")
	}

	// idempotent
	buf.Close()
}

func TestBuffer_Passphrase(t *testing.T) {
	raw := []byte("hunter2")
	buf := Passphrase(raw)
	buf.Close()

	if !bytes.Equal(raw, bytes.Repeat([]byte{PassphraseFiller}, len(raw))) {
		t.Errorf("Expected passphrase wiped with filler, got %x", raw)
	}
}

func TestBuffer_Copy(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	buf := Copy(src)
	buf.Bytes()[0] = 9
	if src[0] != 1 {
		t.Error("Copy must not alias the source slice")
	}
	buf.Close()
	if src[0] != 1 {
		t.Error("Closing a copy must not wipe the source slice")
	}
}

func TestBuffer_Nil(t *testing.T) {
	var buf *Buffer
	buf.Close()
	if buf.Bytes() != nil || buf.Len() != 0 || !buf.IsClosed() {
		t.Error("Expected nil buffer to behave as closed")
	}
}
