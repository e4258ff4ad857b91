// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package media

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func fill(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestMemory_ReadWrite(t *testing.T) {
	m := NewMemory(512, 8)

	if m.BlockCount() != 8 || m.BlockSize() != 512 {
		t.Fatalf("Unexpected geometry %d x %d", m.BlockCount(), m.BlockSize())
	}

	if err := m.WriteBlock(3, fill(512, 0x42)); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}

	buf := make([]byte, 512)
	if err := m.ReadBlock(3, buf); err != nil {
		t.Fatalf("ReadBlock failed: %v", err)
	}
	if !bytes.Equal(buf, fill(512, 0x42)) {
		t.Error("Read back different data")
	}

	if err := m.ReadBlock(2, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, make([]byte, 512)) {
		t.Error("Neighbouring block was modified")
	}
}

func TestMemory_Errors(t *testing.T) {
	m := NewMemory(512, 4)

	tests := []struct {
		name string
		err  error
		fn   func() error
	}{
		{"read out of range", ErrOutOfRange, func() error { return m.ReadBlock(4, make([]byte, 512)) }},
		{"write out of range", ErrOutOfRange, func() error { return m.WriteBlock(100, make([]byte, 512)) }},
		{"short buffer", ErrBlockSize, func() error { return m.ReadBlock(0, make([]byte, 511)) }},
		{"long buffer", ErrBlockSize, func() error { return m.WriteBlock(0, make([]byte, 1024)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, tt.err) {
				t.Errorf("Expected %v, got %v", tt.err, err)
			}
			var blockErr *BlockError
			if !errors.As(err, &blockErr) {
				t.Errorf("Expected *BlockError, got %T", err)
			}
		})
	}
}

func TestMemory_InjectedErrors(t *testing.T) {
	m := NewMemory(512, 2)
	ioErr := errors.New("card removed")

	m.WriteErr = ioErr
	if err := m.WriteBlock(0, fill(512, 1)); !errors.Is(err, ioErr) {
		t.Errorf("Expected injected write error, got %v", err)
	}
	if !bytes.Equal(m.Snapshot(), make([]byte, 1024)) {
		t.Error("Failed write must not modify the medium")
	}

	m.ReadErr = ioErr
	if err := m.ReadBlock(0, make([]byte, 512)); !errors.Is(err, ioErr) {
		t.Errorf("Expected injected read error, got %v", err)
	}
}

func TestReadOnly(t *testing.T) {
	m := NewMemory(512, 2)
	ro := ReadOnly(m)

	if err := ro.WriteBlock(0, fill(512, 9)); !errors.Is(err, ErrWriteProtected) {
		t.Errorf("Expected ErrWriteProtected, got %v", err)
	}
	if err := ro.ReadBlock(1, make([]byte, 512)); err != nil {
		t.Errorf("Reads must pass through: %v", err)
	}

	frozen := NewMemoryFrom(make([]byte, 1024), 512, true)
	if err := frozen.WriteBlock(0, fill(512, 9)); !errors.Is(err, ErrWriteProtected) {
		t.Errorf("Expected ErrWriteProtected, got %v", err)
	}
}

func TestRegion(t *testing.T) {
	base := NewMemory(512, 16)
	r, err := NewRegion(base, 4, 8, 6)
	if err != nil {
		t.Fatalf("NewRegion failed: %v", err)
	}
	if r.BlockCount() != 8 {
		t.Fatalf("Expected 8 blocks, got %d", r.BlockCount())
	}

	if err := r.WriteBlock(0, fill(512, 0x11)); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	snap := base.Snapshot()
	if !bytes.Equal(snap[4*512:5*512], fill(512, 0x11)) {
		t.Error("Region block 0 must map to base block 4")
	}

	if err := r.WriteBlock(6, fill(512, 0x22)); !errors.Is(err, ErrWriteProtected) {
		t.Errorf("Expected ErrWriteProtected past the write limit, got %v", err)
	}
	if err := r.ReadBlock(7, make([]byte, 512)); err != nil {
		t.Errorf("Protected blocks must stay readable: %v", err)
	}
	if err := r.ReadBlock(8, make([]byte, 512)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange, got %v", err)
	}

	if _, err := NewRegion(base, 10, 8, 0); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry, got %v", err)
	}
}

func TestFile_ReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "card.img")
	if err := CreateImage(path, 512, 32); err != nil {
		t.Fatalf("CreateImage failed: %v", err)
	}
	if err := CreateImage(path, 512, 32); err == nil {
		t.Error("CreateImage must refuse to overwrite")
	}

	f, err := OpenFile(path, 512, false)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if f.BlockCount() != 32 {
		t.Errorf("Expected 32 blocks, got %d", f.BlockCount())
	}

	if err := f.WriteBlock(31, fill(512, 0x7E)); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data[31*512:], fill(512, 0x7E)) {
		t.Error("Block 31 not written at the expected offset")
	}

	ro, err := OpenFile(path, 512, true)
	if err != nil {
		t.Fatalf("OpenFile read-only failed: %v", err)
	}
	defer func() { _ = ro.Close() }()

	buf := make([]byte, 512)
	if err := ro.ReadBlock(31, buf); err != nil {
		t.Fatalf("ReadBlock failed: %v", err)
	}
	if !bytes.Equal(buf, fill(512, 0x7E)) {
		t.Error("Read back different data")
	}
	if err := ro.WriteBlock(0, buf); !errors.Is(err, ErrWriteProtected) {
		t.Errorf("Expected ErrWriteProtected, got %v", err)
	}
}

func TestFile_ExclusiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "card.img")
	if err := CreateImage(path, 512, 4); err != nil {
		t.Fatal(err)
	}

	f, err := OpenFile(path, 512, false)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	if _, err := OpenFile(path, 512, false); err == nil {
		t.Error("Expected second writable open to fail while locked")
	}
}

func TestFile_InvalidGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.img")
	if err := os.WriteFile(path, make([]byte, 100), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenFile(path, 512, true); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for sub-block file, got %v", err)
	}
	if _, err := OpenFile(path, 500, true); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for bad block size, got %v", err)
	}
}

func TestWipe(t *testing.T) {
	m := NewMemoryFrom(fill(512*4, 0xFF), 512, false)

	if err := Wipe(m, false); err != nil {
		t.Fatalf("Wipe failed: %v", err)
	}
	if !bytes.Equal(m.Snapshot(), make([]byte, 512*4)) {
		t.Error("Expected zeros after wipe")
	}

	if err := Wipe(m, true); err != nil {
		t.Fatalf("Random wipe failed: %v", err)
	}
	if bytes.Equal(m.Snapshot(), make([]byte, 512*4)) {
		t.Error("Expected random data after random wipe")
	}

	if err := Wipe(ReadOnly(m), false); !errors.Is(err, ErrWriteProtected) {
		t.Errorf("Expected ErrWriteProtected, got %v", err)
	}
}
