// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package keystore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(keySize int) *Record {
	return &Record{
		Version:      RecordVersion,
		VolumeID:     uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		KeySize:      keySize,
		Hash:         "sha256",
		EncryptedKey: bytes.Repeat([]byte{0xA5}, keySize),
		Verifier:     bytes.Repeat([]byte{0x3C}, VerifierSize),
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Record)
	}{
		{"bad key size", func(r *Record) { r.KeySize = 24 }},
		{"short encrypted key", func(r *Record) { r.EncryptedKey = r.EncryptedKey[:8] }},
		{"short verifier", func(r *Record) { r.Verifier = r.Verifier[:31] }},
		{"unknown hash", func(r *Record) { r.Hash = "md5" }},
	}

	require.NoError(t, testRecord(16).Validate())
	require.NoError(t, testRecord(32).Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRecord(16)
			tt.mutate(r)
			assert.ErrorIs(t, r.Validate(), ErrInvalidRecord)
		})
	}

	var nilRec *Record
	assert.ErrorIs(t, nilRec.Validate(), ErrInvalidRecord)
}

func TestRecord_Clone(t *testing.T) {
	r := testRecord(16)
	c := r.Clone()
	c.EncryptedKey[0] = 0
	c.Verifier[0] = 0
	assert.Equal(t, byte(0xA5), r.EncryptedKey[0])
	assert.Equal(t, byte(0x3C), r.Verifier[0])
}

// storeFactories returns every Store implementation, opened fresh
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore(nil) },
		"file": func() Store {
			s, err := OpenFileStore(filepath.Join(t.TempDir(), "stick.eep"))
			require.NoError(t, err)
			return s
		},
		"badger": func() Store {
			s, err := OpenBadgerStore("", quietLogger())
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, open := range storeFactories(t) {
		for _, keySize := range []int{16, 32} {
			t.Run(name, func(t *testing.T) {
				s := open()
				defer func() { _ = s.Close() }()

				_, err := s.Load()
				assert.ErrorIs(t, err, ErrNotFound)

				want := testRecord(keySize)
				require.NoError(t, s.Save(want))

				got, err := s.Load()
				require.NoError(t, err)
				assert.Equal(t, want.VolumeID, got.VolumeID)
				assert.Equal(t, want.KeySize, got.KeySize)
				assert.Equal(t, "sha256", got.Hash)
				assert.Equal(t, want.EncryptedKey, got.EncryptedKey)
				assert.Equal(t, want.Verifier, got.Verifier)
			})
		}
	}
}

func TestStore_RejectsInvalidRecord(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer func() { _ = s.Close() }()

			bad := testRecord(16)
			bad.Verifier = nil
			assert.ErrorIs(t, s.Save(bad), ErrInvalidRecord)

			_, err := s.Load()
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestFileStore_Layout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stick.eep")
	s, err := OpenFileStore(path)
	require.NoError(t, err)

	rec := testRecord(16)
	require.NoError(t, s.Save(rec))
	require.NoError(t, s.Close())

	img, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, img, ImageSize)

	assert.Equal(t, rec.Verifier, img[VerifierOffset:VerifierOffset+VerifierSize])
	assert.Equal(t, rec.EncryptedKey, img[KeyOffset:KeyOffset+16])
	assert.Equal(t, FileMagic, string(img[HeaderOffset:HeaderOffset+4]))
}

func TestFileStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stick.eep")
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(testRecord(32)))
	require.NoError(t, s.Close())

	s, err = OpenFileStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 32, got.KeySize)
	assert.Equal(t, path, s.Path())
}

func TestFileStore_ExclusiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stick.eep")
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = OpenFileStore(path)
	assert.Error(t, err)
}

func TestFileStore_Corrupt(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(img []byte) []byte
	}{
		{"bad magic", func(img []byte) []byte { img[HeaderOffset] = 'X'; return img }},
		{"bad version", func(img []byte) []byte { img[HeaderOffset+4] = 9; return img }},
		{"bad key size", func(img []byte) []byte { img[HeaderOffset+5] = 64; return img }},
		{"bad hash id", func(img []byte) []byte { img[HeaderOffset+6] = 0; return img }},
		{"truncated", func(img []byte) []byte { return img[:HeaderOffset+2] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "stick.eep")
			s, err := OpenFileStore(path)
			require.NoError(t, err)
			require.NoError(t, s.Save(testRecord(16)))
			require.NoError(t, s.Close())

			img, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, tt.mutate(img), 0600))

			s, err = OpenFileStore(path)
			require.NoError(t, err)
			defer func() { _ = s.Close() }()

			_, err = s.Load()
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestBadgerStore_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadgerStore(dir, quietLogger())
	require.NoError(t, err)
	require.NoError(t, s.Save(testRecord(16)))
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(dir, quietLogger())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, testRecord(16).EncryptedKey, got.EncryptedKey)
}

func TestMemoryStore_SaveErr(t *testing.T) {
	s := NewMemoryStore(testRecord(16))
	s.SaveErr = errors.New("eeprom write failed")

	next := testRecord(16)
	next.Verifier = bytes.Repeat([]byte{0x11}, VerifierSize)
	assert.Error(t, s.Save(next))
	assert.Equal(t, 0, s.Saves())

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, testRecord(16).Verifier, got.Verifier)
}

func TestWriteIntelHex(t *testing.T) {
	rec := testRecord(16)
	rec.Verifier = make([]byte, VerifierSize)

	var out bytes.Buffer
	require.NoError(t, WriteIntelHex(&out, rec))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, ":1000000000000000000000000000000000000000F0", lines[0])
	assert.Equal(t, ":1000100000000000000000000000000000000000E0", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], ":10002000A5A5"))
	assert.Equal(t, ":00000001FF", lines[3])
}
