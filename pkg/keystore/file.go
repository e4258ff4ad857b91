// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-cryptstick/pkg/digest"
	"golang.org/x/sys/unix"
)

// EEPROM image layout
const (
	VerifierOffset = 0x00
	KeyOffset      = 0x20
	HeaderOffset   = 0x40
	ImageSize      = 0x80

	keySlotSize = 32
)

// FileMagic identifies a key store image
const FileMagic = "CSTK"

var hashIDs = map[string]uint8{
	digest.NameSHA256:  1,
	digest.NameBLAKE2s: 2,
}

// fileHeader is stored big-endian at HeaderOffset
type fileHeader struct {
	Magic    [4]byte
	Version  uint8
	KeySize  uint8
	HashID   uint8
	Reserved uint8
	VolumeID [16]byte
}

// FileStore keeps the record in a fixed-size image that mirrors the EEPROM
// of the stick. The file is exclusively locked while the store is open.
type FileStore struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFileStore opens or creates the image at path
func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 -- key store path from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to acquire lock on %s: %w", path, err)
	}

	return &FileStore{path: path, f: f}, nil
}

// Path returns the image path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and validates the record
func (s *FileStore) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img := make([]byte, ImageSize)
	n, err := s.f.ReadAt(img, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read key store: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	if n < HeaderOffset+binary.Size(fileHeader{}) {
		return nil, fmt.Errorf("%w: image truncated to %d bytes", ErrCorrupt, n)
	}

	var hdr fileHeader
	if err := binary.Read(bytes.NewReader(img[HeaderOffset:]), binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if string(hdr.Magic[:]) != FileMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, hdr.Magic[:])
	}
	if hdr.Version != RecordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, hdr.Version)
	}

	if int(hdr.KeySize) > keySlotSize {
		return nil, fmt.Errorf("%w: key size %d", ErrCorrupt, hdr.KeySize)
	}

	hashName := ""
	for name, id := range hashIDs {
		if id == hdr.HashID {
			hashName = name
		}
	}
	if hashName == "" {
		return nil, fmt.Errorf("%w: unknown hash id %d", ErrCorrupt, hdr.HashID)
	}

	rec := &Record{
		Version:      int(hdr.Version),
		VolumeID:     uuid.UUID(hdr.VolumeID),
		KeySize:      int(hdr.KeySize),
		Hash:         hashName,
		Verifier:     append([]byte(nil), img[VerifierOffset:VerifierOffset+VerifierSize]...),
		EncryptedKey: append([]byte(nil), img[KeyOffset:KeyOffset+int(hdr.KeySize)]...),
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return rec, nil
}

// Save writes the header and encrypted key, syncs, then writes the
// verifier and syncs again. If the second write is lost the image still
// carries the old verifier.
func (s *FileStore) Save(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hdr := fileHeader{
		Version:  RecordVersion,
		KeySize:  uint8(rec.KeySize), // #nosec G115 - validated to 16 or 32
		HashID:   hashIDs[normalizeHash(rec.Hash)],
		VolumeID: rec.VolumeID,
	}
	copy(hdr.Magic[:], FileMagic)

	var hbuf bytes.Buffer
	if err := binary.Write(&hbuf, binary.BigEndian, &hdr); err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}

	// pad the image so a fresh file always has its full size
	if err := s.f.Truncate(ImageSize); err != nil {
		return fmt.Errorf("failed to size key store: %w", err)
	}
	if _, err := s.f.WriteAt(hbuf.Bytes(), HeaderOffset); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	slot := make([]byte, keySlotSize)
	copy(slot, rec.EncryptedKey)
	if _, err := s.f.WriteAt(slot, KeyOffset); err != nil {
		return fmt.Errorf("failed to write encrypted key: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync encrypted key: %w", err)
	}

	if _, err := s.f.WriteAt(rec.Verifier, VerifierOffset); err != nil {
		return fmt.Errorf("failed to write verifier: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync verifier: %w", err)
	}

	return nil
}

// Close releases the lock and closes the image
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	_ = unix.Flock(int(s.f.Fd()), unix.LOCK_UN)
	err := s.f.Close()
	s.f = nil
	return err
}

func normalizeHash(name string) string {
	h, err := digest.ByName(name)
	if err != nil {
		return name
	}
	return h.Name()
}
