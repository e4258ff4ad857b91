// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package keystore persists the two records a stick needs at boot: the disk
// key encrypted under the passphrase hash, and the passphrase hash-of-hash
// used as the verification reference.
package keystore

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
	"github.com/jeremyhahn/go-cryptstick/pkg/digest"
)

// RecordVersion is the current record format version
const RecordVersion = 1

// VerifierSize is the length of the stored hash-of-hash
const VerifierSize = digest.Size

var (
	// ErrNotFound indicates the store holds no record yet
	ErrNotFound = errors.New("no key record found")

	// ErrCorrupt indicates the stored record failed validation
	ErrCorrupt = errors.New("key record corrupt")

	// ErrInvalidRecord indicates a record that cannot be stored
	ErrInvalidRecord = errors.New("invalid key record")
)

// Record is the persisted key material of one stick
type Record struct {
	Version      int
	VolumeID     uuid.UUID
	KeySize      int    // disk key length in bytes, 16 or 32
	Hash         string // digest name used for H(P), H(H(P)) and H(key)
	EncryptedKey []byte // disk key encrypted under H(P)
	Verifier     []byte // H(H(P))
}

// Store reads and writes the record. Save must persist the encrypted key
// before the verifier, or both atomically.
type Store interface {
	Load() (*Record, error)
	Save(rec *Record) error
	Close() error
}

// Validate checks that the record is internally consistent
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if !blockcipher.ValidKeySize(r.KeySize) {
		return fmt.Errorf("%w: key size %d", ErrInvalidRecord, r.KeySize)
	}
	if len(r.EncryptedKey) != r.KeySize {
		return fmt.Errorf("%w: encrypted key is %d bytes, expected %d", ErrInvalidRecord, len(r.EncryptedKey), r.KeySize)
	}
	if len(r.Verifier) != VerifierSize {
		return fmt.Errorf("%w: verifier is %d bytes, expected %d", ErrInvalidRecord, len(r.Verifier), VerifierSize)
	}
	if _, err := digest.ByName(r.Hash); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.EncryptedKey = append([]byte(nil), r.EncryptedKey...)
	c.Verifier = append([]byte(nil), r.Verifier...)
	return &c
}
