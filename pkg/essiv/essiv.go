// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package essiv derives per-sector initialisation vectors by encrypting the
// sector index under a key taken from the hash of the disk key.
package essiv

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
	"github.com/jeremyhahn/go-cryptstick/pkg/secret"
)

// ErrShortKeyHash indicates the key hash is shorter than the IV key
var ErrShortKeyHash = errors.New("key hash shorter than IV key")

// Deriver computes IVs for one disk key. It is safe for concurrent use as
// long as Wipe is not called concurrently.
type Deriver struct {
	cipher blockcipher.Cipher
	key    *secret.Buffer
}

// New returns a deriver keyed with the first keySize bytes of keyHash. For
// AES-128 this truncates a 32-byte hash; for AES-256 the whole hash is used,
// which matches the kernel's essiv:sha256 construction.
func New(c blockcipher.Cipher, keyHash []byte, keySize int) (*Deriver, error) {
	if !blockcipher.ValidKeySize(keySize) {
		return nil, blockcipher.ErrInvalidKeySize
	}
	if len(keyHash) < keySize {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrShortKeyHash, len(keyHash), keySize)
	}
	return &Deriver{
		cipher: c,
		key:    secret.Copy(keyHash[:keySize]),
	}, nil
}

// IV returns the IV for sector. The index is stored little-endian in the
// first four bytes of an otherwise zero block.
func (d *Deriver) IV(sector uint32) ([blockcipher.BlockSize]byte, error) {
	var iv [blockcipher.BlockSize]byte
	binary.LittleEndian.PutUint32(iv[:4], sector)
	if err := d.cipher.EncryptBlock(d.key.Bytes(), iv[:]); err != nil {
		return [blockcipher.BlockSize]byte{}, fmt.Errorf("failed to derive IV for sector %d: %w", sector, err)
	}
	return iv, nil
}

// Wipe clears the IV key. The deriver is unusable afterwards.
func (d *Deriver) Wipe() {
	d.key.Close()
}
