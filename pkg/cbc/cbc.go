// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package cbc chains a blockcipher.Cipher in cipher block chaining mode over
// a caller-owned buffer, in place.
package cbc

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
)

// ErrInvalidLength indicates a buffer that is empty or not block aligned,
// or an IV that is not one block long
var ErrInvalidLength = errors.New("buffer length must be a positive multiple of the block size")

func checkLength(iv, buf []byte) error {
	if len(iv) != blockcipher.BlockSize {
		return fmt.Errorf("%w: iv is %d bytes", ErrInvalidLength, len(iv))
	}
	if len(buf) == 0 || len(buf)%blockcipher.BlockSize != 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidLength, len(buf))
	}
	return nil
}

// Encrypt encrypts buf in place and returns the number of bytes processed.
// On error it returns 0; a length error leaves buf untouched, a cipher error
// leaves it partially encrypted.
func Encrypt(c blockcipher.Cipher, key, iv, buf []byte) (int, error) {
	if err := checkLength(iv, buf); err != nil {
		return 0, err
	}

	var chain [blockcipher.BlockSize]byte
	copy(chain[:], iv)

	for off := 0; off < len(buf); off += blockcipher.BlockSize {
		block := buf[off : off+blockcipher.BlockSize]
		for i := range block {
			block[i] ^= chain[i]
		}
		if err := c.EncryptBlock(key, block); err != nil {
			return 0, fmt.Errorf("failed to encrypt block at offset %d: %w", off, err)
		}
		copy(chain[:], block)
	}

	return len(buf), nil
}

// Decrypt decrypts buf in place and returns the number of bytes processed.
// decKey is the backend decryption key from Cipher.DecryptionKey.
func Decrypt(c blockcipher.Cipher, decKey, iv, buf []byte) (int, error) {
	if err := checkLength(iv, buf); err != nil {
		return 0, err
	}

	var chain, next [blockcipher.BlockSize]byte
	copy(chain[:], iv)

	for off := 0; off < len(buf); off += blockcipher.BlockSize {
		block := buf[off : off+blockcipher.BlockSize]
		copy(next[:], block)
		if err := c.DecryptBlock(decKey, block); err != nil {
			return 0, fmt.Errorf("failed to decrypt block at offset %d: %w", off, err)
		}
		for i := range block {
			block[i] ^= chain[i]
		}
		chain = next
	}

	return len(buf), nil
}
