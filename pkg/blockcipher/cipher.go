// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package blockcipher provides single-block AES primitives behind a common
// interface, with a portable software backend and a backend that drives an
// AES accelerator which decrypts from the last round key.
package blockcipher

import (
	"errors"
	"fmt"
	"strings"
)

// BlockSize is the AES block size in bytes
const BlockSize = 16

// Supported key sizes in bytes
const (
	KeySize128 = 16
	KeySize256 = 32
)

// Backend names accepted by New
const (
	BackendSoftware    = "software"
	BackendAccelerator = "accelerator"
)

var (
	// ErrInvalidKeySize indicates a key that is neither 16 nor 32 bytes
	ErrInvalidKeySize = errors.New("invalid key size (must be 16 or 32 bytes)")

	// ErrInvalidBlockSize indicates a block that is not exactly 16 bytes
	ErrInvalidBlockSize = errors.New("invalid block size (must be 16 bytes)")

	// ErrAcceleratorFault indicates the accelerator failed twice in a row
	ErrAcceleratorFault = errors.New("AES accelerator fault")

	// ErrUnknownBackend indicates an unsupported backend name
	ErrUnknownBackend = errors.New("unknown cipher backend")
)

// CryptoError represents an error in a block cipher operation
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// Cipher transforms single 16-byte blocks in place.
//
// DecryptBlock does not necessarily take the logical key. Callers obtain
// the backend's decryption key material once with DecryptionKey and pass
// that to every DecryptBlock call.
type Cipher interface {
	Name() string
	EncryptBlock(key, block []byte) error
	DecryptBlock(decKey, block []byte) error
	DecryptionKey(key []byte) ([]byte, error)
}

// New returns the backend registered under name. The accelerator backend
// is bound to an emulated engine; use NewAccelerator to supply another one.
func New(name string) (Cipher, error) {
	switch strings.ToLower(name) {
	case "", BackendSoftware:
		return &Software{}, nil
	case BackendAccelerator:
		return NewAccelerator(NewEmulatedEngine()), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}

// ValidKeySize reports whether n is a supported key length in bytes
func ValidKeySize(n int) bool {
	return n == KeySize128 || n == KeySize256
}

func checkArgs(op string, key, block []byte) error {
	if !ValidKeySize(len(key)) {
		return &CryptoError{Op: op, Err: ErrInvalidKeySize}
	}
	if len(block) != BlockSize {
		return &CryptoError{Op: op, Err: ErrInvalidBlockSize}
	}
	return nil
}
