// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package stick

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
	"github.com/jeremyhahn/go-cryptstick/pkg/cbc"
)

// Common errors that can be checked using errors.Is()
var (
	// ErrWrongPassphrase indicates the passphrase did not match the stored verifier
	ErrWrongPassphrase = errors.New("wrong passphrase")

	// ErrPassphraseMismatch indicates the new passphrase and its confirmation differ
	ErrPassphraseMismatch = errors.New("new passphrase and confirmation do not match")

	// ErrInvalidPassphrase indicates a new passphrase outside the accepted length
	ErrInvalidPassphrase = errors.New("invalid passphrase")

	// ErrWrongMode indicates an operation not permitted in the current disk state
	ErrWrongMode = errors.New("wrong mode")

	// ErrReadOnly indicates a write while the disk is read-only
	ErrReadOnly = errors.New("disk is read-only")

	// ErrStorage indicates the physical medium failed a transfer
	ErrStorage = errors.New("storage error")

	// ErrKeyStore indicates the key store could not be read or written
	ErrKeyStore = errors.New("key store error")

	// ErrAlreadyProvisioned indicates the key store already holds a record
	ErrAlreadyProvisioned = errors.New("key store already provisioned")

	// ErrClosed indicates use of a closed device
	ErrClosed = errors.New("device closed")

	// ErrInvalidLength indicates a sector buffer of the wrong size
	ErrInvalidLength = cbc.ErrInvalidLength

	// ErrAcceleratorFault indicates the AES accelerator failed persistently
	ErrAcceleratorFault = blockcipher.ErrAcceleratorFault
)

// SectorError represents a failed sector transfer
type SectorError struct {
	Op     string
	Sector uint32
	Err    error
}

func (e *SectorError) Error() string {
	return fmt.Sprintf("%s sector %d: %v", e.Op, e.Sector, e.Err)
}

func (e *SectorError) Unwrap() error {
	return e.Err
}

// StateError represents an operation rejected in the current disk state
type StateError struct {
	Op    string
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s in state %s: %v", e.Op, e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}
