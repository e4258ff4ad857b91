// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package blockcipher

import (
	"fmt"
)

// Engine is the register interface of an AES coprocessor. Run transforms
// state in place using the key register contents. For decryption the key
// register must hold the last subkey of the schedule, not the cipher key.
// On error the engine must leave state untouched.
type Engine interface {
	Run(key, state []byte, decrypt bool) error
}

// engineAttempts is the number of times a block is submitted before the
// engine is declared faulty
const engineAttempts = 2

// Accelerator is the hardware backend. It is byte-compatible with Software
// provided decryption is always given the key returned by DecryptionKey.
type Accelerator struct {
	engine Engine
}

// NewAccelerator returns a backend driving engine
func NewAccelerator(engine Engine) *Accelerator {
	return &Accelerator{engine: engine}
}

// Name returns the backend name
func (a *Accelerator) Name() string {
	return BackendAccelerator
}

// EncryptBlock encrypts one block in place
func (a *Accelerator) EncryptBlock(key, block []byte) error {
	if err := checkArgs("encrypt", key, block); err != nil {
		return err
	}
	return a.run("encrypt", key, block, false)
}

// DecryptBlock decrypts one block in place. decKey must be the last subkey
// returned by DecryptionKey.
func (a *Accelerator) DecryptBlock(decKey, block []byte) error {
	if err := checkArgs("decrypt", decKey, block); err != nil {
		return err
	}
	return a.run("decrypt", decKey, block, true)
}

// DecryptionKey returns the last subkey of key
func (a *Accelerator) DecryptionKey(key []byte) ([]byte, error) {
	return DeriveLastSubkey(key)
}

// run submits the block, retrying once on a transient engine error. The
// caller's block is only updated on success.
func (a *Accelerator) run(op string, key, block []byte, decrypt bool) error {
	var state [BlockSize]byte
	defer func() { state = [BlockSize]byte{} }()

	var err error
	for attempt := 0; attempt < engineAttempts; attempt++ {
		copy(state[:], block)
		if err = a.engine.Run(key, state[:], decrypt); err == nil {
			copy(block, state[:])
			return nil
		}
	}
	return &CryptoError{Op: op, Err: fmt.Errorf("%w: %v", ErrAcceleratorFault, err)}
}
