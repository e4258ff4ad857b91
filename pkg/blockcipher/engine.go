// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package blockcipher

import (
	"crypto/aes"
	"errors"
	"sync"
)

// ErrEngineError is the status an engine reports when a block could not be
// processed
var ErrEngineError = errors.New("engine reported error status")

// EmulatedEngine models an AES peripheral whose decryption mode expects the
// last round key. It rewinds the key schedule before decrypting, so it
// produces exactly what a silicon engine would.
type EmulatedEngine struct {
	mu     sync.Mutex
	faults int
	runs   int
}

// NewEmulatedEngine returns a fault-free engine
func NewEmulatedEngine() *EmulatedEngine {
	return &EmulatedEngine{}
}

// InjectFaults makes the next n runs report an error status
func (e *EmulatedEngine) InjectFaults(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults = n
}

// Runs returns the number of blocks submitted, including failed ones
func (e *EmulatedEngine) Runs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

// Run processes one block
func (e *EmulatedEngine) Run(key, state []byte, decrypt bool) error {
	e.mu.Lock()
	e.runs++
	if e.faults > 0 {
		e.faults--
		e.mu.Unlock()
		return ErrEngineError
	}
	e.mu.Unlock()

	if !decrypt {
		c, err := aes.NewCipher(key)
		if err != nil {
			return err
		}
		c.Encrypt(state, state)
		return nil
	}

	cipherKey, err := RecoverKey(key)
	if err != nil {
		return err
	}
	defer clearBytes(cipherKey)

	c, err := aes.NewCipher(cipherKey)
	if err != nil {
		return err
	}
	c.Decrypt(state, state)
	return nil
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
