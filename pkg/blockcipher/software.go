// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package blockcipher

import (
	"crypto/aes"
	"fmt"
)

// Software is the portable AES backend
type Software struct{}

// Name returns the backend name
func (s *Software) Name() string {
	return BackendSoftware
}

// EncryptBlock encrypts one block in place
func (s *Software) EncryptBlock(key, block []byte) error {
	if err := checkArgs("encrypt", key, block); err != nil {
		return err
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return &CryptoError{Op: "encrypt", Err: fmt.Errorf("failed to create cipher: %w", err)}
	}
	c.Encrypt(block, block)
	return nil
}

// DecryptBlock decrypts one block in place. The software backend decrypts
// with the logical key.
func (s *Software) DecryptBlock(decKey, block []byte) error {
	if err := checkArgs("decrypt", decKey, block); err != nil {
		return err
	}
	c, err := aes.NewCipher(decKey)
	if err != nil {
		return &CryptoError{Op: "decrypt", Err: fmt.Errorf("failed to create cipher: %w", err)}
	}
	c.Decrypt(block, block)
	return nil
}

// DecryptionKey returns a copy of key
func (s *Software) DecryptionKey(key []byte) ([]byte, error) {
	if !ValidKeySize(len(key)) {
		return nil, &CryptoError{Op: "derive decryption key", Err: ErrInvalidKeySize}
	}
	dk := make([]byte, len(key))
	copy(dk, key)
	return dk, nil
}
