// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package stick

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
)

// Passphrase limits. The upper bound is the stick's passphrase buffer size
// less the terminator.
const (
	MinPassphraseLength = 1
	MaxPassphraseLength = 99
)

// ValidatePassphrase validates the length of a passphrase being set
func ValidatePassphrase(passphrase []byte) error {
	if len(passphrase) < MinPassphraseLength {
		return fmt.Errorf("%w: empty", ErrInvalidPassphrase)
	}
	if len(passphrase) > MaxPassphraseLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidPassphrase, MaxPassphraseLength)
	}
	return nil
}

// ConstantTimeEqual compares two byte slices in constant time
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// randomBytes returns n bytes from crypto/rand
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
