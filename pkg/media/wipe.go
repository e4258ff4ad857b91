// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"crypto/rand"
	"fmt"
)

// Wipe overwrites every block of m with zeros or random data. Filling a
// fresh medium with random data before first use hides which sectors the
// encrypted filesystem has written.
func Wipe(m Media, random bool) error {
	buf := make([]byte, m.BlockSize())
	defer clearBytes(buf)

	blocks := m.BlockCount()
	if blocks > 1<<32 {
		return fmt.Errorf("%w: %d blocks exceed 32-bit sector addressing", ErrInvalidGeometry, blocks)
	}

	for i := uint64(0); i < blocks; i++ {
		if random {
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("failed to generate random data: %w", err)
			}
		}
		if err := m.WriteBlock(uint32(i), buf); err != nil { // #nosec G115 - bounded above
			return fmt.Errorf("wipe failed: %w", err)
		}
	}

	if s, ok := m.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("failed to sync: %w", err)
		}
	}
	return nil
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
