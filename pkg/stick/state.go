// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package stick

// State is the disk mode of the stick
type State int

const (
	// StateInitial serves the setup view; the disk key is still encrypted
	StateInitial State = iota

	// StateEncrypting serves the encrypted medium through the sector pipeline
	StateEncrypting
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateEncrypting:
		return "encrypting"
	default:
		return "unknown"
	}
}
