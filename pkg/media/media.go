// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package media provides block-addressable storage backends for the stick:
// block devices and image files, RAM, windows into another medium with a
// write-protected tail, and read-only views.
package media

import (
	"errors"
	"fmt"
)

// DefaultBlockSize is the sector size of SD cards and the stick's flash
const DefaultBlockSize = 512

var (
	// ErrOutOfRange indicates a block index past the end of the medium
	ErrOutOfRange = errors.New("block index out of range")

	// ErrBlockSize indicates a buffer whose length is not the block size
	ErrBlockSize = errors.New("buffer length does not match block size")

	// ErrWriteProtected indicates a write to a protected block
	ErrWriteProtected = errors.New("block is write protected")

	// ErrClosed indicates use of a closed medium
	ErrClosed = errors.New("media closed")

	// ErrInvalidGeometry indicates an unusable block size or block count
	ErrInvalidGeometry = errors.New("invalid media geometry")
)

// Media is a block-addressable medium. Reads and writes transfer exactly
// one block and are atomic from the caller's point of view.
type Media interface {
	BlockSize() int
	BlockCount() uint64
	ReadBlock(index uint32, buf []byte) error
	WriteBlock(index uint32, buf []byte) error
	Close() error
}

// BlockError represents a failed block transfer
type BlockError struct {
	Op    string
	Block uint32
	Err   error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("%s block %d: %v", e.Op, e.Block, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}

// checkTransfer validates an index and buffer against a geometry
func checkTransfer(op string, blockSize int, blocks uint64, index uint32, buf []byte) error {
	if len(buf) != blockSize {
		return &BlockError{Op: op, Block: index, Err: fmt.Errorf("%w: got %d, want %d", ErrBlockSize, len(buf), blockSize)}
	}
	if uint64(index) >= blocks {
		return &BlockError{Op: op, Block: index, Err: ErrOutOfRange}
	}
	return nil
}

// ValidBlockSize reports whether n is a usable block size: a power of two
// between 512 and 4096 bytes
func ValidBlockSize(n int) bool {
	return n >= 512 && n <= 4096 && n&(n-1) == 0
}
