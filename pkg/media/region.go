// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package media

import "fmt"

// Region exposes count blocks of another medium starting at first. Blocks
// at or past writeLimit (relative to first) read normally but refuse
// writes, like a flash disk whose tail overlaps the bootloader section.
type Region struct {
	m          Media
	first      uint64
	count      uint64
	writeLimit uint64
}

// NewRegion returns a window into m. A writeLimit of zero leaves the whole
// region writable.
func NewRegion(m Media, first, count, writeLimit uint64) (*Region, error) {
	if count == 0 || first+count > m.BlockCount() {
		return nil, fmt.Errorf("%w: region %d+%d exceeds %d blocks", ErrInvalidGeometry, first, count, m.BlockCount())
	}
	if writeLimit == 0 || writeLimit > count {
		writeLimit = count
	}
	return &Region{m: m, first: first, count: count, writeLimit: writeLimit}, nil
}

// BlockSize returns the block size of the underlying medium
func (r *Region) BlockSize() int {
	return r.m.BlockSize()
}

// BlockCount returns the number of blocks in the window
func (r *Region) BlockCount() uint64 {
	return r.count
}

// ReadBlock reads block index of the window
func (r *Region) ReadBlock(index uint32, buf []byte) error {
	if err := checkTransfer("read", r.m.BlockSize(), r.count, index, buf); err != nil {
		return err
	}
	return r.m.ReadBlock(uint32(r.first+uint64(index)), buf) // #nosec G115 - first+index < underlying block count
}

// WriteBlock writes block index of the window
func (r *Region) WriteBlock(index uint32, buf []byte) error {
	if err := checkTransfer("write", r.m.BlockSize(), r.count, index, buf); err != nil {
		return err
	}
	if uint64(index) >= r.writeLimit {
		return &BlockError{Op: "write", Block: index, Err: ErrWriteProtected}
	}
	return r.m.WriteBlock(uint32(r.first+uint64(index)), buf) // #nosec G115 - first+index < underlying block count
}

// Sync flushes the underlying medium when it supports it
func (r *Region) Sync() error {
	if s, ok := r.m.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Close closes the underlying medium
func (r *Region) Close() error {
	return r.m.Close()
}

// readOnly wraps a medium and refuses writes
type readOnly struct {
	Media
}

// ReadOnly returns a view of m that refuses writes with ErrWriteProtected
func ReadOnly(m Media) Media {
	return readOnly{m}
}

func (r readOnly) WriteBlock(index uint32, _ []byte) error {
	return &BlockError{Op: "write", Block: index, Err: ErrWriteProtected}
}
