// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package media

import "sync"

// Memory is a RAM-backed medium
type Memory struct {
	mu        sync.RWMutex
	data      []byte
	blockSize int
	readOnly  bool

	// ReadErr and WriteErr, when set, fail every transfer
	ReadErr  error
	WriteErr error
}

// NewMemory returns a zeroed medium of blocks blocks
func NewMemory(blockSize int, blocks uint64) *Memory {
	return &Memory{
		data:      make([]byte, uint64(blockSize)*blocks),
		blockSize: blockSize,
	}
}

// NewMemoryFrom wraps data. Trailing bytes that do not fill a block are
// unreachable.
func NewMemoryFrom(data []byte, blockSize int, readOnly bool) *Memory {
	return &Memory{data: data, blockSize: blockSize, readOnly: readOnly}
}

// BlockSize returns the block size in bytes
func (m *Memory) BlockSize() int {
	return m.blockSize
}

// BlockCount returns the number of blocks
func (m *Memory) BlockCount() uint64 {
	return uint64(len(m.data) / m.blockSize)
}

// ReadBlock copies block index into buf
func (m *Memory) ReadBlock(index uint32, buf []byte) error {
	if err := checkTransfer("read", m.blockSize, m.BlockCount(), index, buf); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ReadErr != nil {
		return &BlockError{Op: "read", Block: index, Err: m.ReadErr}
	}

	off := int(index) * m.blockSize
	copy(buf, m.data[off:off+m.blockSize])
	return nil
}

// WriteBlock copies buf into block index
func (m *Memory) WriteBlock(index uint32, buf []byte) error {
	if err := checkTransfer("write", m.blockSize, m.BlockCount(), index, buf); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return &BlockError{Op: "write", Block: index, Err: ErrWriteProtected}
	}
	if m.WriteErr != nil {
		return &BlockError{Op: "write", Block: index, Err: m.WriteErr}
	}

	off := int(index) * m.blockSize
	copy(m.data[off:off+m.blockSize], buf)
	return nil
}

// Snapshot returns a copy of the whole medium
func (m *Memory) Snapshot() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}
