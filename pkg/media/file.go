// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// File is a block device or image file. It holds an advisory lock on the
// file for as long as it is open: exclusive when writable, shared when
// read-only.
type File struct {
	mu        sync.RWMutex
	f         *os.File
	path      string
	blockSize int
	blocks    uint64
	readOnly  bool
}

// OpenFile opens the block device or image at path. Trailing bytes that do
// not fill a whole block are ignored.
func OpenFile(path string, blockSize int, readOnly bool) (*File, error) {
	if !ValidBlockSize(blockSize) {
		return nil, fmt.Errorf("%w: block size %d", ErrInvalidGeometry, blockSize)
	}

	flags, lock := os.O_RDWR, unix.LOCK_EX
	if readOnly {
		flags, lock = os.O_RDONLY, unix.LOCK_SH
	}

	f, err := os.OpenFile(path, flags, 0) // #nosec G304 -- media path from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open media: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), lock|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to acquire lock on %s: %w", path, err)
	}

	size, err := deviceSize(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	blocks := uint64(size) / uint64(blockSize) // #nosec G115 - size is non-negative
	if blocks == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s holds no complete block", ErrInvalidGeometry, path)
	}

	return &File{
		f:         f,
		path:      path,
		blockSize: blockSize,
		blocks:    blocks,
		readOnly:  readOnly,
	}, nil
}

// CreateImage creates a zero-filled image file of blocks blocks. It fails
// if the file already exists.
func CreateImage(path string, blockSize int, blocks uint64) error {
	if !ValidBlockSize(blockSize) || blocks == 0 {
		return ErrInvalidGeometry
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600) // #nosec G304 -- user-provided image path
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	defer func() { _ = f.Close() }()

	size := blocks * uint64(blockSize)
	if err := f.Truncate(int64(size)); err != nil { // #nosec G115 - bounded by filesystem limits
		_ = os.Remove(path)
		return fmt.Errorf("failed to set image size: %w", err)
	}
	return nil
}

// deviceSize returns the size of a block device via BLKGETSIZE64, falling
// back to stat for regular files
func deviceSize(f *os.File) (int64, error) {
	var size int64
	// #nosec G103 -- unsafe.Pointer required for ioctl syscall
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno == 0 {
		return size, nil
	}

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to get device/file size: %w", err)
	}
	return stat.Size(), nil
}

// Path returns the path the medium was opened from
func (m *File) Path() string {
	return m.path
}

// BlockSize returns the block size in bytes
func (m *File) BlockSize() int {
	return m.blockSize
}

// BlockCount returns the number of blocks
func (m *File) BlockCount() uint64 {
	return m.blocks
}

// ReadBlock reads block index into buf
func (m *File) ReadBlock(index uint32, buf []byte) error {
	if err := checkTransfer("read", m.blockSize, m.blocks, index, buf); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.f == nil {
		return &BlockError{Op: "read", Block: index, Err: ErrClosed}
	}

	off := int64(index) * int64(m.blockSize)
	if _, err := m.f.ReadAt(buf, off); err != nil {
		return &BlockError{Op: "read", Block: index, Err: err}
	}
	return nil
}

// WriteBlock writes buf to block index
func (m *File) WriteBlock(index uint32, buf []byte) error {
	if err := checkTransfer("write", m.blockSize, m.blocks, index, buf); err != nil {
		return err
	}
	if m.readOnly {
		return &BlockError{Op: "write", Block: index, Err: ErrWriteProtected}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return &BlockError{Op: "write", Block: index, Err: ErrClosed}
	}

	off := int64(index) * int64(m.blockSize)
	if _, err := m.f.WriteAt(buf, off); err != nil {
		return &BlockError{Op: "write", Block: index, Err: err}
	}
	return nil
}

// Sync flushes written blocks to stable storage
func (m *File) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return ErrClosed
	}
	return m.f.Sync()
}

// Close releases the lock and closes the file
func (m *File) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	_ = unix.Flock(int(m.f.Fd()), unix.LOCK_UN)
	err := m.f.Close()
	m.f = nil
	return err
}
