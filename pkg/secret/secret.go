// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package secret provides scoped buffers for key material and passphrases
// that are overwritten when they go out of scope.
package secret

import "crypto/subtle"

// PassphraseFiller is written over passphrase buffers once they have been
// hashed. It is deliberately non-zero so a wiped buffer is recognisable in
// a memory dump.
const PassphraseFiller byte = 0xFF

// Wipe overwrites b with filler. subtle.ConstantTimeCopy keeps the compiler
// from eliding the stores.
func Wipe(b []byte, filler byte) {
	if len(b) == 0 {
		return
	}
	fill := make([]byte, len(b))
	if filler != 0 {
		for i := range fill {
			fill[i] = filler
		}
	}
	subtle.ConstantTimeCopy(1, b, fill)
}

// Zero overwrites b with zeros
func Zero(b []byte) {
	Wipe(b, 0)
}

// ZeroAll zeros every slice in bs
func ZeroAll(bs ...[]byte) {
	for _, b := range bs {
		Zero(b)
	}
}

// Buffer owns a sensitive byte slice and wipes it on Close.
//
//	key := secret.New(16)
//	defer key.Close()
type Buffer struct {
	data   []byte
	filler byte
	closed bool
}

// New allocates a zeroed buffer of n bytes
func New(n int) *Buffer {
	return &Buffer{data: make([]byte, n)}
}

// From takes ownership of b. The caller must not keep using b after the
// buffer is closed.
func From(b []byte) *Buffer {
	return &Buffer{data: b}
}

// Copy returns a buffer holding a private copy of b
func Copy(b []byte) *Buffer {
	buf := New(len(b))
	copy(buf.data, b)
	return buf
}

// Passphrase takes ownership of a passphrase buffer. It is wiped with
// PassphraseFiller instead of zeros.
func Passphrase(b []byte) *Buffer {
	return &Buffer{data: b, filler: PassphraseFiller}
}

// Bytes returns the underlying slice, or nil after Close
func (b *Buffer) Bytes() []byte {
	if b == nil || b.closed {
		return nil
	}
	return b.data
}

// Len returns the length of the held data
func (b *Buffer) Len() int {
	if b == nil || b.closed {
		return 0
	}
	return len(b.data)
}

// Close wipes the buffer. It is safe to call more than once and on a nil
// buffer.
func (b *Buffer) Close() {
	if b == nil || b.closed {
		return
	}
	Wipe(b.data, b.filler)
	b.data = nil
	b.closed = true
}

// IsClosed reports whether Close has been called
func (b *Buffer) IsClosed() bool {
	return b == nil || b.closed
}
