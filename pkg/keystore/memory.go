// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package keystore

import "sync"

// MemoryStore keeps the record in memory. SaveErr, when set, is returned by
// Save without changing the stored record.
type MemoryStore struct {
	mu      sync.Mutex
	rec     *Record
	saves   int
	SaveErr error
}

// NewMemoryStore returns a store holding a copy of rec, which may be nil
func NewMemoryStore(rec *Record) *MemoryStore {
	return &MemoryStore{rec: rec.Clone()}
}

// Load returns a copy of the record
func (s *MemoryStore) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, ErrNotFound
	}
	return s.rec.Clone(), nil
}

// Save replaces the record
func (s *MemoryStore) Save(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.rec = rec.Clone()
	s.saves++
	return nil
}

// Saves returns the number of successful saves
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
