// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	badgerKeyMeta     = "cryptstick:meta"
	badgerKeyKey      = "cryptstick:key"
	badgerKeyVerifier = "cryptstick:verifier"
)

// badgerMeta is the JSON value stored under badgerKeyMeta
type badgerMeta struct {
	Version  int       `json:"version"`
	VolumeID uuid.UUID `json:"volume_id"`
	KeySize  int       `json:"key_size"`
	Hash     string    `json:"hash"`
}

// BadgerStore keeps the record in a badger database. Save commits both
// records in one transaction.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens the database in dir. An empty dir opens an
// in-memory database.
func OpenBadgerStore(dir string, logger *logrus.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(logger.WithField("component", "keystore")).
		WithNumVersionsToKeep(1).
		WithSyncWrites(true)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger key store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Load reads the record
func (s *BadgerStore) Load() (*Record, error) {
	var meta badgerMeta
	rec := &Record{}

	err := s.db.View(func(txn *badger.Txn) error {
		raw, err := getValue(txn, badgerKeyMeta)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if rec.EncryptedKey, err = getValue(txn, badgerKeyKey); err != nil {
			return err
		}
		rec.Verifier, err = getValue(txn, badgerKeyVerifier)
		return err
	})
	if err != nil {
		return nil, err
	}

	rec.Version = meta.Version
	rec.VolumeID = meta.VolumeID
	rec.KeySize = meta.KeySize
	rec.Hash = meta.Hash
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return rec, nil
}

// Save writes the record atomically
func (s *BadgerStore) Save(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	meta, err := json.Marshal(badgerMeta{
		Version:  RecordVersion,
		VolumeID: rec.VolumeID,
		KeySize:  rec.KeySize,
		Hash:     normalizeHash(rec.Hash),
	})
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(badgerKeyMeta), meta); err != nil {
			return err
		}
		if err := txn.Set([]byte(badgerKeyKey), rec.EncryptedKey); err != nil {
			return err
		}
		return txn.Set([]byte(badgerKeyVerifier), rec.Verifier)
	})
	if err != nil {
		return fmt.Errorf("failed to commit key record: %w", err)
	}
	return nil
}

// Close closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func getValue(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return item.ValueCopy(nil)
}
