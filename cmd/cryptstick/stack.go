// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
	"github.com/jeremyhahn/go-cryptstick/pkg/config"
	"github.com/jeremyhahn/go-cryptstick/pkg/keystore"
	"github.com/jeremyhahn/go-cryptstick/pkg/media"
	"github.com/sirupsen/logrus"
)

// openKeyStore opens the configured key store backend
func openKeyStore(cfg *config.Config, logger *logrus.Logger) (keystore.Store, error) {
	switch cfg.KeyStore.Backend {
	case config.KeyStoreBadger:
		return keystore.OpenBadgerStore(cfg.KeyStore.Path, logger)
	default:
		return keystore.OpenFileStore(cfg.KeyStore.Path)
	}
}

// loadRecord reads the key record and closes the store
func loadRecord(cfg *config.Config, logger *logrus.Logger) (*keystore.Record, error) {
	store, err := openKeyStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	return store.Load()
}

// openMedia opens the configured medium, narrowed to the configured region
func openMedia(cfg *config.Config, readOnly bool) (media.Media, error) {
	if cfg.Media.Path == "" {
		return nil, fmt.Errorf("media.path is not configured")
	}

	f, err := media.OpenFile(cfg.Media.Path, cfg.Media.BlockSize, readOnly)
	if err != nil {
		return nil, err
	}

	m := cfg.Media
	if m.Offset == 0 && m.Blocks == 0 && m.WriteProtect == 0 {
		return f, nil
	}

	count := m.Blocks
	if count == 0 {
		if m.Offset >= f.BlockCount() {
			_ = f.Close()
			return nil, fmt.Errorf("%w: offset %d beyond %d blocks", media.ErrInvalidGeometry, m.Offset, f.BlockCount())
		}
		count = f.BlockCount() - m.Offset
	}
	region, err := media.NewRegion(f, m.Offset, count, m.WriteProtect)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return region, nil
}

// openSetupView returns the read-only view shown before unlock: the
// configured image, or an empty volume
func openSetupView(cfg *config.Config) (media.Media, error) {
	if cfg.Setup.Image == "" {
		return media.ReadOnly(media.NewMemory(cfg.Media.BlockSize, cfg.Setup.Blocks)), nil
	}
	f, err := media.OpenFile(cfg.Setup.Image, cfg.Media.BlockSize, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open setup image: %w", err)
	}
	return media.ReadOnly(f), nil
}

// newCipher returns the configured AES backend
func newCipher(cfg *config.Config) (blockcipher.Cipher, error) {
	return blockcipher.New(cfg.Cipher.Backend)
}
