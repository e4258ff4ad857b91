// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cryptstick.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 512, cfg.Media.BlockSize)
	assert.Equal(t, uint64(64), cfg.Setup.Blocks)
	assert.Equal(t, KeyStoreFile, cfg.KeyStore.Backend)
	assert.Equal(t, "software", cfg.Cipher.Backend)
	assert.Equal(t, 16, cfg.KeySizeBytes())
	assert.Equal(t, "sha256", cfg.Hash)
	assert.Equal(t, "cryptstick", cfg.NBD.Export)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
media:
  path: /dev/mmcblk0
  offset: 2048
  write_protect: 1000
keystore:
  backend: badger
  path: /var/lib/cryptstick
cipher:
  backend: accelerator
  key_size: 256
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/mmcblk0", cfg.Media.Path)
	assert.Equal(t, 512, cfg.Media.BlockSize)
	assert.Equal(t, uint64(2048), cfg.Media.Offset)
	assert.Equal(t, uint64(1000), cfg.Media.WriteProtect)
	assert.Equal(t, KeyStoreBadger, cfg.KeyStore.Backend)
	assert.Equal(t, "accelerator", cfg.Cipher.Backend)
	assert.Equal(t, 32, cfg.KeySizeBytes())
	assert.Equal(t, "sha256", cfg.Hash)
	assert.Equal(t, "/run/cryptstick.sock", cfg.NBD.Socket)

	logger := cfg.Logger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad block size", "media: {block_size: 1000}"},
		{"bad backend", "keystore: {backend: etcd}"},
		{"bad cipher", "cipher: {backend: des}"},
		{"bad key size", "cipher: {key_size: 192}"},
		{"bad hash", "hash: md5"},
		{"bad log level", "log: {level: loud}"},
		{"bad log format", "log: {format: xml}"},
		{"zero setup blocks", "setup: {blocks: 0}"},
		{"unknown field", "medai: {path: x}"},
		{"malformed", "media: [1, 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_ErrInvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.Cipher.KeySize = 64
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
