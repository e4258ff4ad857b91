// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads the cryptstick YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
	"github.com/jeremyhahn/go-cryptstick/pkg/digest"
	"github.com/jeremyhahn/go-cryptstick/pkg/media"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// EnvConfig names the environment variable holding the config file path
const EnvConfig = "CRYPTSTICK_CONFIG"

// Key store backends
const (
	KeyStoreFile   = "file"
	KeyStoreBadger = "badger"
)

// Log formats
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// ErrInvalidConfig indicates a configuration value out of range
var ErrInvalidConfig = errors.New("invalid configuration")

// Media describes the encrypted backing medium
type Media struct {
	Path         string `yaml:"path"`
	BlockSize    int    `yaml:"block_size"`
	Offset       uint64 `yaml:"offset"`        // first block of the encrypted region
	Blocks       uint64 `yaml:"blocks"`        // region length, 0 for the rest of the medium
	WriteProtect uint64 `yaml:"write_protect"` // blocks at or past this index refuse writes, 0 for none
}

// Setup describes the view shown to the host before unlock
type Setup struct {
	Image  string `yaml:"image"`
	Blocks uint64 `yaml:"blocks"`
}

// KeyStore selects where the key record lives
type KeyStore struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Cipher selects the AES backend and disk key size
type Cipher struct {
	Backend string `yaml:"backend"`
	KeySize int    `yaml:"key_size"` // bits
}

// NBD configures the host-facing transport
type NBD struct {
	Socket string `yaml:"socket"`
	Export string `yaml:"export"`
}

// Log configures logging
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete configuration
type Config struct {
	Media    Media    `yaml:"media"`
	Setup    Setup    `yaml:"setup"`
	KeyStore KeyStore `yaml:"keystore"`
	Cipher   Cipher   `yaml:"cipher"`
	Hash     string   `yaml:"hash"`
	NBD      NBD      `yaml:"nbd"`
	Log      Log      `yaml:"log"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Media:    Media{BlockSize: media.DefaultBlockSize},
		Setup:    Setup{Blocks: 64},
		KeyStore: KeyStore{Backend: KeyStoreFile, Path: "cryptstick.eep"},
		Cipher:   Cipher{Backend: blockcipher.BackendSoftware, KeySize: 128},
		Hash:     digest.NameSHA256,
		NBD:      NBD{Socket: "/run/cryptstick.sock", Export: "cryptstick"},
		Log:      Log{Level: "info", Format: LogFormatText},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- user-provided config path
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field
func (c *Config) Validate() error {
	if !media.ValidBlockSize(c.Media.BlockSize) {
		return fmt.Errorf("%w: media.block_size %d must be a power of two between 512 and 4096", ErrInvalidConfig, c.Media.BlockSize)
	}
	if c.Setup.Blocks == 0 && c.Setup.Image == "" {
		return fmt.Errorf("%w: setup.blocks must be positive", ErrInvalidConfig)
	}
	switch c.KeyStore.Backend {
	case KeyStoreFile, KeyStoreBadger:
	default:
		return fmt.Errorf("%w: keystore.backend %q", ErrInvalidConfig, c.KeyStore.Backend)
	}
	if c.KeyStore.Path == "" {
		return fmt.Errorf("%w: keystore.path is required", ErrInvalidConfig)
	}
	switch c.Cipher.Backend {
	case blockcipher.BackendSoftware, blockcipher.BackendAccelerator:
	default:
		return fmt.Errorf("%w: cipher.backend %q", ErrInvalidConfig, c.Cipher.Backend)
	}
	if !blockcipher.ValidKeySize(c.Cipher.KeySize / 8) {
		return fmt.Errorf("%w: cipher.key_size %d must be 128 or 256", ErrInvalidConfig, c.Cipher.KeySize)
	}
	if _, err := digest.ByName(c.Hash); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.NBD.Export == "" {
		return fmt.Errorf("%w: nbd.export is required", ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Log.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// KeySizeBytes returns the disk key length in bytes
func (c *Config) KeySizeBytes() int {
	return c.Cipher.KeySize / 8
}

// Logger returns a logger configured from the log section
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.Log.Format == LogFormatJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
