// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package stick implements the encrypting disk: passphrase unlock of the
// disk key, passphrase change, write protection and the per-sector
// encryption pipeline between the host and the physical medium.
package stick

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
	"github.com/jeremyhahn/go-cryptstick/pkg/digest"
	"github.com/jeremyhahn/go-cryptstick/pkg/keystore"
	"github.com/jeremyhahn/go-cryptstick/pkg/media"
	"github.com/sirupsen/logrus"
)

// DefaultSetupBlocks is the size of the empty volume shown before unlock
const DefaultSetupBlocks = 64

// Reconnector asks the host to drop and re-enumerate the disk so it
// rereads geometry and the write-protect flag
type Reconnector interface {
	Reconnect()
}

// ReconnectFunc adapts a function to the Reconnector interface
type ReconnectFunc func()

// Reconnect calls f
func (f ReconnectFunc) Reconnect() {
	f()
}

// Options configures a Device
type Options struct {
	// Cipher is the AES backend. Defaults to the software backend.
	Cipher blockcipher.Cipher

	// Store holds the encrypted disk key and the passphrase verifier
	Store keystore.Store

	// Media is the encrypted backing medium
	Media media.Media

	// SetupView is shown to the host before unlock. Defaults to an empty
	// read-only volume of DefaultSetupBlocks blocks.
	SetupView media.Media

	// Reconnector is notified whenever the host view changes
	Reconnector Reconnector

	Logger *logrus.Logger
}

// Device is the stick: one encrypted medium, its key record and the
// unlock state machine. All methods are safe for concurrent use.
type Device struct {
	mu          sync.Mutex
	cipher      blockcipher.Cipher
	hash        digest.Hash
	store       keystore.Store
	media       media.Media
	setup       media.Media
	reconnector Reconnector
	log         *logrus.Entry

	state    State
	readOnly bool
	record   *keystore.Record
	crypter  *sectorCrypter
	closed   bool
}

// Info is a snapshot of the device status
type Info struct {
	State      State
	ReadOnly   bool
	Cipher     string
	Hash       string
	KeySize    int
	VolumeID   uuid.UUID
	BlockSize  int
	BlockCount uint64
}

// New loads the key record and returns a device in the initial state
func New(opts Options) (*Device, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("key store is required")
	}
	if opts.Media == nil {
		return nil, fmt.Errorf("media is required")
	}
	if opts.Cipher == nil {
		opts.Cipher = &blockcipher.Software{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	bs := opts.Media.BlockSize()
	if bs%blockcipher.BlockSize != 0 {
		return nil, fmt.Errorf("block size %d is not a multiple of %d", bs, blockcipher.BlockSize)
	}
	if opts.SetupView == nil {
		opts.SetupView = media.ReadOnly(media.NewMemory(bs, DefaultSetupBlocks))
	}
	if opts.SetupView.BlockSize() != bs {
		return nil, fmt.Errorf("setup view block size %d does not match media block size %d",
			opts.SetupView.BlockSize(), bs)
	}

	rec, err := opts.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyStore, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyStore, err)
	}
	h, err := digest.ByName(rec.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyStore, err)
	}

	d := &Device{
		cipher:      opts.Cipher,
		hash:        h,
		store:       opts.Store,
		media:       opts.Media,
		setup:       opts.SetupView,
		reconnector: opts.Reconnector,
		log: opts.Logger.WithFields(logrus.Fields{
			"component": "stick",
			"volume":    rec.VolumeID.String(),
		}),
		state:  StateInitial,
		record: rec,
	}

	d.log.WithFields(logrus.Fields{
		"cipher":   d.cipher.Name(),
		"hash":     h.Name(),
		"key_bits": rec.KeySize * 8,
		"blocks":   opts.Media.BlockCount(),
	}).Info("Device ready, waiting for passphrase")

	return d, nil
}

// State returns the current disk state
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ReadOnly returns the write-protect flag
func (d *Device) ReadOnly() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readOnly
}

// Info returns a snapshot of the device status
func (d *Device) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()

	view := d.viewLocked()
	return Info{
		State:      d.state,
		ReadOnly:   d.readOnly,
		Cipher:     d.cipher.Name(),
		Hash:       d.hash.Name(),
		KeySize:    d.record.KeySize,
		VolumeID:   d.record.VolumeID,
		BlockSize:  view.BlockSize(),
		BlockCount: viewBlocks(view),
	}
}

// Close wipes the resident key. The media, store and setup view are owned
// by the caller.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	if d.crypter != nil {
		d.crypter.close()
		d.crypter = nil
	}
	d.closed = true
	d.log.Debug("Device closed, key material wiped")
	return nil
}

func (d *Device) checkOpen(op string) error {
	if d.closed {
		return &StateError{Op: op, State: d.state, Err: ErrClosed}
	}
	return nil
}

func (d *Device) requireState(op string, want State) error {
	if err := d.checkOpen(op); err != nil {
		return err
	}
	if d.state != want {
		return &StateError{Op: op, State: d.state, Err: ErrWrongMode}
	}
	return nil
}

// reconnect must be called without d.mu held
func (d *Device) reconnect() {
	if d.reconnector == nil {
		return
	}
	d.log.Debug("Requesting host reconnect")
	d.reconnector.Reconnect()
}
