// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package stick

import (
	"fmt"

	"github.com/jeremyhahn/go-cryptstick/pkg/media"
	"github.com/jeremyhahn/go-cryptstick/pkg/secret"
	"github.com/sirupsen/logrus"
)

// maxHostBlocks is the largest block count addressable with a 32-bit index
const maxHostBlocks = uint64(1) << 32

// ReadSector reads one sector from the medium and decrypts it into buf.
// It returns the number of bytes delivered, which is either the block size
// or 0 on error. On a crypto failure buf is zeroed rather than left holding
// partially decrypted data.
func (d *Device) ReadSector(index uint32, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readSectorLocked(index, buf)
}

func (d *Device) readSectorLocked(index uint32, buf []byte) (int, error) {
	if err := d.requireState("read", StateEncrypting); err != nil {
		return 0, err
	}
	if len(buf) != d.media.BlockSize() {
		return 0, &SectorError{Op: "read", Sector: index, Err: fmt.Errorf("%w: got %d bytes, want %d",
			ErrInvalidLength, len(buf), d.media.BlockSize())}
	}

	if err := d.media.ReadBlock(index, buf); err != nil {
		d.log.WithFields(logrus.Fields{"sector": index}).WithError(err).Error("Media read failed")
		return 0, &SectorError{Op: "read", Sector: index, Err: fmt.Errorf("%w: %w", ErrStorage, err)}
	}

	n, err := d.crypter.decrypt(index, buf)
	if err != nil {
		secret.Zero(buf)
		d.log.WithFields(logrus.Fields{"sector": index}).WithError(err).Error("Sector decryption failed")
		return 0, &SectorError{Op: "read", Sector: index, Err: err}
	}

	d.log.WithFields(logrus.Fields{"sector": index}).Debug("Sector read")
	return n, nil
}

// WriteSector encrypts buf in place and writes it to the medium. Writes are
// refused without side effects while the disk is locked or read-only. buf
// holds ciphertext after the call, whether or not the media write succeeded.
func (d *Device) WriteSector(index uint32, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeSectorLocked(index, buf)
}

func (d *Device) writeSectorLocked(index uint32, buf []byte) (int, error) {
	if err := d.requireState("write", StateEncrypting); err != nil {
		return 0, err
	}
	if d.readOnly {
		return 0, &SectorError{Op: "write", Sector: index, Err: ErrReadOnly}
	}
	if len(buf) != d.media.BlockSize() {
		return 0, &SectorError{Op: "write", Sector: index, Err: fmt.Errorf("%w: got %d bytes, want %d",
			ErrInvalidLength, len(buf), d.media.BlockSize())}
	}

	n, err := d.crypter.encrypt(index, buf)
	if err != nil {
		d.log.WithFields(logrus.Fields{"sector": index}).WithError(err).Error("Sector encryption failed")
		return 0, &SectorError{Op: "write", Sector: index, Err: err}
	}

	if err := d.media.WriteBlock(index, buf); err != nil {
		d.log.WithFields(logrus.Fields{"sector": index}).WithError(err).Error("Media write failed")
		return 0, &SectorError{Op: "write", Sector: index, Err: fmt.Errorf("%w: %w", ErrStorage, err)}
	}

	d.log.WithFields(logrus.Fields{"sector": index}).Debug("Sector written")
	return n, nil
}

// BlockSize returns the block size presented to the host
func (d *Device) BlockSize() int {
	return d.media.BlockSize()
}

// BlockCount returns the number of blocks presented to the host: the setup
// view while locked, the encrypted medium once unlocked
func (d *Device) BlockCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return viewBlocks(d.viewLocked())
}

// HostReadOnly reports whether the host must treat the disk as write
// protected. The setup view is always read-only.
func (d *Device) HostReadOnly() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state != StateEncrypting || d.readOnly
}

// ReadBlock serves a host read from whichever view is current
func (d *Device) ReadBlock(index uint32, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateEncrypting {
		return d.readSectorLocked(index, buf)
	}
	if err := d.checkOpen("read"); err != nil {
		return 0, err
	}
	if err := d.setup.ReadBlock(index, buf); err != nil {
		return 0, &SectorError{Op: "read", Sector: index, Err: fmt.Errorf("%w: %w", ErrStorage, err)}
	}
	return len(buf), nil
}

// WriteBlock serves a host write. Writes to the setup view are refused.
func (d *Device) WriteBlock(index uint32, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateEncrypting {
		return d.writeSectorLocked(index, buf)
	}
	if err := d.checkOpen("write"); err != nil {
		return 0, err
	}
	return 0, &SectorError{Op: "write", Sector: index, Err: ErrReadOnly}
}

func (d *Device) viewLocked() media.Media {
	if d.state == StateEncrypting {
		return d.media
	}
	return d.setup
}

func viewBlocks(m media.Media) uint64 {
	n := m.BlockCount()
	if n > maxHostBlocks {
		return maxHostBlocks
	}
	return n
}

// Sync flushes the medium when it supports it
func (d *Device) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen("sync"); err != nil {
		return err
	}
	if s, ok := d.media.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}
	return nil
}
