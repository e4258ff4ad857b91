// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package stick

import (
	"fmt"

	"github.com/jeremyhahn/go-cryptstick/pkg/secret"
	"github.com/sirupsen/logrus"
)

// Unlock verifies the passphrase, decrypts the disk key and switches the
// host view to the encrypted medium. The passphrase buffer is overwritten
// with 0xFF whether or not it was accepted. On success the disk comes up
// read-only and the host is asked to reconnect.
func (d *Device) Unlock(passphrase []byte) error {
	pp := secret.Passphrase(passphrase)
	defer pp.Close()

	d.mu.Lock()
	if err := d.requireState("unlock", StateInitial); err != nil {
		d.mu.Unlock()
		return err
	}

	h1, h2 := derivePassphrase(d.hash, passphrase)
	defer h1.Close()
	defer h2.Close()

	if !ConstantTimeEqual(h2.Bytes(), d.record.Verifier) {
		d.mu.Unlock()
		d.log.Warn("Unlock rejected: wrong passphrase")
		return ErrWrongPassphrase
	}

	key, err := decryptDiskKey(d.cipher, h1.Bytes(), d.record.EncryptedKey)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("unlock: %w", err)
	}

	crypter, err := newSectorCrypter(d.cipher, d.hash, key)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("unlock: %w", err)
	}

	d.crypter = crypter
	d.state = StateEncrypting
	d.readOnly = true
	d.mu.Unlock()

	d.log.WithField("blocks", d.media.BlockCount()).Info("Disk unlocked, exposing encrypted volume read-only")
	d.reconnect()
	return nil
}

// ChangePassphrase re-encrypts the resident disk key under a new
// passphrase and persists the new record. The disk must be unlocked, old
// must match the current passphrase, and newPass must equal confirm. All
// three buffers are wiped. The disk key and its contents are unchanged, so
// existing sectors remain readable.
func (d *Device) ChangePassphrase(old, newPass, confirm []byte) error {
	oldBuf := secret.Passphrase(old)
	newBuf := secret.Passphrase(newPass)
	confirmBuf := secret.Passphrase(confirm)
	defer oldBuf.Close()
	defer newBuf.Close()
	defer confirmBuf.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireState("change passphrase", StateEncrypting); err != nil {
		return err
	}

	oldH1, oldH2 := derivePassphrase(d.hash, old)
	oldH1.Close()
	defer oldH2.Close()
	if !ConstantTimeEqual(oldH2.Bytes(), d.record.Verifier) {
		d.log.Warn("Passphrase change rejected: wrong current passphrase")
		return ErrWrongPassphrase
	}

	if !ConstantTimeEqual(newPass, confirm) {
		return ErrPassphraseMismatch
	}
	if err := ValidatePassphrase(newPass); err != nil {
		return err
	}

	newH1, newH2 := derivePassphrase(d.hash, newPass)
	defer newH1.Close()
	defer newH2.Close()

	encKey, err := encryptDiskKey(d.cipher, newH1.Bytes(), d.crypter.key.Bytes())
	if err != nil {
		return fmt.Errorf("change passphrase: %w", err)
	}

	rec := d.record.Clone()
	rec.EncryptedKey = encKey
	rec.Verifier = append([]byte(nil), newH2.Bytes()...)

	if err := d.store.Save(rec); err != nil {
		d.log.WithError(err).Error("Failed to persist new key record")
		return fmt.Errorf("%w: %w", ErrKeyStore, err)
	}

	d.record = rec
	d.log.Info("Passphrase changed")
	return nil
}

// SetReadOnly sets the write-protect flag. The host is asked to reconnect
// only when the flag actually changes.
func (d *Device) SetReadOnly(readOnly bool) error {
	d.mu.Lock()
	if err := d.requireState("set read-only", StateEncrypting); err != nil {
		d.mu.Unlock()
		return err
	}

	changed := d.readOnly != readOnly
	d.readOnly = readOnly
	d.mu.Unlock()

	if changed {
		d.log.WithFields(logrus.Fields{"read_only": readOnly}).Info("Write protection changed")
		d.reconnect()
	}
	return nil
}
