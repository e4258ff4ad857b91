// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package stick

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
	"github.com/jeremyhahn/go-cryptstick/pkg/digest"
	"github.com/jeremyhahn/go-cryptstick/pkg/keystore"
	"github.com/jeremyhahn/go-cryptstick/pkg/secret"
)

// ProvisionOptions contains options for provisioning a new stick
type ProvisionOptions struct {
	Passphrase []byte             // Wiped before Provision returns
	KeySize    int                // Disk key length in bytes (default: 16)
	Hash       string             // Digest name (default: sha256)
	Cipher     blockcipher.Cipher // Backend used to encrypt the key (default: software)
	VolumeID   uuid.UUID          // Volume UUID (default: random)
	Key        []byte             // Disk key to store instead of a random one
	Force      bool               // Overwrite an existing record
}

// Provision generates a disk key, encrypts it under the passphrase and
// stores the resulting record. It refuses to replace an existing record
// unless Force is set, since that makes the old media unreadable.
func Provision(store keystore.Store, opts ProvisionOptions) (*keystore.Record, error) {
	pp := secret.Passphrase(opts.Passphrase)
	defer pp.Close()

	if err := ValidatePassphrase(opts.Passphrase); err != nil {
		return nil, err
	}

	if opts.KeySize == 0 {
		opts.KeySize = blockcipher.KeySize128
	}
	if opts.Key != nil {
		opts.KeySize = len(opts.Key)
	}
	if !blockcipher.ValidKeySize(opts.KeySize) {
		return nil, fmt.Errorf("%w: %d bytes", blockcipher.ErrInvalidKeySize, opts.KeySize)
	}
	if opts.Hash == "" {
		opts.Hash = digest.NameSHA256
	}
	h, err := digest.ByName(opts.Hash)
	if err != nil {
		return nil, err
	}
	if opts.Cipher == nil {
		opts.Cipher = &blockcipher.Software{}
	}
	if opts.VolumeID == uuid.Nil {
		opts.VolumeID = uuid.New()
	}

	if !opts.Force {
		_, err := store.Load()
		switch {
		case err == nil:
			return nil, ErrAlreadyProvisioned
		case !errors.Is(err, keystore.ErrNotFound):
			return nil, fmt.Errorf("%w: %w", ErrKeyStore, err)
		}
	}

	var key *secret.Buffer
	if opts.Key != nil {
		key = secret.Copy(opts.Key)
	} else {
		raw, err := randomBytes(opts.KeySize)
		if err != nil {
			return nil, err
		}
		key = secret.From(raw)
	}
	defer key.Close()

	h1, h2 := derivePassphrase(h, opts.Passphrase)
	defer h1.Close()
	defer h2.Close()

	encKey, err := encryptDiskKey(opts.Cipher, h1.Bytes(), key.Bytes())
	if err != nil {
		return nil, err
	}

	rec := &keystore.Record{
		Version:      keystore.RecordVersion,
		VolumeID:     opts.VolumeID,
		KeySize:      opts.KeySize,
		Hash:         h.Name(),
		EncryptedKey: encKey,
		Verifier:     append([]byte(nil), h2.Bytes()...),
	}
	if err := store.Save(rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyStore, err)
	}
	return rec.Clone(), nil
}
