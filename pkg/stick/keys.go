// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package stick

import (
	"fmt"

	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
	"github.com/jeremyhahn/go-cryptstick/pkg/cbc"
	"github.com/jeremyhahn/go-cryptstick/pkg/digest"
	"github.com/jeremyhahn/go-cryptstick/pkg/essiv"
	"github.com/jeremyhahn/go-cryptstick/pkg/keystore"
	"github.com/jeremyhahn/go-cryptstick/pkg/secret"
)

// derivePassphrase returns H(P) and H(H(P)) and wipes the passphrase with
// the filler before returning
func derivePassphrase(h digest.Hash, passphrase []byte) (h1, h2 *secret.Buffer) {
	h1 = secret.From(h.Sum(passphrase))
	h2 = secret.From(h.Sum(h1.Bytes()))
	secret.Wipe(passphrase, secret.PassphraseFiller)
	return h1, h2
}

// encryptDiskKey encrypts key block by block under the first len(key) bytes
// of the passphrase hash
func encryptDiskKey(c blockcipher.Cipher, h1, key []byte) ([]byte, error) {
	wrapKey := h1[:len(key)]
	out := append([]byte(nil), key...)
	for off := 0; off < len(out); off += blockcipher.BlockSize {
		if err := c.EncryptBlock(wrapKey, out[off:off+blockcipher.BlockSize]); err != nil {
			secret.Zero(out)
			return nil, fmt.Errorf("failed to encrypt disk key: %w", err)
		}
	}
	return out, nil
}

// decryptDiskKey reverses encryptDiskKey. The backend decryption key is
// derived from the wrap key first, so accelerators get their last subkey.
func decryptDiskKey(c blockcipher.Cipher, h1, encrypted []byte) (*secret.Buffer, error) {
	dk, err := c.DecryptionKey(h1[:len(encrypted)])
	if err != nil {
		return nil, fmt.Errorf("failed to derive unwrap key: %w", err)
	}
	defer secret.Zero(dk)

	key := secret.Copy(encrypted)
	b := key.Bytes()
	for off := 0; off < len(b); off += blockcipher.BlockSize {
		if err := c.DecryptBlock(dk, b[off:off+blockcipher.BlockSize]); err != nil {
			key.Close()
			return nil, fmt.Errorf("failed to decrypt disk key: %w", err)
		}
	}
	return key, nil
}

// OpenKey verifies passphrase against rec and returns the decrypted disk
// key. The passphrase buffer is wiped. A nil cipher selects the software
// backend. The caller must Close the result.
func OpenKey(rec *keystore.Record, c blockcipher.Cipher, passphrase []byte) (*secret.Buffer, error) {
	pp := secret.Passphrase(passphrase)
	defer pp.Close()

	if c == nil {
		c = &blockcipher.Software{}
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyStore, err)
	}
	h, err := digest.ByName(rec.Hash)
	if err != nil {
		return nil, err
	}

	h1, h2 := derivePassphrase(h, passphrase)
	defer h1.Close()
	defer h2.Close()

	if !ConstantTimeEqual(h2.Bytes(), rec.Verifier) {
		return nil, ErrWrongPassphrase
	}
	return decryptDiskKey(c, h1.Bytes(), rec.EncryptedKey)
}

// sectorCrypter is the per-sector pipeline for one resident disk key
type sectorCrypter struct {
	cipher blockcipher.Cipher
	key    *secret.Buffer
	decKey *secret.Buffer
	ivs    *essiv.Deriver
}

// newSectorCrypter takes ownership of key and closes it on failure
func newSectorCrypter(c blockcipher.Cipher, h digest.Hash, key *secret.Buffer) (*sectorCrypter, error) {
	keyHash := h.Sum(key.Bytes())
	defer secret.Zero(keyHash)

	ivs, err := essiv.New(c, keyHash, key.Len())
	if err != nil {
		key.Close()
		return nil, err
	}

	decKey, err := c.DecryptionKey(key.Bytes())
	if err != nil {
		key.Close()
		ivs.Wipe()
		return nil, err
	}

	return &sectorCrypter{
		cipher: c,
		key:    key,
		decKey: secret.From(decKey),
		ivs:    ivs,
	}, nil
}

func (s *sectorCrypter) encrypt(sector uint32, buf []byte) (int, error) {
	iv, err := s.ivs.IV(sector)
	if err != nil {
		return 0, err
	}
	return cbc.Encrypt(s.cipher, s.key.Bytes(), iv[:], buf)
}

func (s *sectorCrypter) decrypt(sector uint32, buf []byte) (int, error) {
	iv, err := s.ivs.IV(sector)
	if err != nil {
		return 0, err
	}
	return cbc.Decrypt(s.cipher, s.decKey.Bytes(), iv[:], buf)
}

func (s *sectorCrypter) close() {
	s.key.Close()
	s.decKey.Close()
	s.ivs.Wipe()
}
