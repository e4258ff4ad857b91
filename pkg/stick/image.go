// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package stick

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-cryptstick/pkg/blockcipher"
	"github.com/jeremyhahn/go-cryptstick/pkg/digest"
	"github.com/jeremyhahn/go-cryptstick/pkg/secret"
)

// ImageCodec converts whole media images between plaintext and the
// on-media format without a running device. Sector i of the stream is
// processed with the IV of sector i.
type ImageCodec struct {
	crypter   *sectorCrypter
	blockSize int
}

// NewImageCodec returns a codec for diskKey. The key is copied.
func NewImageCodec(c blockcipher.Cipher, h digest.Hash, diskKey []byte, blockSize int) (*ImageCodec, error) {
	if c == nil {
		c = &blockcipher.Software{}
	}
	if blockSize <= 0 || blockSize%blockcipher.BlockSize != 0 {
		return nil, fmt.Errorf("%w: block size %d", ErrInvalidLength, blockSize)
	}
	crypter, err := newSectorCrypter(c, h, secret.Copy(diskKey))
	if err != nil {
		return nil, err
	}
	return &ImageCodec{crypter: crypter, blockSize: blockSize}, nil
}

// EncryptImage reads plaintext sectors from src and writes ciphertext to
// dst. It returns the number of sectors processed.
func (ic *ImageCodec) EncryptImage(dst io.Writer, src io.Reader) (uint32, error) {
	return ic.transform("encrypt", dst, src, ic.crypter.encrypt)
}

// DecryptImage reads ciphertext sectors from src and writes plaintext to
// dst. It returns the number of sectors processed.
func (ic *ImageCodec) DecryptImage(dst io.Writer, src io.Reader) (uint32, error) {
	return ic.transform("decrypt", dst, src, ic.crypter.decrypt)
}

// Close wipes the key material
func (ic *ImageCodec) Close() {
	ic.crypter.close()
}

func (ic *ImageCodec) transform(op string, dst io.Writer, src io.Reader, fn func(uint32, []byte) (int, error)) (uint32, error) {
	buf := make([]byte, ic.blockSize)
	defer secret.Zero(buf)

	var sector uint32
	for {
		_, err := io.ReadFull(src, buf)
		if errors.Is(err, io.EOF) {
			return sector, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return sector, &SectorError{Op: op, Sector: sector, Err: fmt.Errorf("%w: partial trailing sector", ErrInvalidLength)}
		}
		if err != nil {
			return sector, fmt.Errorf("failed to read sector %d: %w", sector, err)
		}

		if _, err := fn(sector, buf); err != nil {
			return sector, &SectorError{Op: op, Sector: sector, Err: err}
		}
		if _, err := dst.Write(buf); err != nil {
			return sector, fmt.Errorf("failed to write sector %d: %w", sector, err)
		}
		sector++
	}
}
