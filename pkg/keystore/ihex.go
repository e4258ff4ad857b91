// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"bufio"
	"fmt"
	"io"
)

const ihexRecordLen = 16

// WriteIntelHex writes the EEPROM contents of rec in Intel HEX format, as
// loaded by device programmers: the verifier at 0x00 followed by the
// encrypted key at 0x20.
func WriteIntelHex(w io.Writer, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	image := make([]byte, KeyOffset+rec.KeySize)
	copy(image[VerifierOffset:], rec.Verifier)
	copy(image[KeyOffset:], rec.EncryptedKey)

	bw := bufio.NewWriter(w)
	for addr := 0; addr < len(image); addr += ihexRecordLen {
		end := addr + ihexRecordLen
		if end > len(image) {
			end = len(image)
		}
		writeIhexRecord(bw, uint16(addr), 0x00, image[addr:end]) // #nosec G115 - image is under 64 bytes
	}
	writeIhexRecord(bw, 0, 0x01, nil)

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write hex image: %w", err)
	}
	return nil
}

func writeIhexRecord(w *bufio.Writer, addr uint16, recType byte, data []byte) {
	sum := byte(len(data)) + byte(addr>>8) + byte(addr) + recType
	_, _ = fmt.Fprintf(w, ":%02X%04X%02X", len(data), addr, recType)
	for _, b := range data {
		sum += b
		_, _ = fmt.Fprintf(w, "%02X", b)
	}
	_, _ = fmt.Fprintf(w, "%02X\n", ^sum+1)
}
