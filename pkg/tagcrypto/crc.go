// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tagcrypto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CRC-16/CCITT-FALSE parameters
const (
	crcInitial    = 0xFFFF
	crcPolynomial = 0x1021
)

// HeaderChecksumOffset is where sector 0 stores the little-endian checksum
// of the bytes before it
const HeaderChecksumOffset = 0x1E

// ErrHeaderChecksum is returned when the stored header checksum is wrong
var ErrHeaderChecksum = errors.New("tag header checksum mismatch")

// CRC16 computes the CRC-16-CCITT checksum (MSB first) for the given data
func CRC16(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC16Range computes CRC16 over length bytes of data starting at offset
func CRC16Range(data []byte, offset, length int) (uint16, error) {
	if offset < 0 || length < 0 || offset > len(data) || length > len(data)-offset {
		return 0, fmt.Errorf("crc range [%d:+%d] outside %d bytes", offset, length, len(data))
	}
	return CRC16(data[offset : offset+length]), nil
}

// VerifyHeader checks the checksum sector 0 carries over its first 30 bytes
func VerifyHeader(sector0 []byte) error {
	if len(sector0) != Sector0Size {
		return fmt.Errorf("%w (got %d)", ErrInvalidKeyMaterial, len(sector0))
	}
	want, err := CRC16Range(sector0, 0, HeaderChecksumOffset)
	if err != nil {
		return err
	}
	if got := binary.LittleEndian.Uint16(sector0[HeaderChecksumOffset:]); got != want {
		return fmt.Errorf("%w: stored 0x%04X, computed 0x%04X", ErrHeaderChecksum, got, want)
	}
	return nil
}

// SealHeader writes the header checksum into sector 0 in place
func SealHeader(sector0 []byte) error {
	if len(sector0) != Sector0Size {
		return fmt.Errorf("%w (got %d)", ErrInvalidKeyMaterial, len(sector0))
	}
	crc, err := CRC16Range(sector0, 0, HeaderChecksumOffset)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(sector0[HeaderChecksumOffset:], crc)
	return nil
}
