// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tagcrypto recovers character statistics from encrypted figure tag
// memory. Each data block has its own AES-128 key, derived with MD5 from the
// tag's sector-0 plaintext and the block number.
package tagcrypto

import (
	"crypto/md5"
	"errors"
	"fmt"
)

// Sector0Size is the length of the key material taken from blocks 0 and 1
const Sector0Size = 32

// BlockSize is the size of one tag block and one AES block
const BlockSize = 16

// KeySize is the AES-128 key length
const KeySize = 16

// copyrightSalt is the publisher string mixed into every block key.
// Only the first 35 bytes are hashed.
var copyrightSalt = []byte(" Copyright (C) 2010 Activision. All")

// hashInputSize is sector-0 plaintext, the block byte and the salt
const hashInputSize = Sector0Size + 1 + 35

// ErrInvalidKeyMaterial is returned when sector-0 data is not exactly 32 bytes
var ErrInvalidKeyMaterial = errors.New("sector 0 data must be exactly 32 bytes")

// ErrInvalidBlockLength is returned when a cipher block is not 16 bytes
var ErrInvalidBlockLength = errors.New("block must be exactly 16 bytes")

// DeriveKey returns the AES key for block b of a tag whose first two blocks
// are sector0.
func DeriveKey(sector0 []byte, block byte) ([KeySize]byte, error) {
	if len(sector0) != Sector0Size {
		return [KeySize]byte{}, fmt.Errorf("%w (got %d)", ErrInvalidKeyMaterial, len(sector0))
	}

	input := make([]byte, 0, hashInputSize)
	input = append(input, sector0...)
	input = append(input, block)
	input = append(input, copyrightSalt...)
	return md5.Sum(input), nil
}

// Sector0 concatenates blocks 0 and 1 into key material
func Sector0(block0, block1 []byte) ([]byte, error) {
	if len(block0) != BlockSize || len(block1) != BlockSize {
		return nil, fmt.Errorf("%w: sector 0 blocks are %d and %d bytes", ErrInvalidBlockLength, len(block0), len(block1))
	}
	out := make([]byte, 0, Sector0Size)
	out = append(out, block0...)
	return append(out, block1...), nil
}

// IsSectorTrailer reports whether a block holds sector access keys rather
// than data. Every fourth block (3, 7, 11, ...) is a trailer.
func IsSectorTrailer(block byte) bool {
	return (int(block)+1)%4 == 0
}

// StatsBlocks lists the blocks carrying character statistics, in read order.
// Trailers 11 and 15 are skipped.
var StatsBlocks = []byte{8, 9, 10, 12, 13, 14}
