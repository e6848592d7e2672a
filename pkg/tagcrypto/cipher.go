// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tagcrypto

import (
	"crypto/aes"
	"fmt"
)

// DecryptBlock decrypts one 16-byte block with AES-128 in ECB mode, no padding
func DecryptBlock(data []byte, key [KeySize]byte) ([]byte, error) {
	if len(data) != BlockSize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidBlockLength, len(data))
	}
	c, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	out := make([]byte, BlockSize)
	c.Decrypt(out, data)
	return out, nil
}

// EncryptBlock encrypts one 16-byte block with AES-128 in ECB mode, no padding.
// The portal never needs it; simulators and tests use it to build tag images.
func EncryptBlock(data []byte, key [KeySize]byte) ([]byte, error) {
	if len(data) != BlockSize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidBlockLength, len(data))
	}
	c, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	out := make([]byte, BlockSize)
	c.Encrypt(out, data)
	return out, nil
}

// DecryptTagBlock derives the key for block b and decrypts data with it
func DecryptTagBlock(sector0 []byte, block byte, data []byte) ([]byte, error) {
	key, err := DeriveKey(sector0, block)
	if err != nil {
		return nil, err
	}
	return DecryptBlock(data, key)
}

// EncryptTagBlock derives the key for block b and encrypts data with it
func EncryptTagBlock(sector0 []byte, block byte, data []byte) ([]byte, error) {
	key, err := DeriveKey(sector0, block)
	if err != nil {
		return nil, err
	}
	return EncryptBlock(data, key)
}
