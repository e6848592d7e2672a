// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package portal

import "encoding/hex"

// Frame is one canonical 32-byte command or response. Opcode sits at byte 0;
// class-specific headers are already stripped.
type Frame [FrameSize]byte

// FrameFrom copies up to FrameSize bytes of b into a zero-padded frame.
func FrameFrom(b []byte) Frame {
	var f Frame
	copy(f[:], b)
	return f
}

// IsZero reports whether every byte of the frame is zero. The framer hands
// out zero frames for timeouts and soft I/O failures.
func (f Frame) IsZero() bool {
	for _, b := range f {
		if b != 0 {
			return false
		}
	}
	return true
}

// Opcode returns the leading opcode byte
func (f Frame) Opcode() byte {
	return f[0]
}

// Bytes returns the frame as a slice
func (f Frame) Bytes() []byte {
	b := make([]byte, FrameSize)
	copy(b, f[:])
	return b
}

// Hex returns the frame as a lowercase hex string
func (f Frame) Hex() string {
	return hex.EncodeToString(f[:])
}

// Shift returns the frame with the first n bytes dropped, used to strip
// class-specific response headers.
func (f Frame) Shift(n int) Frame {
	if n <= 0 {
		return f
	}
	if n >= FrameSize {
		return Frame{}
	}
	return FrameFrom(f[n:])
}
