// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package portal

// Command builder functions create zero-padded frames ready for the framer.

// NewReset creates a RESET frame ('R').
func NewReset() Frame {
	return Frame{OpReset}
}

// NewActivate creates an ACTIVATE frame ('A' 0x01).
// The portal starts reporting status only after activation.
func NewActivate() Frame {
	return Frame{OpActivate, 0x01}
}

// NewStatusRequest creates a STATUS request frame ('S').
// Control-only portals answer with a status report; interrupt portals stream
// status on their own and ignore the request.
func NewStatusRequest() Frame {
	return Frame{OpStatus}
}

// NewSetColor creates a SET_COLOR frame ('C' r g b).
func NewSetColor(r, g, b uint8) Frame {
	return Frame{OpColor, r, g, b}
}

// NewFadeColor creates a FADE_COLOR frame ('J' fadeLo fadeHi r g b).
// The fade time is little-endian milliseconds.
func NewFadeColor(r, g, b uint8, fadeMs uint16) Frame {
	return Frame{OpFade, byte(fadeMs), byte(fadeMs >> 8), r, g, b}
}

// NewPositionColor creates a positional color frame ('J' pos 0 0 r g b).
func NewPositionColor(pos Position, r, g, b uint8) Frame {
	return NewPositionFade(pos, r, g, b, 0)
}

// NewPositionFade creates a positional fade frame ('J' pos fadeLo fadeHi r g b).
func NewPositionFade(pos Position, r, g, b uint8, fadeMs uint16) Frame {
	return Frame{OpFade, byte(pos), byte(fadeMs), byte(fadeMs >> 8), r, g, b}
}

// NewQueryBlock creates a QUERY_BLOCK frame ('Q' figureIndex blockIndex).
// figureIndex is in query space; use QueryIndex to convert a status slot.
func NewQueryBlock(figureIndex, blockIndex uint8) Frame {
	return Frame{OpQuery, figureIndex, blockIndex}
}

// NewSpeakerActivate creates the speaker enable frame ('M' 0x01).
func NewSpeakerActivate() Frame {
	return Frame{OpSpeaker, 0x01}
}

// NewTrapFlash creates the trap light flash frame ('Q' 0x10 0x08).
func NewTrapFlash() Frame {
	return Frame{OpQuery, 0x10, 0x08}
}

// QueryIndex maps a status slot onto the QUERY figure index space.
func QueryIndex(slot int) uint8 {
	return uint8(slot) + QueryIndexOffset
}

// SlotForQueryIndex maps a QUERY figure index back to its status slot.
// Returns false for indices outside the query range.
func SlotForQueryIndex(figureIndex uint8) (int, bool) {
	if figureIndex < QueryIndexOffset || figureIndex >= QueryIndexOffset+SlotCount {
		return 0, false
	}
	return int(figureIndex - QueryIndexOffset), true
}
