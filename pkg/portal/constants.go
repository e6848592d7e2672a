// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package portal implements the command/response protocol spoken by NFC figure
// portals over 32-byte USB HID reports.
//
// Two device classes exist. Interrupt-capable portals (Xbox) carry every frame
// behind a 2-byte header on the interrupt endpoints. Control-only portals
// (PS/PC) take commands as HID SET_REPORT control transfers and answer on the
// interrupt IN endpoint or through GET_REPORT. The Framer hides the difference
// so the rest of the stack sees one canonical frame layout.
package portal

import "fmt"

// USB identity
const (
	VendorID    = 0x1430
	ProductPSPC = 0x0150 // control-only class
	ProductXbox = 0x1F17 // interrupt-capable class
)

// Frame geometry
const (
	FrameSize = 32
	BlockSize = 16
	SlotCount = 16

	// QueryIndexOffset maps a status slot (0-15) onto the figure index range
	// (0x10-0x1F) used by QUERY requests and replies.
	QueryIndexOffset = 0x10

	// MaxBlockIndex is the last block of a 1K MIFARE Classic tag.
	MaxBlockIndex = 63
)

// Interrupt-capable class header
const (
	HeaderByte0 = 0x0B
	HeaderByte1 = 0x14
	HeaderSize  = 2
)

// Command opcodes (host -> portal)
const (
	OpReset    = 'R' // 0x52
	OpActivate = 'A' // 0x41
	OpStatus   = 'S' // 0x53
	OpColor    = 'C' // 0x43
	OpFade     = 'J' // 0x4A
	OpQuery    = 'Q' // 0x51
	OpSpeaker  = 'M' // 0x4D
)

// Response opcodes (portal -> host) share the command letters.
const (
	RespStatus = OpStatus
	RespQuery  = OpQuery
)

// Status response layout, relative to the opcode byte
const (
	statusBitsOffset = 1
	statusBitsLen    = 4
)

// Query response layout, relative to the opcode byte
const (
	queryFigureOffset = 1
	queryBlockOffset  = 2
	queryDataOffset   = 3
)

// SlotStatus is the 2-bit presence code reported for one slot.
type SlotStatus uint8

// Slot status values
const (
	SlotAbsent  SlotStatus = 0b00
	SlotPresent SlotStatus = 0b01
	SlotRemoved SlotStatus = 0b10
	SlotAdded   SlotStatus = 0b11
)

// IsPresent reports whether the code signals a figure on the slot. The added
// edge and the steady present state are treated alike.
func (s SlotStatus) IsPresent() bool {
	return s == SlotPresent || s == SlotAdded
}

// String returns the protocol name of the status code.
func (s SlotStatus) String() string {
	switch s {
	case SlotAbsent:
		return "ABSENT"
	case SlotPresent:
		return "PRESENT"
	case SlotRemoved:
		return "REMOVED"
	case SlotAdded:
		return "ADDED"
	default:
		return "INVALID"
	}
}

// Position selects one of the portal light zones for positional color commands.
type Position uint8

// Light zones
const (
	PositionRight  Position = 0x00
	PositionCenter Position = 0x01 // trap light on Trap Team portals
	PositionLeft   Position = 0x02
)

// String returns the zone name.
func (p Position) String() string {
	switch p {
	case PositionRight:
		return "right"
	case PositionCenter:
		return "center"
	case PositionLeft:
		return "left"
	default:
		return "unknown"
	}
}

// ParsePosition parses a light zone name
func ParsePosition(s string) (Position, error) {
	switch s {
	case "right", "r":
		return PositionRight, nil
	case "center", "centre", "trap", "c":
		return PositionCenter, nil
	case "left", "l":
		return PositionLeft, nil
	default:
		return 0, fmt.Errorf("unknown light position %q (want left, center or right)", s)
	}
}
