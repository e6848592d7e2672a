// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package portal

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Direction marks which way a frame travelled
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

// String returns an arrow for the direction
func (d Direction) String() string {
	if d == Outbound {
		return ">>"
	}
	return "<<"
}

// FormatFrame formats a canonical frame into a human-readable string
func FormatFrame(f Frame, dir Direction, at time.Time) string {
	timestamp := at.Format("15:04:05.000")
	if f.IsZero() {
		return fmt.Sprintf("[%s] %s (empty)\n", timestamp, dir)
	}

	result := fmt.Sprintf("[%s] %s %s (0x%02X)\n", timestamp, dir, FormatOpcode(f.Opcode()), f.Opcode())
	if dir == Outbound {
		result += FormatCommand(f)
	} else {
		result += FormatResponse(f)
	}
	return result
}

// FormatOpcode returns the human-readable name for an opcode
func FormatOpcode(op byte) string {
	switch op {
	case OpReset:
		return "RESET"
	case OpActivate:
		return "ACTIVATE"
	case OpStatus:
		return "STATUS"
	case OpColor:
		return "SET_COLOR"
	case OpFade:
		return "FADE_COLOR"
	case OpQuery:
		return "QUERY"
	case OpSpeaker:
		return "SPEAKER"
	default:
		return "UNKNOWN"
	}
}

// FormatCommand formats the payload of an outbound command
func FormatCommand(f Frame) string {
	switch f.Opcode() {
	case OpReset, OpStatus:
		return "  (no payload)\n"

	case OpActivate:
		return fmt.Sprintf("  Activate: 0x%02X\n", f[1])

	case OpColor:
		return fmt.Sprintf("  Color: #%02X%02X%02X\n", f[1], f[2], f[3])

	case OpFade:
		// Plain fades never use byte 6. A positional frame with blue=0 is
		// shown as a plain fade.
		if f[6] != 0 && f[1] <= byte(PositionLeft) {
			fade := binary.LittleEndian.Uint16(f[2:4])
			return fmt.Sprintf("  Zone: %s, Color: #%02X%02X%02X, Fade: %d ms\n",
				Position(f[1]), f[4], f[5], f[6], fade)
		}
		fade := binary.LittleEndian.Uint16(f[1:3])
		return fmt.Sprintf("  Color: #%02X%02X%02X, Fade: %d ms\n", f[3], f[4], f[5], fade)

	case OpQuery:
		if f == NewTrapFlash() {
			return "  Trap light flash\n"
		}
		return fmt.Sprintf("  Figure: 0x%02X (slot %d), Block: %d\n", f[1], int(f[1])-QueryIndexOffset, f[2])

	case OpSpeaker:
		return fmt.Sprintf("  Speaker: 0x%02X\n", f[1])

	default:
		return fmt.Sprintf("  Raw: %s\n", f.Hex())
	}
}

// FormatResponse formats the payload of an inbound frame
func FormatResponse(f Frame) string {
	resp, err := DecodeResponse(f)
	if err != nil {
		return fmt.Sprintf("  Raw: %s\n", f.Hex())
	}

	switch resp.Kind {
	case ResponseStatus:
		return FormatStatusReport(resp.Status)
	case ResponseQuery:
		q := resp.Query
		slot := "?"
		if s, ok := q.Slot(); ok {
			slot = fmt.Sprintf("%d", s)
		}
		return fmt.Sprintf("  Figure: 0x%02X (slot %s), Block: %d\n  Data: % X\n",
			q.FigureIndex, slot, q.BlockIndex, q.Data[:])
	default:
		return "  (empty)\n"
	}
}

// FormatStatusReport lists every slot with a non-absent status
func FormatStatusReport(r StatusReport) string {
	var parts []string
	for i := 0; i < SlotCount; i++ {
		if st := r.Slot(i); st != SlotAbsent {
			parts = append(parts, fmt.Sprintf("%d=%s", i, st))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("  Bits: 0x%08X (all slots empty)\n", r.Bits)
	}
	return fmt.Sprintf("  Bits: 0x%08X, Slots: %s\n", r.Bits, strings.Join(parts, ", "))
}

// FormatBlock formats a 16-byte block as hex plus printable ASCII
func FormatBlock(index int, data []byte) string {
	var ascii strings.Builder
	for _, b := range data {
		if b >= 0x20 && b < 0x7F {
			ascii.WriteByte(b)
		} else {
			ascii.WriteByte('.')
		}
	}
	return fmt.Sprintf("%02d: % X  |%s|", index, data, ascii.String())
}
