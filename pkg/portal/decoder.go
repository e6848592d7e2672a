// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package portal

import (
	"encoding/binary"
	"fmt"
)

// ResponseKind identifies the shape of a decoded response
type ResponseKind int

// Response kinds
const (
	ResponseNone ResponseKind = iota // all-zero frame: timeout or nothing pending
	ResponseStatus
	ResponseQuery
)

// String returns the response kind name
func (k ResponseKind) String() string {
	switch k {
	case ResponseNone:
		return "NONE"
	case ResponseStatus:
		return "STATUS"
	case ResponseQuery:
		return "QUERY"
	default:
		return "UNKNOWN"
	}
}

// StatusReport is a decoded STATUS response: 2 bits per slot, slot 0 in the
// lowest bits.
type StatusReport struct {
	Bits uint32
}

// Slot returns the 2-bit status code for a slot (0-15)
func (r StatusReport) Slot(slot int) SlotStatus {
	if slot < 0 || slot >= SlotCount {
		return SlotAbsent
	}
	return SlotStatus((r.Bits >> (uint(slot) * 2)) & 0b11)
}

// Present returns the slots signalled present (01 or 11) in ascending order
func (r StatusReport) Present() []int {
	var slots []int
	for i := 0; i < SlotCount; i++ {
		if r.Slot(i).IsPresent() {
			slots = append(slots, i)
		}
	}
	return slots
}

// Removed returns the slots carrying an explicit removal edge (10)
func (r StatusReport) Removed() []int {
	var slots []int
	for i := 0; i < SlotCount; i++ {
		if r.Slot(i) == SlotRemoved {
			slots = append(slots, i)
		}
	}
	return slots
}

// StatusBits packs per-slot codes into a status bitmap. Slots beyond 15 are
// ignored.
func StatusBits(codes map[int]SlotStatus) uint32 {
	var bits uint32
	for slot, code := range codes {
		if slot < 0 || slot >= SlotCount {
			continue
		}
		bits |= uint32(code&0b11) << (uint(slot) * 2)
	}
	return bits
}

// QueryReply is a decoded QUERY response carrying one 16-byte tag block
type QueryReply struct {
	FigureIndex uint8
	BlockIndex  uint8
	Data        [BlockSize]byte
}

// Matches reports whether the reply answers the given query
func (q QueryReply) Matches(figureIndex, blockIndex uint8) bool {
	return q.FigureIndex == figureIndex && q.BlockIndex == blockIndex
}

// Slot returns the status slot the reply addresses
func (q QueryReply) Slot() (int, bool) {
	return SlotForQueryIndex(q.FigureIndex)
}

// Response is a decoded inbound frame. Exactly one of Status or Query is
// meaningful, selected by Kind.
type Response struct {
	Kind   ResponseKind
	Status StatusReport
	Query  QueryReply
	Raw    Frame
}

// DecodeResponse decodes a canonical frame (header already stripped).
// An all-zero frame decodes to ResponseNone without error. Unrecognised
// opcodes return an error; callers on the poll path discard such frames.
func DecodeResponse(f Frame) (Response, error) {
	resp := Response{Raw: f}
	if f.IsZero() {
		resp.Kind = ResponseNone
		return resp, nil
	}

	switch f.Opcode() {
	case RespStatus:
		resp.Kind = ResponseStatus
		resp.Status.Bits = binary.LittleEndian.Uint32(f[statusBitsOffset : statusBitsOffset+statusBitsLen])
		return resp, nil

	case RespQuery:
		resp.Kind = ResponseQuery
		resp.Query.FigureIndex = f[queryFigureOffset]
		resp.Query.BlockIndex = f[queryBlockOffset]
		copy(resp.Query.Data[:], f[queryDataOffset:queryDataOffset+BlockSize])
		return resp, nil

	default:
		return resp, fmt.Errorf("unknown response opcode 0x%02X", f.Opcode())
	}
}

// EncodeStatusResponse builds a STATUS response frame. Used by simulators and
// tests.
func EncodeStatusResponse(bits uint32) Frame {
	f := Frame{RespStatus}
	binary.LittleEndian.PutUint32(f[statusBitsOffset:], bits)
	return f
}

// EncodeQueryResponse builds a QUERY response frame. Used by simulators and
// tests.
func EncodeQueryResponse(figureIndex, blockIndex uint8, data []byte) Frame {
	f := Frame{RespQuery, figureIndex, blockIndex}
	copy(f[queryDataOffset:queryDataOffset+BlockSize], data)
	return f
}
