// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package portal

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyUnknownOpcode AnomalyType = iota
	AnomalyQueryFailed
	AnomalyInvalidBlock
	AnomalyQueryMismatch
	AnomalyInvalidSlot
)

// String returns the anomaly name
func (a AnomalyType) String() string {
	switch a {
	case AnomalyUnknownOpcode:
		return "UNKNOWN_OPCODE"
	case AnomalyQueryFailed:
		return "QUERY_FAILED"
	case AnomalyInvalidBlock:
		return "INVALID_BLOCK"
	case AnomalyQueryMismatch:
		return "QUERY_MISMATCH"
	case AnomalyInvalidSlot:
		return "INVALID_SLOT"
	default:
		return "UNKNOWN"
	}
}

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateResponse validates a canonical inbound frame and detects anomalies.
// Returns a slice of validation errors (empty if the frame is valid).
// All-zero frames are valid.
func ValidateResponse(f Frame) []ValidationError {
	errors := []ValidationError{}
	if f.IsZero() {
		return errors
	}

	resp, err := DecodeResponse(f)
	if err != nil {
		return []ValidationError{{
			Type:    AnomalyUnknownOpcode,
			Message: fmt.Sprintf("Unknown response opcode 0x%02X", f.Opcode()),
			Details: map[string]interface{}{"opcode": f.Opcode()},
		}}
	}

	if resp.Kind == ResponseQuery {
		errors = append(errors, validateQueryReply(resp.Query)...)
	}
	return errors
}

// ValidateQueryReply checks that a reply answers the given query
func ValidateQueryReply(q QueryReply, figureIndex, blockIndex uint8) []ValidationError {
	errors := validateQueryReply(q)
	if !q.Matches(figureIndex, blockIndex) {
		errors = append(errors, ValidationError{
			Type: AnomalyQueryMismatch,
			Message: fmt.Sprintf("Reply for figure 0x%02X block %d, expected figure 0x%02X block %d",
				q.FigureIndex, q.BlockIndex, figureIndex, blockIndex),
			Details: map[string]interface{}{
				"figure_index":          q.FigureIndex,
				"block_index":           q.BlockIndex,
				"expected_figure_index": figureIndex,
				"expected_block_index":  blockIndex,
			},
		})
	}
	return errors
}

// validateQueryReply validates the index fields of a QUERY reply
func validateQueryReply(q QueryReply) []ValidationError {
	errors := []ValidationError{}

	// The portal clears the 0x10 bit when the tag could not be read
	if _, ok := q.Slot(); !ok {
		errors = append(errors, ValidationError{
			Type:    AnomalyQueryFailed,
			Message: fmt.Sprintf("Query reply figure index 0x%02X outside 0x10-0x1F (read failed)", q.FigureIndex),
			Details: map[string]interface{}{"figure_index": q.FigureIndex},
		})
	}

	if q.BlockIndex > MaxBlockIndex {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidBlock,
			Message: fmt.Sprintf("Invalid block index=%d (max %d)", q.BlockIndex, MaxBlockIndex),
			Details: map[string]interface{}{"block_index": q.BlockIndex, "max": MaxBlockIndex},
		})
	}

	return errors
}

// ValidateSlot checks a slot number supplied by a caller
func ValidateSlot(slot int) error {
	if slot < 0 || slot >= SlotCount {
		return &ValidationError{
			Type:    AnomalyInvalidSlot,
			Message: fmt.Sprintf("Invalid slot=%d (valid 0-%d)", slot, SlotCount-1),
			Details: map[string]interface{}{"slot": slot},
		}
	}
	return nil
}
