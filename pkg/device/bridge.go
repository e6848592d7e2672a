// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package device provides the channels that carry portal frames: USB via
// libusb, serial and WebSocket bridges to a remote portal, and an in-memory
// portal simulator.
package device

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Thermoquad/portalstat/pkg/portal"
)

// ErrClosed is returned by operations on a closed channel
var ErrClosed = errors.New("device: channel closed")

// Bridge records relay USB transfers between a host and a remote portal.
// Every record is RecordSize bytes: kind, wValue (little-endian) and one
// 32-byte report.
const (
	RecordSize = 3 + portal.FrameSize

	RecordInterruptOut byte = 'O' // host to device, interrupt OUT
	RecordSetReport    byte = 'S' // host to device, SET_REPORT with wValue
	RecordGetReport    byte = 'G' // host to device, GET_REPORT request
	RecordInput        byte = 'I' // device to host, input report
)

// Record is one bridge transfer
type Record struct {
	Kind   byte
	Value  uint16
	Report portal.Frame
}

// Marshal encodes the record for the wire
func (r Record) Marshal() []byte {
	b := make([]byte, RecordSize)
	b[0] = r.Kind
	binary.LittleEndian.PutUint16(b[1:3], r.Value)
	copy(b[3:], r.Report[:])
	return b
}

// ParseRecord decodes one record
func ParseRecord(b []byte) (Record, error) {
	if len(b) != RecordSize {
		return Record{}, fmt.Errorf("bridge record: got %d bytes, want %d", len(b), RecordSize)
	}
	if !validRecordKind(b[0]) {
		return Record{}, fmt.Errorf("bridge record: unknown kind 0x%02X", b[0])
	}
	return Record{
		Kind:   b[0],
		Value:  binary.LittleEndian.Uint16(b[1:3]),
		Report: portal.FrameFrom(b[3:]),
	}, nil
}

func validRecordKind(k byte) bool {
	switch k {
	case RecordInterruptOut, RecordSetReport, RecordGetReport, RecordInput:
		return true
	}
	return false
}

// ServeRecord applies one host record to a local portal channel and returns
// the input reports to relay back. It is the device side of a bridge.
func ServeRecord(ch portal.ReportChannel, rec Record) ([]Record, error) {
	switch rec.Kind {
	case RecordInterruptOut:
		return nil, ch.Write(rec.Report[:])
	case RecordSetReport:
		return nil, ch.SetReport(rec.Value, rec.Report[:])
	case RecordGetReport:
		data, err := ch.GetReport(rec.Value, portal.DefaultReadTimeout)
		if errors.Is(err, portal.ErrTimeout) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []Record{{Kind: RecordInput, Report: portal.FrameFrom(data)}}, nil
	default:
		return nil, fmt.Errorf("bridge record: unexpected kind %q from host", rec.Kind)
	}
}
