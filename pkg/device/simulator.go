// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/portalstat/pkg/figures"
	"github.com/Thermoquad/portalstat/pkg/portal"
	"github.com/Thermoquad/portalstat/pkg/tagcrypto"
)

// TagSize is the size of a full tag image: 64 blocks of 16 bytes
const TagSize = (portal.MaxBlockIndex + 1) * portal.BlockSize

// errWriteRejected is returned by SET_REPORT while injected failures remain
var errWriteRejected = errors.New("simulator: transfer rejected")

// NewTag builds a tag image for a figure ID with encrypted stats. serial
// seeds the block 0 bytes, which also feed the per-block keys.
func NewTag(figureID uint16, serial uint32, xp, gold int, playtime uint32) ([]byte, error) {
	tag := make([]byte, TagSize)
	tag[0] = byte(serial)
	tag[1] = byte(serial >> 8)
	tag[2] = byte(serial >> 16)
	tag[3] = byte(serial >> 24)
	tag[4] = tag[0] ^ tag[1] ^ tag[2] ^ tag[3] // BCC
	copy(tag[5:16], []byte{0x81, 0x01, 0x0F, 0xC4, 0x0B, 0x14, 0x00, 0x00, 0x00, 0x00, 0x12})
	tag[16] = byte(figureID)
	tag[17] = byte(figureID >> 8)
	if err := tagcrypto.SealHeader(tag[:tagcrypto.Sector0Size]); err != nil {
		return nil, err
	}

	blocks, err := tagcrypto.EncodeStats(tag[:tagcrypto.Sector0Size], xp, gold, playtime)
	if err != nil {
		return nil, err
	}
	for b, data := range blocks {
		copy(tag[int(b)*portal.BlockSize:], data)
	}
	return tag, nil
}

type simSlot struct {
	tag        []byte
	status     portal.SlotStatus
	unreadable bool
}

// Simulator is an in-memory portal of either transport kind. It answers
// STATUS and QUERY like hardware does, reports add and remove edges once,
// and records every command it receives. It implements portal.ReportChannel.
type Simulator struct {
	mu       sync.Mutex
	kind     portal.TransportKind
	slots    [portal.SlotCount]simSlot
	pending  []portal.Frame
	stale    []portal.Frame
	commands []portal.Frame
	color    figures.RGB
	active   bool
	failures int
	closed   bool
}

// NewSimulator creates an empty simulated portal
func NewSimulator(kind portal.TransportKind) *Simulator {
	return &Simulator{kind: kind}
}

// Kind returns the simulated transport kind
func (s *Simulator) Kind() portal.TransportKind {
	return s.kind
}

// Place puts a tag image on a slot. The next status report carries the add
// edge.
func (s *Simulator) Place(slot int, tag []byte) error {
	if err := portal.ValidateSlot(slot); err != nil {
		return err
	}
	if len(tag) != TagSize {
		return fmt.Errorf("tag image is %d bytes, want %d", len(tag), TagSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = simSlot{tag: append([]byte(nil), tag...), status: portal.SlotAdded}
	return nil
}

// PlaceFigure builds a tag with NewTag and places it
func (s *Simulator) PlaceFigure(slot int, figureID uint16, xp, gold int, playtime uint32) error {
	tag, err := NewTag(figureID, uint32(0x5A000000)|uint32(slot)<<8|uint32(figureID), xp, gold, playtime)
	if err != nil {
		return err
	}
	return s.Place(slot, tag)
}

// Remove lifts the figure on a slot. The next status report carries the
// remove edge.
func (s *Simulator) Remove(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= portal.SlotCount || s.slots[slot].tag == nil {
		return
	}
	s.slots[slot] = simSlot{status: portal.SlotRemoved}
}

// RemoveSilently lifts a figure without reporting the remove edge, as when
// the edge report is lost.
func (s *Simulator) RemoveSilently(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= portal.SlotCount {
		return
	}
	s.slots[slot] = simSlot{}
}

// SetUnreadable makes QUERYs to a slot go unanswered
func (s *Simulator) SetUnreadable(slot int, unreadable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot >= 0 && slot < portal.SlotCount {
		s.slots[slot].unreadable = unreadable
	}
}

// InjectStaleReply queues a QUERY reply that arrives ahead of the answer to
// the next QUERY.
func (s *Simulator) InjectStaleReply(figureIndex, blockIndex uint8, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = append(s.stale, portal.EncodeQueryResponse(figureIndex, blockIndex, data))
}

// FailWrites makes the next n SET_REPORT transfers fail
func (s *Simulator) FailWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Commands returns every command received, in canonical layout
func (s *Simulator) Commands() []portal.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]portal.Frame(nil), s.commands...)
}

// Color returns the last SET_COLOR value
func (s *Simulator) Color() figures.RGB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color
}

// Active reports whether the portal has been activated since the last reset
func (s *Simulator) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// statusLocked builds the next status report and settles reported edges
func (s *Simulator) statusLocked() portal.Frame {
	codes := make(map[int]portal.SlotStatus, portal.SlotCount)
	for i := range s.slots {
		sl := &s.slots[i]
		codes[i] = sl.status
		switch sl.status {
		case portal.SlotAdded:
			sl.status = portal.SlotPresent
		case portal.SlotRemoved:
			sl.status = portal.SlotAbsent
		}
	}
	return portal.EncodeStatusResponse(portal.StatusBits(codes))
}

func (s *Simulator) handleLocked(cmd portal.Frame) {
	s.commands = append(s.commands, cmd)

	switch cmd.Opcode() {
	case portal.OpReset:
		s.pending = nil
		s.active = false
	case portal.OpActivate:
		s.active = cmd[1] == 0x01
	case portal.OpStatus:
		if s.kind == portal.ControlOnly {
			s.pending = append(s.pending, s.statusLocked())
		}
	case portal.OpColor:
		s.color = figures.RGB{R: cmd[1], G: cmd[2], B: cmd[3]}
	case portal.OpQuery:
		s.pending = append(s.pending, s.stale...)
		s.stale = nil
		s.queryLocked(cmd[1], cmd[2])
	}
}

func (s *Simulator) queryLocked(figureIndex, blockIndex uint8) {
	slot, ok := portal.SlotForQueryIndex(figureIndex)
	if !ok || blockIndex > portal.MaxBlockIndex || s.slots[slot].tag == nil {
		// Failed read
		s.pending = append(s.pending, portal.EncodeQueryResponse(0x01, blockIndex, nil))
		return
	}
	if s.slots[slot].unreadable {
		return
	}
	off := int(blockIndex) * portal.BlockSize
	s.pending = append(s.pending, portal.EncodeQueryResponse(figureIndex, blockIndex, s.slots[slot].tag[off:off+portal.BlockSize]))
}

// Write takes an interrupt OUT transfer
func (s *Simulator) Write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.handleLocked(s.kind.Decode(frame))
	return nil
}

// SetReport takes a SET_REPORT control transfer
func (s *Simulator) SetReport(value uint16, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.failures > 0 {
		s.failures--
		return errWriteRejected
	}
	cmd := portal.FrameFrom(frame)
	if value != portal.SetReportValue(cmd) {
		return fmt.Errorf("simulator: wValue 0x%04X does not match opcode %q", value, cmd.Opcode())
	}
	s.handleLocked(cmd)
	return nil
}

// Read returns the next input report. Interrupt portals stream status when
// nothing else is pending; control-only portals time out.
func (s *Simulator) Read(time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	var f portal.Frame
	switch {
	case len(s.pending) > 0:
		f = s.pending[0]
		s.pending = s.pending[1:]
	case s.kind == portal.InterruptCapable && s.active:
		f = s.statusLocked()
	default:
		return nil, portal.ErrTimeout
	}

	wire := s.kind.Encode(f)
	return wire[:], nil
}

// GetReport takes a GET_REPORT control transfer
func (s *Simulator) GetReport(value uint16, timeout time.Duration) ([]byte, error) {
	if value != portal.GetReportValue {
		return nil, fmt.Errorf("simulator: unexpected GET_REPORT value 0x%04X", value)
	}
	return s.Read(timeout)
}

// HasInterruptIn always reports true
func (s *Simulator) HasInterruptIn() bool {
	return true
}

// Close marks the simulator closed
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
