// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package portal

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrTimeout is returned by channels when a read produced no data in time.
// The framer treats it as steady-state silence, not a failure.
var ErrTimeout = errors.New("portal: read timeout")

// ErrNoReportChannel is returned when a control-only framer is built on a
// channel that cannot issue HID report transfers.
var ErrNoReportChannel = errors.New("portal: control-only transport requires a report channel")

// HID class request values used by control-only portals
const (
	SetReportRequestType = 0x21 // class | interface | host-to-device
	SetReportRequest     = 0x09
	GetReportRequestType = 0xA1 // class | interface | device-to-host
	GetReportRequest     = 0x01

	// GetReportValue selects input report 0x21
	GetReportValue = (1 << 8) | 0x21
)

// Framer defaults
const (
	DefaultReadTimeout         = 100 * time.Millisecond
	DefaultControlWriteRetries = 100
	DefaultWriteTimeout        = time.Second
)

// Channel moves raw 32-byte frames to and from a portal.
// Read returns ErrTimeout (possibly wrapped) when nothing arrived in time.
type Channel interface {
	Write(frame []byte) error
	Read(timeout time.Duration) ([]byte, error)
	Close() error
}

// ReportChannel is a Channel that can also issue HID SET_REPORT and
// GET_REPORT control transfers. Control-only portals need one.
type ReportChannel interface {
	Channel
	SetReport(value uint16, frame []byte) error
	GetReport(value uint16, timeout time.Duration) ([]byte, error)
	// HasInterruptIn reports whether the interrupt IN endpoint could be opened.
	HasInterruptIn() bool
}

// TransportKind selects how canonical frames map onto the wire
type TransportKind int

// Transport kinds
const (
	// InterruptCapable portals (Xbox) use interrupt endpoints both ways and
	// prefix every frame with a 2-byte header.
	InterruptCapable TransportKind = iota
	// ControlOnly portals (PS/PC) take commands as SET_REPORT control
	// transfers and have no header.
	ControlOnly
)

// String returns the transport kind name
func (k TransportKind) String() string {
	switch k {
	case InterruptCapable:
		return "interrupt"
	case ControlOnly:
		return "control"
	default:
		return "unknown"
	}
}

// ParseTransportKind parses a kind name as accepted on the command line
func ParseTransportKind(s string) (TransportKind, error) {
	switch s {
	case "interrupt", "xbox", "a":
		return InterruptCapable, nil
	case "control", "pspc", "ps", "b":
		return ControlOnly, nil
	default:
		return 0, fmt.Errorf("unknown transport kind %q (want interrupt or control)", s)
	}
}

// KindForProduct maps a USB product ID onto its transport kind
func KindForProduct(productID uint16) (TransportKind, error) {
	switch productID {
	case ProductXbox:
		return InterruptCapable, nil
	case ProductPSPC:
		return ControlOnly, nil
	default:
		return 0, fmt.Errorf("unsupported portal product 0x%04X", productID)
	}
}

// ProductName returns the display name for a portal product
func ProductName(productID uint16) string {
	switch productID {
	case ProductXbox:
		return "Skylanders Xbox One"
	case ProductPSPC:
		return "Skylanders PS/PC"
	default:
		return fmt.Sprintf("Portal %04X", productID)
	}
}

// HeaderOffset returns how many leading bytes of an inbound frame precede
// the opcode.
func (k TransportKind) HeaderOffset() int {
	if k == InterruptCapable {
		return HeaderSize
	}
	return 0
}

// Encode lays a canonical command out as it goes on the wire. Interrupt
// portals get the 2-byte header followed by the first 30 command bytes.
func (k TransportKind) Encode(cmd Frame) Frame {
	if k != InterruptCapable {
		return cmd
	}
	var out Frame
	out[0] = HeaderByte0
	out[1] = HeaderByte1
	copy(out[HeaderSize:], cmd[:FrameSize-HeaderSize])
	return out
}

// Decode strips the class header from a raw inbound frame
func (k TransportKind) Decode(raw []byte) Frame {
	return FrameFrom(raw).Shift(k.HeaderOffset())
}

// SetReportValue returns the wValue of the SET_REPORT transfer carrying cmd
func SetReportValue(cmd Frame) uint16 {
	return uint16(2<<8) | uint16(cmd.Opcode())
}

// Framer presents one send/receive interface over both transport kinds.
// It is not safe for concurrent use; the owning session serialises access.
type Framer struct {
	kind         TransportKind
	ch           Channel
	rc           ReportChannel
	readTimeout  time.Duration
	writeRetries int
	stats        *Statistics
	log          zerolog.Logger
}

// FramerOption configures a Framer
type FramerOption func(*Framer)

// WithReadTimeout sets the per-read timeout
func WithReadTimeout(d time.Duration) FramerOption {
	return func(f *Framer) {
		if d > 0 {
			f.readTimeout = d
		}
	}
}

// WithWriteRetries sets the SET_REPORT attempt limit for control-only portals
func WithWriteRetries(n int) FramerOption {
	return func(f *Framer) {
		if n > 0 {
			f.writeRetries = n
		}
	}
}

// WithLogger sets the framer logger
func WithLogger(log zerolog.Logger) FramerOption {
	return func(f *Framer) {
		f.log = log
	}
}

// WithStatistics shares a statistics tracker with the framer
func WithStatistics(s *Statistics) FramerOption {
	return func(f *Framer) {
		if s != nil {
			f.stats = s
		}
	}
}

// NewFramer creates a framer for the given transport kind. A control-only
// framer fails fast unless ch implements ReportChannel.
func NewFramer(kind TransportKind, ch Channel, opts ...FramerOption) (*Framer, error) {
	if ch == nil {
		return nil, errors.New("portal: nil channel")
	}

	f := &Framer{
		kind:         kind,
		ch:           ch,
		readTimeout:  DefaultReadTimeout,
		writeRetries: DefaultControlWriteRetries,
		stats:        NewStatistics(),
		log:          zerolog.Nop(),
	}

	switch kind {
	case InterruptCapable:
	case ControlOnly:
		rc, ok := ch.(ReportChannel)
		if !ok {
			return nil, ErrNoReportChannel
		}
		f.rc = rc
	default:
		return nil, fmt.Errorf("portal: unknown transport kind %d", kind)
	}

	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Kind returns the transport kind
func (f *Framer) Kind() TransportKind {
	return f.kind
}

// Statistics returns the framer's statistics tracker
func (f *Framer) Statistics() *Statistics {
	return f.stats
}

// ReadTimeout returns the per-read timeout
func (f *Framer) ReadTimeout() time.Duration {
	return f.readTimeout
}

// Send writes one command. Failures are logged and returned; callers on the
// poll path ignore them.
func (f *Framer) Send(cmd Frame) error {
	var err error
	switch f.kind {
	case InterruptCapable:
		wire := f.kind.Encode(cmd)
		err = f.ch.Write(wire[:])
	case ControlOnly:
		err = f.sendReport(cmd)
	}

	if err != nil {
		f.stats.RecordWriteError()
		f.log.Warn().Err(err).Str("opcode", FormatOpcode(cmd.Opcode())).Msg("portal write failed")
		return err
	}
	f.stats.RecordCommand(cmd)
	f.log.Trace().Str("frame", cmd.Hex()).Msg("sent")
	return nil
}

// sendReport issues SET_REPORT until the device acknowledges or the attempt
// limit is hit.
func (f *Framer) sendReport(cmd Frame) error {
	value := SetReportValue(cmd)
	var err error
	for attempt := 1; attempt <= f.writeRetries; attempt++ {
		if err = f.rc.SetReport(value, cmd[:]); err == nil {
			if attempt > 1 {
				f.stats.RecordWriteRetries(uint64(attempt - 1))
			}
			return nil
		}
	}
	f.stats.RecordWriteRetries(uint64(f.writeRetries - 1))
	return fmt.Errorf("set report failed after %d attempts: %w", f.writeRetries, err)
}

// Receive reads one frame in canonical layout. Timeouts and I/O errors both
// yield an all-zero frame; only I/O errors are logged above trace level.
func (f *Framer) Receive() Frame {
	var raw []byte
	var err error

	switch {
	case f.kind == InterruptCapable:
		raw, err = f.ch.Read(f.readTimeout)
	case f.rc.HasInterruptIn():
		raw, err = f.rc.Read(f.readTimeout)
	default:
		raw, err = f.rc.GetReport(GetReportValue, f.readTimeout)
	}

	if err != nil {
		if errors.Is(err, ErrTimeout) {
			f.stats.RecordTimeout()
			f.log.Trace().Msg("read timeout")
		} else {
			f.stats.RecordReadError()
			f.log.Warn().Err(err).Msg("portal read failed")
		}
		return Frame{}
	}

	frame := f.kind.Decode(raw)
	if frame.IsZero() {
		f.stats.RecordTimeout()
		return frame
	}
	f.stats.RecordResponse(frame)
	f.log.Trace().Str("frame", frame.Hex()).Msg("received")
	return frame
}

// Close closes the underlying channel
func (f *Framer) Close() error {
	return f.ch.Close()
}
