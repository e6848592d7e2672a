// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/Thermoquad/portalstat/pkg/portal"
)

// DefaultBaudRate is the bridge firmware's default line rate
const DefaultBaudRate = 115200

// serialPort is the part of serial.Port the bridge uses
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// SerialChannel talks to a portal through a USB-serial bridge that relays
// transfers as fixed-size bridge records.
type SerialChannel struct {
	port   serialPort
	name   string
	buf    []byte
	closed bool
}

// OpenSerial opens a serial bridge
func OpenSerial(portName string, baudRate int) (*SerialChannel, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	// Drop anything the bridge sent before we attached
	_ = port.ResetInputBuffer()

	return newSerialChannel(port, portName), nil
}

func newSerialChannel(port serialPort, name string) *SerialChannel {
	return &SerialChannel{port: port, name: name}
}

// Name returns the serial port name
func (c *SerialChannel) Name() string {
	return c.name
}

func (c *SerialChannel) send(rec Record) error {
	if c.closed {
		return ErrClosed
	}
	b := rec.Marshal()
	n, err := c.port.Write(b)
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("serial write: short write %d/%d", n, len(b))
	}
	return nil
}

// Write relays an interrupt OUT transfer
func (c *SerialChannel) Write(frame []byte) error {
	return c.send(Record{Kind: RecordInterruptOut, Report: portal.FrameFrom(frame)})
}

// SetReport relays a SET_REPORT transfer
func (c *SerialChannel) SetReport(value uint16, frame []byte) error {
	return c.send(Record{Kind: RecordSetReport, Value: value, Report: portal.FrameFrom(frame)})
}

// GetReport requests an input report and waits for it
func (c *SerialChannel) GetReport(value uint16, timeout time.Duration) ([]byte, error) {
	if err := c.send(Record{Kind: RecordGetReport, Value: value}); err != nil {
		return nil, err
	}
	return c.Read(timeout)
}

// HasInterruptIn reports true; the bridge forwards input reports unasked,
// polling with GET_REPORT on its side when the portal has no IN endpoint
func (c *SerialChannel) HasInterruptIn() bool {
	return true
}

// Read returns the next input report relayed by the bridge. Bytes that do
// not start a valid record are skipped to resynchronise.
func (c *SerialChannel) Read(timeout time.Duration) ([]byte, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if err := c.port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("serial timeout: %w", err)
	}

	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 2*RecordSize)
	for {
		if rec, ok := c.nextRecord(); ok {
			return rec.Report.Bytes(), nil
		}
		if !time.Now().Before(deadline) {
			return nil, portal.ErrTimeout
		}

		n, err := c.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			// go.bug.st/serial returns 0, nil on timeout
			return nil, portal.ErrTimeout
		}
		c.buf = append(c.buf, chunk[:n]...)
	}
}

// nextRecord pops the next input record from the receive buffer
func (c *SerialChannel) nextRecord() (Record, bool) {
	for len(c.buf) > 0 {
		if c.buf[0] != RecordInput {
			c.buf = c.buf[1:]
			continue
		}
		if len(c.buf) < RecordSize {
			return Record{}, false
		}
		rec, err := ParseRecord(c.buf[:RecordSize])
		c.buf = c.buf[RecordSize:]
		if err == nil {
			return rec, true
		}
	}
	return Record{}, false
}

// Close closes the serial port
func (c *SerialChannel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.port.Close()
}

// SerialPortInfo describes one serial port that could host a bridge
type SerialPortInfo struct {
	Name    string
	IsUSB   bool
	VID     string
	PID     string
	Serial  string
	Product string
}

// ListSerialPorts enumerates serial ports with their USB details
func ListSerialPorts() ([]SerialPortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	out := make([]SerialPortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, SerialPortInfo{
			Name:    p.Name,
			IsUSB:   p.IsUSB,
			VID:     p.VID,
			PID:     p.PID,
			Serial:  p.SerialNumber,
			Product: p.Product,
		})
	}
	return out, nil
}
