// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/gousb"

	"github.com/Thermoquad/portalstat/pkg/portal"
)

// USB interface and endpoint numbers used by every portal
const (
	usbConfig        = 1
	usbInterface     = 0
	usbInEndpoint    = 1 // 0x81
	usbOutEndpoint   = 2 // 0x02
	usbReportPadding = 64
)

// PortalInfo describes one attached USB portal
type PortalInfo struct {
	Bus       int
	Address   int
	ProductID uint16
	Kind      portal.TransportKind
	Name      string
}

// String returns a one-line description
func (p PortalInfo) String() string {
	return fmt.Sprintf("%s (bus %03d addr %03d, %04x:%04x, %s)",
		p.Name, p.Bus, p.Address, portal.VendorID, p.ProductID, p.Kind)
}

// isPortal reports whether a USB descriptor belongs to a supported portal
func isPortal(vendor, product uint16) bool {
	if vendor != portal.VendorID {
		return false
	}
	_, err := portal.KindForProduct(product)
	return err == nil
}

// namePortals sorts portals by bus and address and numbers them per product
// ("Skylanders PS/PC #1", "Skylanders PS/PC #2", ...).
func namePortals(list []PortalInfo) []PortalInfo {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Bus != list[j].Bus {
			return list[i].Bus < list[j].Bus
		}
		return list[i].Address < list[j].Address
	})
	seen := map[uint16]int{}
	for i := range list {
		seen[list[i].ProductID]++
		list[i].Name = fmt.Sprintf("%s #%d", portal.ProductName(list[i].ProductID), seen[list[i].ProductID])
	}
	return list
}

// USB owns a libusb context for enumerating and opening portals
type USB struct {
	ctx *gousb.Context
}

// NewUSB creates a libusb context
func NewUSB() *USB {
	return &USB{ctx: gousb.NewContext()}
}

// List enumerates attached portals without opening them
func (u *USB) List() ([]PortalInfo, error) {
	var found []PortalInfo
	_, err := u.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		vendor, product := uint16(desc.Vendor), uint16(desc.Product)
		if !isPortal(vendor, product) {
			return false
		}
		kind, _ := portal.KindForProduct(product)
		found = append(found, PortalInfo{
			Bus:       desc.Bus,
			Address:   desc.Address,
			ProductID: product,
			Kind:      kind,
		})
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	return namePortals(found), nil
}

// Open claims the portal at the given bus address
func (u *USB) Open(info PortalInfo) (*USBChannel, error) {
	devs, err := u.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == info.Bus && desc.Address == info.Address
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		return nil, fmt.Errorf("failed to open %s: %w", info.Name, err)
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("portal %s not found", info.Name)
	}
	dev := devs[0]
	for _, d := range devs[1:] {
		d.Close()
	}

	ch, err := claim(dev, info)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return ch, nil
}

// OpenAll opens every attached portal. Portals that fail to open are
// skipped and reported in the joined error.
func (u *USB) OpenAll() ([]*USBChannel, error) {
	list, err := u.List()
	if err != nil {
		return nil, err
	}
	var chans []*USBChannel
	var errs []error
	for _, info := range list {
		ch, err := u.Open(info)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		chans = append(chans, ch)
	}
	return chans, errors.Join(errs...)
}

// Close releases the libusb context
func (u *USB) Close() error {
	return u.ctx.Close()
}

// ListPortals enumerates attached portals with a temporary context
func ListPortals() ([]PortalInfo, error) {
	u := NewUSB()
	defer u.Close()
	return u.List()
}

// USBChannel is a claimed portal. Interrupt endpoints are used when present;
// HID report transfers go over the control endpoint.
type USBChannel struct {
	info PortalInfo
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint

	writeTimeout time.Duration
	closed       bool
}

func claim(dev *gousb.Device, info PortalInfo) (*USBChannel, error) {
	// The HID driver holds the interface on Linux
	if err := dev.SetAutoDetach(true); err != nil {
		return nil, fmt.Errorf("failed to enable auto-detach: %w", err)
	}

	cfg, err := dev.Config(usbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get config %d: %w", usbConfig, err)
	}
	intf, err := cfg.Interface(usbInterface, 0)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("failed to claim interface %d: %w", usbInterface, err)
	}

	ch := &USBChannel{
		info:         info,
		dev:          dev,
		cfg:          cfg,
		intf:         intf,
		writeTimeout: portal.DefaultWriteTimeout,
	}

	// Control-only portals may lack a usable IN endpoint; reads then fall
	// back to GET_REPORT.
	if in, err := intf.InEndpoint(usbInEndpoint); err == nil {
		ch.in = in
	}
	if out, err := intf.OutEndpoint(usbOutEndpoint); err == nil {
		ch.out = out
	} else if info.Kind == portal.InterruptCapable {
		ch.release()
		return nil, fmt.Errorf("failed to open OUT endpoint: %w", err)
	}
	if ch.in == nil && info.Kind == portal.InterruptCapable {
		ch.release()
		return nil, errors.New("interrupt portal has no IN endpoint")
	}
	return ch, nil
}

// Info returns the portal description
func (c *USBChannel) Info() PortalInfo {
	return c.info
}

// isTimeout reports libusb timeout and cancellation results
func isTimeout(err error) bool {
	return errors.Is(err, gousb.ErrorTimeout) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Write sends on the interrupt OUT endpoint, or as SET_REPORT when the
// portal has none.
func (c *USBChannel) Write(frame []byte) error {
	if c.closed {
		return ErrClosed
	}
	if c.out == nil {
		return c.SetReport(portal.SetReportValue(portal.FrameFrom(frame)), frame)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	n, err := c.out.WriteContext(ctx, frame)
	if err != nil {
		return fmt.Errorf("interrupt write: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("interrupt write: short write %d/%d", n, len(frame))
	}
	return nil
}

// Read reads one input report from the interrupt IN endpoint
func (c *USBChannel) Read(timeout time.Duration) ([]byte, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.in == nil {
		return c.GetReport(portal.GetReportValue, timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	buf := make([]byte, usbReportPadding)
	n, err := c.in.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, portal.ErrTimeout
		}
		return nil, fmt.Errorf("interrupt read: %w", err)
	}
	return buf[:n], nil
}

// SetReport issues a HID SET_REPORT on the control endpoint
func (c *USBChannel) SetReport(value uint16, frame []byte) error {
	if c.closed {
		return ErrClosed
	}
	buf := make([]byte, portal.FrameSize)
	copy(buf, frame)

	c.dev.ControlTimeout = c.writeTimeout
	_, err := c.dev.Control(portal.SetReportRequestType, portal.SetReportRequest, value, usbInterface, buf)
	if err != nil {
		return fmt.Errorf("set report: %w", err)
	}
	return nil
}

// GetReport issues a HID GET_REPORT on the control endpoint
func (c *USBChannel) GetReport(value uint16, timeout time.Duration) ([]byte, error) {
	if c.closed {
		return nil, ErrClosed
	}
	buf := make([]byte, portal.FrameSize)

	c.dev.ControlTimeout = timeout
	n, err := c.dev.Control(portal.GetReportRequestType, portal.GetReportRequest, value, usbInterface, buf)
	if err != nil {
		if isTimeout(err) {
			return nil, portal.ErrTimeout
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return buf[:n], nil
}

// HasInterruptIn reports whether the IN endpoint was opened
func (c *USBChannel) HasInterruptIn() bool {
	return c.in != nil
}

func (c *USBChannel) release() {
	c.intf.Close()
	c.cfg.Close()
}

// Close releases the interface and the device
func (c *USBChannel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.release()
	return c.dev.Close()
}
