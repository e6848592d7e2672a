// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/Thermoquad/portalstat/pkg/portal"
)

// tapChannel reports every frame that crosses a channel in canonical layout.
// Outbound frames are reported once they were accepted, so SET_REPORT
// retries show up as a single command.
type tapChannel struct {
	portal.ReportChannel
	kind    portal.TransportKind
	onFrame func(f portal.Frame, dir portal.Direction)
}

// newTap wraps a channel. Channels without report transfers are returned
// unwrapped.
func newTap(kind portal.TransportKind, onFrame func(portal.Frame, portal.Direction)) func(portal.Channel) portal.Channel {
	return func(ch portal.Channel) portal.Channel {
		rc, ok := ch.(portal.ReportChannel)
		if !ok {
			return ch
		}
		return &tapChannel{ReportChannel: rc, kind: kind, onFrame: onFrame}
	}
}

func (t *tapChannel) Write(frame []byte) error {
	if err := t.ReportChannel.Write(frame); err != nil {
		return err
	}
	t.onFrame(t.kind.Decode(frame), portal.Outbound)
	return nil
}

func (t *tapChannel) SetReport(value uint16, frame []byte) error {
	if err := t.ReportChannel.SetReport(value, frame); err != nil {
		return err
	}
	t.onFrame(portal.FrameFrom(frame), portal.Outbound)
	return nil
}

func (t *tapChannel) Read(timeout time.Duration) ([]byte, error) {
	raw, err := t.ReportChannel.Read(timeout)
	if err == nil {
		t.onFrame(t.kind.Decode(raw), portal.Inbound)
	}
	return raw, err
}

func (t *tapChannel) GetReport(value uint16, timeout time.Duration) ([]byte, error) {
	raw, err := t.ReportChannel.GetReport(value, timeout)
	if err == nil {
		t.onFrame(t.kind.Decode(raw), portal.Inbound)
	}
	return raw, err
}

// frameReporter prints tapped frames and highlights anomalous responses
type frameReporter struct {
	mu         sync.Mutex
	w          io.Writer
	errorsOnly bool
	showEmpty  bool
	// Consecutive identical status reports are collapsed
	lastStatus portal.Frame
	repeats    int
	anomalies  int
	now        func() time.Time
}

func newFrameReporter(w io.Writer, errorsOnly, showEmpty bool) *frameReporter {
	return &frameReporter{w: w, errorsOnly: errorsOnly, showEmpty: showEmpty, now: time.Now}
}

// Frame handles one tapped frame
func (r *frameReporter) Frame(f portal.Frame, dir portal.Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now()

	if dir == portal.Inbound {
		if errs := portal.ValidateResponse(f); len(errs) > 0 {
			r.anomalies++
			r.printValidationErrors(f, errs, at)
			return
		}
	}
	if r.errorsOnly {
		return
	}
	if f.IsZero() && !r.showEmpty {
		return
	}

	// Interrupt portals stream status continuously
	if dir == portal.Inbound && f.Opcode() == portal.RespStatus {
		if f == r.lastStatus {
			r.repeats++
			return
		}
		r.lastStatus = f
	} else if dir == portal.Outbound && f.Opcode() == portal.OpStatus {
		// Status requests are as repetitive as the reports
		if r.lastStatus != (portal.Frame{}) {
			return
		}
	}

	r.flushRepeats()
	fmt.Fprint(r.w, portal.FormatFrame(f, dir, at))
}

func (r *frameReporter) flushRepeats() {
	if r.repeats > 0 {
		fmt.Fprintf(r.w, "  (status unchanged x%d)\n", r.repeats)
		r.repeats = 0
	}
}

// Anomalies returns the number of anomalous frames seen
func (r *frameReporter) Anomalies() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.anomalies
}

// printValidationErrors prints validation errors for a frame
func (r *frameReporter) printValidationErrors(f portal.Frame, errs []portal.ValidationError, at time.Time) {
	timestamp := at.Format("15:04:05.000")
	bad := color.New(color.FgRed, color.Bold)
	warn := color.New(color.FgYellow, color.Bold)

	fmt.Fprintf(r.w, "[%s] %s %s (0x%02X)\n", timestamp, warn.Sprint("VALIDATION ERROR:"),
		portal.FormatOpcode(f.Opcode()), f.Opcode())

	for i, err := range errs {
		switch err.Type {
		case portal.AnomalyUnknownOpcode:
			fmt.Fprintf(r.w, "  Issue %d: %s\n", i+1, bad.Sprint(err.Message))
			fmt.Fprintf(r.w, "    raw=% X\n", f[:8])

		case portal.AnomalyQueryFailed:
			fmt.Fprintf(r.w, "  Issue %d: %s\n", i+1, warn.Sprint(err.Message))
			if idx, ok := err.Details["figure_index"].(uint8); ok {
				fmt.Fprintf(r.w, "    figure_index=0x%02X block=%d\n", idx, f[2])
			}

		case portal.AnomalyInvalidBlock:
			fmt.Fprintf(r.w, "  Issue %d: %s\n", i+1, bad.Sprint(err.Message))

		default:
			fmt.Fprintf(r.w, "  Issue %d: %s\n", i+1, err.Message)
		}
	}

	fmt.Fprintf(r.w, "  >>> FRAME FLAGGED <<<\n\n")
}
