// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/Thermoquad/portalstat/pkg/figures"
)

var elementAttrs = map[figures.Element]color.Attribute{
	figures.Magic:   color.FgMagenta,
	figures.Water:   color.FgBlue,
	figures.Fire:    color.FgRed,
	figures.Life:    color.FgGreen,
	figures.Earth:   color.FgYellow,
	figures.Air:     color.FgCyan,
	figures.Undead:  color.FgHiBlack,
	figures.Tech:    color.FgHiYellow,
	figures.Unknown: color.FgWhite,
}

// ElementColor returns the terminal color for an element
func ElementColor(e figures.Element) *color.Color {
	attr, ok := elementAttrs[e]
	if !ok {
		attr = color.FgWhite
	}
	return color.New(attr, color.Bold)
}

// TextEncoder writes one human-readable line per record
type TextEncoder struct {
	mu      sync.Mutex
	w       io.Writer
	noColor bool
}

// NewTextEncoder creates a text encoder. Colors follow the fatih/color
// terminal detection.
func NewTextEncoder(w io.Writer) *TextEncoder {
	return &TextEncoder{w: w, noColor: color.NoColor}
}

// SetNoColor forces plain output
func (e *TextEncoder) SetNoColor(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.noColor = v
}

func (e *TextEncoder) paint(c *color.Color, s string) string {
	if e.noColor {
		return s
	}
	c.EnableColor()
	return c.Sprint(s)
}

// Encode writes one record
func (e *TextEncoder) Encode(rec Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] ", rec.Time.Format("15:04:05.000"), rec.Portal)

	switch rec.Event {
	case "placed":
		b.WriteString(e.paint(color.New(color.FgGreen), "+"))
	case "removed":
		b.WriteString(e.paint(color.New(color.FgRed), "-"))
	case "identified":
		b.WriteString(e.paint(color.New(color.FgCyan), "="))
	default:
		b.WriteString("?")
	}

	fmt.Fprintf(&b, " slot %2d  %s (%s)", rec.Slot,
		e.paint(ElementColor(rec.Element), rec.Name), rec.Element)

	if rec.Event != "removed" {
		switch {
		case rec.Stats != nil:
			fmt.Fprintf(&b, "  Level %d  %d/%d XP  %d gold", rec.Stats.Level,
				rec.Stats.Experience, rec.Stats.MaxExperience, rec.Stats.Gold)
		case rec.StatsError != "":
			b.WriteString(e.paint(color.New(color.FgYellow), "  stats unavailable: "+rec.StatsError))
		}
		if !rec.Identified {
			b.WriteString(e.paint(color.New(color.FgYellow), "  [unreadable]"))
		}
	}
	if rec.Debounced {
		b.WriteString("  [debounced]")
	}
	b.WriteByte('\n')

	_, err := io.WriteString(e.w, b.String())
	return err
}
