// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package figures holds the static character table and the identity snapshot
// reported for each figure on a portal.
package figures

import (
	"fmt"
	"strings"
)

// Element is a figure's elemental class
type Element int

// Elements
const (
	Magic Element = iota
	Water
	Fire
	Life
	Earth
	Air
	Undead
	Tech
	Unknown
)

var elementNames = [...]string{
	Magic:   "Magic",
	Water:   "Water",
	Fire:    "Fire",
	Life:    "Life",
	Earth:   "Earth",
	Air:     "Air",
	Undead:  "Undead",
	Tech:    "Tech",
	Unknown: "Unknown",
}

// Elements lists every element in declaration order
var Elements = []Element{Magic, Water, Fire, Life, Earth, Air, Undead, Tech, Unknown}

// String returns the element name
func (e Element) String() string {
	if e < 0 || int(e) >= len(elementNames) {
		return "Unknown"
	}
	return elementNames[e]
}

// ParseElement parses an element name, case-insensitively
func ParseElement(s string) (Element, error) {
	for _, e := range Elements {
		if strings.EqualFold(e.String(), s) {
			return e, nil
		}
	}
	return Unknown, fmt.Errorf("unknown element %q", s)
}

// MarshalText encodes the element by name
func (e Element) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText decodes an element name
func (e *Element) UnmarshalText(b []byte) error {
	v, err := ParseElement(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// RGB is a portal light color
type RGB struct {
	R, G, B uint8
}

// String returns the color as #RRGGBB
func (c RGB) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// ParseRGB parses "#RRGGBB", "RRGGBB" or "r,g,b"
func ParseRGB(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		var r, g, b uint8
		if _, err := fmt.Sscanf(s, "%d,%d,%d", &r, &g, &b); err != nil {
			return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
		}
		return RGB{r, g, b}, nil
	}
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q (want #RRGGBB or r,g,b)", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB{r, g, b}, nil
}

// EmptyPortalColor is the dim white shown when no figure is present
var EmptyPortalColor = RGB{20, 20, 20}

var elementColors = map[Element]RGB{
	Magic:   {0, 255, 255},
	Water:   {0, 100, 255},
	Fire:    {255, 50, 0},
	Life:    {0, 255, 0},
	Earth:   {200, 120, 0},
	Air:     {255, 255, 100},
	Undead:  {150, 0, 255},
	Tech:    {255, 150, 0},
	Unknown: {255, 255, 255},
}

// Color returns the portal light color for an element
func Color(e Element) RGB {
	if c, ok := elementColors[e]; ok {
		return c
	}
	return elementColors[Unknown]
}
