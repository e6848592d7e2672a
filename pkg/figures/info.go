// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package figures

import (
	"fmt"

	"github.com/Thermoquad/portalstat/pkg/tagcrypto"
)

// PlaceholderName is reported when a figure is present but its tag could not
// be read.
const PlaceholderName = "Skylander"

// FigureInfo is the identity snapshot of one detected figure. It is replaced,
// never mutated, when a slot is re-identified.
type FigureInfo struct {
	Slot     int
	Name     string
	Element  Element
	FigureID uint8
	// FullID is the 16-bit little-endian value at the same offset. Lookups use
	// only the low byte.
	FullID           uint16
	SourcePortalID   uint16
	SourcePortalName string
	// Identified is false for the placeholder produced when no tag data
	// could be read.
	Identified bool
	Stats      tagcrypto.Stats
}

// New builds the snapshot for a figure ID read from a tag
func New(slot int, fullID uint16, portalID uint16, portalName string) FigureInfo {
	id := uint8(fullID)
	c := Lookup(id)
	return FigureInfo{
		Slot:             slot,
		Name:             c.Name,
		Element:          c.Element,
		FigureID:         id,
		FullID:           fullID,
		SourcePortalID:   portalID,
		SourcePortalName: portalName,
		Identified:       true,
	}
}

// Placeholder builds the generic entry used when identification failed
func Placeholder(slot int, portalID uint16, portalName string) FigureInfo {
	return FigureInfo{
		Slot:             slot,
		Name:             PlaceholderName,
		Element:          Unknown,
		SourcePortalID:   portalID,
		SourcePortalName: portalName,
	}
}

// WithStats returns a copy carrying the given stats outcome
func (f FigureInfo) WithStats(s tagcrypto.Stats) FigureInfo {
	f.Stats = s
	return f
}

// Decrypted returns the decrypted stats, if any
func (f FigureInfo) Decrypted() (tagcrypto.Decrypted, bool) {
	d, ok := f.Stats.(tagcrypto.Decrypted)
	return d, ok
}

// DecryptionSucceeded reports whether stats were recovered
func (f FigureInfo) DecryptionSucceeded() bool {
	return f.Stats != nil && f.Stats.Succeeded()
}

// Color returns the light color for the figure's element
func (f FigureInfo) Color() RGB {
	return Color(f.Element)
}

// LevelDisplay returns "Level N", or "Level Unknown" without stats
func (f FigureInfo) LevelDisplay() string {
	if d, ok := f.Decrypted(); ok {
		return fmt.Sprintf("Level %d", d.Level)
	}
	return "Level Unknown"
}

// ExperienceDisplay returns "xp/max XP", or "" without stats
func (f FigureInfo) ExperienceDisplay() string {
	if d, ok := f.Decrypted(); ok {
		return fmt.Sprintf("%d/%d XP", d.Experience, d.MaxExperience)
	}
	return ""
}

// ExperienceProgress returns progress through the current level, 0 to 1
func (f FigureInfo) ExperienceProgress() float64 {
	if d, ok := f.Decrypted(); ok {
		return d.Progress()
	}
	return 0
}

// String returns "Name (Element)"
func (f FigureInfo) String() string {
	return fmt.Sprintf("%s (%s)", f.Name, f.Element)
}
