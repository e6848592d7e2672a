// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"time"

	"github.com/Thermoquad/portalstat/pkg/figures"
	"github.com/Thermoquad/portalstat/pkg/portal"
)

// DefaultDebounceCycles is how many consecutive silent polls remove a figure
const DefaultDebounceCycles = 3

// EventKind identifies a presence transition
type EventKind int

const (
	Placed EventKind = iota
	Removed
	// Identified follows a placement that produced the placeholder, once
	// the tag reads cleanly
	Identified
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case Placed:
		return "placed"
	case Removed:
		return "removed"
	case Identified:
		return "identified"
	default:
		return "unknown"
	}
}

// Event is one presence transition produced by a poll cycle
type Event struct {
	Kind   EventKind
	Slot   int
	Figure figures.FigureInfo
	// Debounced is set on removals caused by missed polls rather than an
	// explicit removal edge.
	Debounced bool
	At        time.Time
}

// PresenceRecord is the tracking state of one slot
type PresenceRecord struct {
	Present       bool
	MissingCycles uint32
}

// IdentifyFunc identifies the figure on a slot. It never fails; unreadable
// tags come back as a placeholder.
type IdentifyFunc func(slot int) figures.FigureInfo

// Tracker is the per-slot presence state machine. It owns the slot records
// and the slot to figure map of one portal.
type Tracker struct {
	debounce uint32
	records  [portal.SlotCount]PresenceRecord
	figures  map[int]figures.FigureInfo
}

// NewTracker creates a tracker that drops silent slots after debounce polls
func NewTracker(debounce int) *Tracker {
	if debounce <= 0 {
		debounce = DefaultDebounceCycles
	}
	return &Tracker{
		debounce: uint32(debounce),
		figures:  make(map[int]figures.FigureInfo),
	}
}

// Apply runs one poll cycle against a status report. New slots are
// identified through identify, and so are tracked slots still holding the
// placeholder. Explicit removal edges drop a slot at once; tracked slots
// missing from the report are dropped after the debounce count.
// Events are returned in slot order, placements and edge removals first.
func (t *Tracker) Apply(report portal.StatusReport, identify IdentifyFunc, now time.Time) []Event {
	var events []Event
	signalled := [portal.SlotCount]bool{}

	for slot := 0; slot < portal.SlotCount; slot++ {
		rec := &t.records[slot]
		switch st := report.Slot(slot); {
		case st.IsPresent():
			signalled[slot] = true
			rec.MissingCycles = 0
			if rec.Present {
				if prev := t.figures[slot]; !prev.Identified {
					if info := identify(slot); info.Identified {
						t.figures[slot] = info
						events = append(events, Event{Kind: Identified, Slot: slot, Figure: info, At: now})
					}
				}
				continue
			}
			info := identify(slot)
			rec.Present = true
			t.figures[slot] = info
			events = append(events, Event{Kind: Placed, Slot: slot, Figure: info, At: now})

		case st == portal.SlotRemoved:
			if !rec.Present {
				continue
			}
			// Counted as signalled so the debounce pass leaves it alone
			signalled[slot] = true
			events = append(events, t.drop(slot, false, now))
		}
	}

	for slot := 0; slot < portal.SlotCount; slot++ {
		rec := &t.records[slot]
		if !rec.Present || signalled[slot] {
			continue
		}
		rec.MissingCycles++
		if rec.MissingCycles >= t.debounce {
			events = append(events, t.drop(slot, true, now))
		}
	}

	return events
}

// drop removes a slot and returns its removal event
func (t *Tracker) drop(slot int, debounced bool, now time.Time) Event {
	info := t.figures[slot]
	delete(t.figures, slot)
	t.records[slot] = PresenceRecord{}
	return Event{Kind: Removed, Slot: slot, Figure: info, Debounced: debounced, At: now}
}

// Replace swaps the figure on a tracked slot, as after an on-demand decrypt.
// Untracked slots are ignored.
func (t *Tracker) Replace(info figures.FigureInfo) bool {
	if info.Slot < 0 || info.Slot >= portal.SlotCount || !t.records[info.Slot].Present {
		return false
	}
	t.figures[info.Slot] = info
	return true
}

// Figures returns a copy of the slot to figure map
func (t *Tracker) Figures() map[int]figures.FigureInfo {
	out := make(map[int]figures.FigureInfo, len(t.figures))
	for k, v := range t.figures {
		out[k] = v
	}
	return out
}

// Figure returns the figure on a slot
func (t *Tracker) Figure(slot int) (figures.FigureInfo, bool) {
	f, ok := t.figures[slot]
	return f, ok
}

// Record returns the tracking state of a slot
func (t *Tracker) Record(slot int) PresenceRecord {
	if slot < 0 || slot >= portal.SlotCount {
		return PresenceRecord{}
	}
	return t.records[slot]
}

// Records returns every slot's tracking state
func (t *Tracker) Records() [portal.SlotCount]PresenceRecord {
	return t.records
}

// LowestOccupied returns the figure on the lowest tracked slot
func (t *Tracker) LowestOccupied() (figures.FigureInfo, bool) {
	for slot := 0; slot < portal.SlotCount; slot++ {
		if f, ok := t.figures[slot]; ok {
			return f, true
		}
	}
	return figures.FigureInfo{}, false
}
