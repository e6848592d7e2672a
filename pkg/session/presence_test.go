// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/portalstat/pkg/figures"
	"github.com/Thermoquad/portalstat/pkg/portal"
	"github.com/Thermoquad/portalstat/pkg/tagcrypto"
)

func report(codes map[int]portal.SlotStatus) portal.StatusReport {
	return portal.StatusReport{Bits: portal.StatusBits(codes)}
}

func countingIdentify(calls *[]int) IdentifyFunc {
	return func(slot int) figures.FigureInfo {
		*calls = append(*calls, slot)
		return figures.New(slot, 0x10, 0, "test")
	}
}

// ============================================================
// Tracker Tests
// ============================================================

func TestTrackerTransitions(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		reports  []map[int]portal.SlotStatus
		want     []EventKind
		tracked  bool
		debounce int
	}{
		{
			name:    "present then absent once",
			reports: []map[int]portal.SlotStatus{{2: portal.SlotPresent}, {}},
			want:    []EventKind{Placed},
			tracked: true,
		},
		{
			name:    "added edge",
			reports: []map[int]portal.SlotStatus{{2: portal.SlotAdded}, {2: portal.SlotPresent}},
			want:    []EventKind{Placed},
			tracked: true,
		},
		{
			name:    "removal edge",
			reports: []map[int]portal.SlotStatus{{2: portal.SlotPresent}, {2: portal.SlotRemoved}},
			want:    []EventKind{Placed, Removed},
		},
		{
			name:    "removal edge on untracked slot",
			reports: []map[int]portal.SlotStatus{{2: portal.SlotRemoved}},
		},
		{
			name:    "debounce default",
			reports: []map[int]portal.SlotStatus{{2: portal.SlotPresent}, {}, {}, {}},
			want:    []EventKind{Placed, Removed},
		},
		{
			name:     "debounce one",
			reports:  []map[int]portal.SlotStatus{{2: portal.SlotPresent}, {}},
			want:     []EventKind{Placed, Removed},
			debounce: 1,
		},
		{
			name:    "replace after removal",
			reports: []map[int]portal.SlotStatus{{2: portal.SlotPresent}, {2: portal.SlotRemoved}, {2: portal.SlotAdded}},
			want:    []EventKind{Placed, Removed, Placed},
			tracked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(tt.debounce)
			var calls []int
			var got []EventKind
			for _, codes := range tt.reports {
				for _, ev := range tr.Apply(report(codes), countingIdentify(&calls), now) {
					assert.Equal(t, 2, ev.Slot)
					got = append(got, ev.Kind)
				}
			}
			assert.Equal(t, tt.want, got)
			_, ok := tr.Figure(2)
			assert.Equal(t, tt.tracked, ok)
			assert.Equal(t, tt.tracked, tr.Record(2).Present)
		})
	}
}

func TestTrackerIdentifiesOnce(t *testing.T) {
	tr := NewTracker(0)
	var calls []int
	codes := map[int]portal.SlotStatus{0: portal.SlotAdded, 15: portal.SlotPresent}
	for i := 0; i < 10; i++ {
		tr.Apply(report(codes), countingIdentify(&calls), time.Now())
	}
	assert.Equal(t, []int{0, 15}, calls)
	assert.Len(t, tr.Figures(), 2)
}

func TestTrackerRetriesPlaceholder(t *testing.T) {
	tr := NewTracker(0)
	var calls []int
	readable := false
	identify := func(slot int) figures.FigureInfo {
		calls = append(calls, slot)
		if !readable {
			return figures.Placeholder(slot, 0, "test")
		}
		return figures.New(slot, 0x10, 0, "test")
	}
	codes := map[int]portal.SlotStatus{2: portal.SlotPresent}

	events := tr.Apply(report(codes), identify, time.Now())
	require.Len(t, events, 1)
	assert.Equal(t, Placed, events[0].Kind)
	assert.False(t, events[0].Figure.Identified)

	assert.Empty(t, tr.Apply(report(codes), identify, time.Now()), "still unreadable")
	f, _ := tr.Figure(2)
	assert.Equal(t, figures.PlaceholderName, f.Name)

	readable = true
	events = tr.Apply(report(codes), identify, time.Now())
	require.Len(t, events, 1)
	assert.Equal(t, Identified, events[0].Kind)
	assert.Equal(t, "Spyro", events[0].Figure.Name)

	assert.Empty(t, tr.Apply(report(codes), identify, time.Now()))
	assert.Equal(t, []int{2, 2, 2}, calls, "identified figures are not read again")
}

func TestTrackerEventOrder(t *testing.T) {
	tr := NewTracker(1)
	var calls []int
	tr.Apply(report(map[int]portal.SlotStatus{1: portal.SlotPresent, 3: portal.SlotPresent}), countingIdentify(&calls), time.Now())

	// Slot 1 goes silent, slot 3 signals removal, slot 0 arrives
	events := tr.Apply(report(map[int]portal.SlotStatus{0: portal.SlotAdded, 3: portal.SlotRemoved}), countingIdentify(&calls), time.Now())
	require.Len(t, events, 3)
	assert.Equal(t, Event{Kind: Placed, Slot: 0}, Event{Kind: events[0].Kind, Slot: events[0].Slot})
	assert.Equal(t, Event{Kind: Removed, Slot: 3}, Event{Kind: events[1].Kind, Slot: events[1].Slot})
	assert.Equal(t, Event{Kind: Removed, Slot: 1, Debounced: true},
		Event{Kind: events[2].Kind, Slot: events[2].Slot, Debounced: events[2].Debounced})
}

func TestTrackerReplace(t *testing.T) {
	tr := NewTracker(0)
	var calls []int
	tr.Apply(report(map[int]portal.SlotStatus{4: portal.SlotPresent}), countingIdentify(&calls), time.Now())

	d, err := tagcrypto.NewDecrypted(250, 0, 0, false)
	require.NoError(t, err)
	info, _ := tr.Figure(4)
	assert.True(t, tr.Replace(info.WithStats(d)))
	got, _ := tr.Figure(4)
	assert.True(t, got.DecryptionSucceeded())

	assert.False(t, tr.Replace(figures.New(5, 0x10, 0, "test")), "untracked slot")
	assert.False(t, tr.Replace(figures.New(-1, 0x10, 0, "test")))
}

func TestTrackerLowestOccupied(t *testing.T) {
	tr := NewTracker(0)
	_, ok := tr.LowestOccupied()
	assert.False(t, ok)

	var calls []int
	tr.Apply(report(map[int]portal.SlotStatus{9: portal.SlotPresent, 6: portal.SlotPresent}), countingIdentify(&calls), time.Now())
	f, ok := tr.LowestOccupied()
	require.True(t, ok)
	assert.Equal(t, 6, f.Slot)
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "placed", Placed.String())
	assert.Equal(t, "removed", Removed.String())
	assert.Equal(t, "identified", Identified.String())
	assert.Equal(t, "unknown", EventKind(9).String())
}

// ============================================================
// Cache Tests
// ============================================================

func TestStatsCacheFreshness(t *testing.T) {
	clock := newFakeClock()
	c := NewStatsCache(0, clock)
	assert.Equal(t, DefaultCacheExpiry, c.Expiry())

	d, err := tagcrypto.NewDecrypted(1000, 5, 60, true)
	require.NoError(t, err)
	c.Put(1, 0x10, d)

	got, ok := c.Get(1, 0x10)
	require.True(t, ok)
	assert.Equal(t, d, got)

	_, ok = c.Get(1, 0x11)
	assert.False(t, ok, "keyed by figure")
	_, ok = c.Get(2, 0x10)
	assert.False(t, ok, "keyed by slot")

	clock.Advance(29 * time.Second)
	_, ok = c.Get(1, 0x10)
	assert.True(t, ok, "29s")

	clock.Advance(time.Second)
	_, ok = c.Get(1, 0x10)
	assert.False(t, ok, "at expiry")

	clock.Advance(time.Second)
	_, ok = c.Get(1, 0x10)
	assert.False(t, ok, "31s")
	assert.Equal(t, 1, c.Len(), "stale entries are not evicted")

	c.Put(1, 0x10, d)
	_, ok = c.Get(1, 0x10)
	assert.True(t, ok, "overwritten")
	assert.Equal(t, 1, c.Len())
}
