// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/portalstat/pkg/figures"
	"github.com/Thermoquad/portalstat/pkg/session"
	"github.com/Thermoquad/portalstat/pkg/tagcrypto"
)

var at = time.Date(2025, 6, 1, 12, 30, 5, 250_000_000, time.UTC)

func placedSpyro(t *testing.T) session.Event {
	t.Helper()
	d, err := tagcrypto.NewDecrypted(12345, 900, 5400, true)
	require.NoError(t, err)
	info := figures.New(0, 0x0010, 0x0150, "Skylanders PS/PC #1").WithStats(d)
	return session.Event{Kind: session.Placed, Slot: 0, Figure: info, At: at}
}

func TestFromEvent(t *testing.T) {
	rec := FromEvent("Skylanders PS/PC #1", "abc", placedSpyro(t))
	assert.Equal(t, "placed", rec.Event)
	assert.Equal(t, "Spyro", rec.Name)
	assert.Equal(t, figures.Magic, rec.Element)
	assert.Equal(t, uint8(0x10), rec.FigureID)
	assert.True(t, rec.Identified)
	require.NotNil(t, rec.Stats)
	assert.Equal(t, StatsRecord{Level: 7, Experience: 12345, MaxExperience: 19999, Gold: 900, PlaytimeSeconds: 5400}, *rec.Stats)
	assert.Empty(t, rec.StatsError)

	failed := session.Event{
		Kind:   session.Placed,
		Slot:   2,
		Figure: figures.New(2, 0x20, 0, "p").WithStats(tagcrypto.Fail(errors.New("block 9: timeout"))),
	}
	rec = FromEvent("p", "", failed)
	assert.Nil(t, rec.Stats)
	assert.Equal(t, "block 9: timeout", rec.StatsError)

	removed := session.Event{Kind: session.Removed, Slot: 4, Debounced: true, Figure: figures.Placeholder(4, 0, "p")}
	rec = FromEvent("p", "", removed)
	assert.Equal(t, "removed", rec.Event)
	assert.False(t, rec.Identified)
	assert.True(t, rec.Debounced)
}

func TestNewEncoder(t *testing.T) {
	assert.Equal(t, []string{"cbor", "json", "text"}, Formats())
	for _, f := range []string{"text", "JSON", "cbor"} {
		enc, err := NewEncoder(f, &bytes.Buffer{})
		require.NoError(t, err, f)
		assert.NotNil(t, enc)
	}
	_, err := NewEncoder("xml", &bytes.Buffer{})
	assert.ErrorContains(t, err, "cbor, json, text")
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	enc := NewJSONEncoder(&buf)
	require.NoError(t, enc.Encode(FromEvent("P1", "s1", placedSpyro(t))))
	require.NoError(t, enc.Encode(FromEvent("P1", "s1", session.Event{Kind: session.Removed, Slot: 0, Figure: figures.New(0, 0x10, 0, "P1"), At: at})))

	scanner := bufio.NewScanner(&buf)
	var lines []map[string]interface{}
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "placed", lines[0]["event"])
	assert.Equal(t, "Magic", lines[0]["element"])
	assert.Equal(t, "2025-06-01T12:30:05.25Z", lines[0]["time"])
	stats := lines[0]["stats"].(map[string]interface{})
	assert.Equal(t, float64(7), stats["level"])
	assert.NotContains(t, lines[1], "stats")
	assert.NotContains(t, lines[1], "debounced")
}

func TestCBORSequence(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewCBOREncoder(&buf)
	require.NoError(t, err)

	want := []Record{
		FromEvent("P1", "s1", placedSpyro(t)),
		FromEvent("P1", "s1", session.Event{Kind: session.Removed, Slot: 0, Debounced: true, Figure: figures.New(0, 0x10, 0, "P1"), At: at}),
	}
	for _, r := range want {
		require.NoError(t, enc.Encode(r))
	}

	got, err := DecodeCBOR(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range want {
		assert.True(t, want[i].Time.Equal(got[i].Time))
		got[i].Time = want[i].Time
		assert.Equal(t, want[i], got[i])
	}
}

func TestTextEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewTextEncoder(&buf)
	enc.SetNoColor(true)

	require.NoError(t, enc.Encode(FromEvent("P1", "", placedSpyro(t))))
	require.NoError(t, enc.Encode(FromEvent("P1", "", session.Event{
		Kind: session.Placed, Slot: 11, Figure: figures.Placeholder(11, 0, "P1"), At: at,
	})))
	require.NoError(t, enc.Encode(FromEvent("P1", "", session.Event{
		Kind: session.Removed, Slot: 3, Debounced: true, Figure: figures.New(3, 0x20, 0, "P1"), At: at,
	})))
	require.NoError(t, enc.Encode(FromEvent("P1", "", session.Event{
		Kind: session.Identified, Slot: 11, Figure: figures.New(11, 0x10, 0, "P1"), At: at,
	})))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "12:30:05.250 [P1] + slot  0  Spyro (Magic)  Level 7  12345/19999 XP  900 gold", lines[0])
	assert.Equal(t, "12:30:05.250 [P1] + slot 11  Skylander (Unknown)  [unreadable]", lines[1])
	assert.Equal(t, "12:30:05.250 [P1] - slot  3  Cynder (Undead)  [debounced]", lines[2])
	assert.Equal(t, "12:30:05.250 [P1] = slot 11  Spyro (Magic)", lines[3])
}

func TestTextEncoderColor(t *testing.T) {
	var buf bytes.Buffer
	enc := NewTextEncoder(&buf)
	enc.SetNoColor(false)
	require.NoError(t, enc.Encode(FromEvent("P1", "", placedSpyro(t))))
	assert.Contains(t, buf.String(), "\x1b[")
	assert.NotNil(t, ElementColor(figures.Element(99)))
}
