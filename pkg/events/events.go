// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package events encodes presence events as text, JSON lines or a CBOR
// sequence.
package events

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Thermoquad/portalstat/pkg/figures"
	"github.com/Thermoquad/portalstat/pkg/session"
	"github.com/Thermoquad/portalstat/pkg/tagcrypto"
)

// StatsRecord is the decrypted stats of a figure
type StatsRecord struct {
	Level           int    `json:"level" cbor:"level"`
	Experience      int    `json:"xp" cbor:"xp"`
	MaxExperience   int    `json:"max_xp" cbor:"max_xp"`
	Gold            int    `json:"gold" cbor:"gold"`
	PlaytimeSeconds uint32 `json:"playtime_s,omitempty" cbor:"playtime_s,omitempty"`
}

// Record is the serialised form of one presence event
type Record struct {
	Time       time.Time       `json:"time" cbor:"time"`
	Portal     string          `json:"portal" cbor:"portal"`
	Session    string          `json:"session,omitempty" cbor:"session,omitempty"`
	Event      string          `json:"event" cbor:"event"`
	Slot       int             `json:"slot" cbor:"slot"`
	Name       string          `json:"name" cbor:"name"`
	Element    figures.Element `json:"element" cbor:"element"`
	FigureID   uint8           `json:"figure_id" cbor:"figure_id"`
	FullID     uint16          `json:"full_id" cbor:"full_id"`
	Identified bool            `json:"identified" cbor:"identified"`
	Debounced  bool            `json:"debounced,omitempty" cbor:"debounced,omitempty"`
	Stats      *StatsRecord    `json:"stats,omitempty" cbor:"stats,omitempty"`
	StatsError string          `json:"stats_error,omitempty" cbor:"stats_error,omitempty"`
}

// FromEvent converts a session event
func FromEvent(portalName, sessionID string, ev session.Event) Record {
	f := ev.Figure
	rec := Record{
		Time:       ev.At,
		Portal:     portalName,
		Session:    sessionID,
		Event:      ev.Kind.String(),
		Slot:       ev.Slot,
		Name:       f.Name,
		Element:    f.Element,
		FigureID:   f.FigureID,
		FullID:     f.FullID,
		Identified: f.Identified,
		Debounced:  ev.Debounced,
	}
	switch s := f.Stats.(type) {
	case tagcrypto.Decrypted:
		rec.Stats = &StatsRecord{
			Level:           s.Level,
			Experience:      s.Experience,
			MaxExperience:   s.MaxExperience,
			Gold:            s.Gold,
			PlaytimeSeconds: s.PlaytimeSeconds,
		}
	case tagcrypto.Unavailable:
		rec.StatsError = s.Reason
	}
	return rec
}

// Encoder writes records to a stream
type Encoder interface {
	Encode(rec Record) error
}

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

var formats = map[string]func(io.Writer) (Encoder, error){
	FormatText: func(w io.Writer) (Encoder, error) { return NewTextEncoder(w), nil },
	FormatJSON: func(w io.Writer) (Encoder, error) { return NewJSONEncoder(w), nil },
	FormatCBOR: func(w io.Writer) (Encoder, error) { return NewCBOREncoder(w) },
}

// Formats lists the supported output formats
func Formats() []string {
	out := make([]string, 0, len(formats))
	for k := range formats {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewEncoder returns an encoder for a format name
func NewEncoder(format string, w io.Writer) (Encoder, error) {
	mk, ok := formats[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("unknown format %q (use %s)", format, strings.Join(Formats(), ", "))
	}
	return mk(w)
}
