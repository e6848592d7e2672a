// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session drives one portal: initialisation, status polling, presence
// tracking, figure identification and the stats cache.
//
// All device I/O of a session is serialised. Replies are matched to queries
// by content only, so two in-flight exchanges on the same portal would
// corrupt each other. Separate sessions are independent and may be polled
// from separate goroutines.
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/portalstat/pkg/figures"
	"github.com/Thermoquad/portalstat/pkg/portal"
	"github.com/Thermoquad/portalstat/pkg/tagcrypto"
)

// Initialisation timing
const (
	initDelay          = 100 * time.Millisecond
	warmupInterval     = 50 * time.Millisecond
	DefaultWarmupReads = 5
)

// Status poll timing
const (
	statusSettle     = 15 * time.Millisecond
	pollReads        = 3
	pollReadInterval = 5 * time.Millisecond
)

// ErrClosed is returned by operations on a closed session
var ErrClosed = errors.New("session closed")

// ErrSlotEmpty is returned when an operation needs a figure on an empty slot
var ErrSlotEmpty = errors.New("no figure on slot")

// Options configures a session
type Options struct {
	// Name and ProductID identify the portal in FigureInfo and logs
	Name      string
	ProductID uint16

	DebounceCycles int
	CacheExpiry    time.Duration
	// DecryptStats reads and decrypts stats while identifying new figures.
	// This blocks a poll for seconds per figure.
	DecryptStats bool
	QueryRetries int
	WarmupReads  int

	Clock  Clock
	Logger zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.DebounceCycles <= 0 {
		o.DebounceCycles = DefaultDebounceCycles
	}
	if o.CacheExpiry <= 0 {
		o.CacheExpiry = DefaultCacheExpiry
	}
	if o.QueryRetries <= 0 {
		o.QueryRetries = DefaultQueryRetries
	}
	if o.WarmupReads <= 0 {
		o.WarmupReads = DefaultWarmupReads
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	if o.Name == "" {
		o.Name = portal.ProductName(o.ProductID)
	}
}

// Session owns all mutable state of one portal
type Session struct {
	id     string
	opts   Options
	framer *portal.Framer
	clock  Clock
	log    zerolog.Logger

	// io serialises every exchange with the device
	io      sync.Mutex
	tracker *Tracker
	cache   *StatsCache
	light   *figures.RGB
	closed  bool

	// state guards the published snapshot read by other goroutines
	state    sync.RWMutex
	snapshot map[int]figures.FigureInfo
	records  [portal.SlotCount]PresenceRecord
}

// New creates a session on a framer and runs the portal initialisation
// sequence: reset, activate and, for control-only portals, a warmup that
// drains stale reports before the first status request.
func New(framer *portal.Framer, opts Options) (*Session, error) {
	if framer == nil {
		return nil, errors.New("session: nil framer")
	}
	opts.setDefaults()

	id := uuid.NewString()
	s := &Session{
		id:       id,
		opts:     opts,
		framer:   framer,
		clock:    opts.Clock,
		log:      opts.Logger.With().Str("portal", opts.Name).Str("session", id).Logger(),
		tracker:  NewTracker(opts.DebounceCycles),
		cache:    NewStatsCache(opts.CacheExpiry, opts.Clock),
		snapshot: map[int]figures.FigureInfo{},
	}

	s.initialise()
	return s, nil
}

func (s *Session) initialise() {
	s.io.Lock()
	defer s.io.Unlock()

	s.log.Debug().Str("transport", s.framer.Kind().String()).Msg("initialising portal")
	_ = s.framer.Send(portal.NewReset())
	s.clock.Sleep(initDelay)
	_ = s.framer.Send(portal.NewActivate())
	s.clock.Sleep(initDelay)

	if s.framer.Kind() == portal.ControlOnly {
		for i := 0; i < s.opts.WarmupReads; i++ {
			s.framer.Receive()
			s.clock.Sleep(warmupInterval)
		}
		_ = s.framer.Send(portal.NewStatusRequest())
		s.clock.Sleep(initDelay)
	}
	s.log.Info().Msg("portal ready")
}

// ID returns the session UUID
func (s *Session) ID() string { return s.id }

// Name returns the portal display name
func (s *Session) Name() string { return s.opts.Name }

// ProductID returns the portal USB product ID
func (s *Session) ProductID() uint16 { return s.opts.ProductID }

// Kind returns the portal transport kind
func (s *Session) Kind() portal.TransportKind { return s.framer.Kind() }

// Statistics returns the frame statistics of this portal
func (s *Session) Statistics() *portal.Statistics { return s.framer.Statistics() }

// Logger returns the session logger
func (s *Session) Logger() zerolog.Logger { return s.log }

// Poll runs one status cycle and returns the presence events it produced.
// Control-only portals are asked for status first; interrupt portals stream
// it. The most recent non-empty report of three reads is used, and a cycle
// without a status report counts as silence for every tracked slot.
func (s *Session) Poll() []Event {
	s.io.Lock()
	defer s.io.Unlock()
	if s.closed {
		return nil
	}

	if s.framer.Kind() == portal.ControlOnly {
		if err := s.framer.Send(portal.NewStatusRequest()); err != nil {
			// Skip the cycle; no silence is recorded
			return nil
		}
		s.clock.Sleep(statusSettle)
	}

	var latest portal.Frame
	for i := 0; i < pollReads; i++ {
		if f := s.framer.Receive(); !f.IsZero() {
			latest = f
		}
		s.clock.Sleep(pollReadInterval)
	}

	var report portal.StatusReport
	if !latest.IsZero() {
		s.framer.Statistics().RecordAnomalies(portal.ValidateResponse(latest))
		resp, err := portal.DecodeResponse(latest)
		if err == nil && resp.Kind == portal.ResponseStatus {
			report = resp.Status
		}
	}

	events := s.tracker.Apply(report, s.identify, s.clock.Now())
	for _, ev := range events {
		s.logEvent(ev)
	}
	s.publish()
	return events
}

func (s *Session) logEvent(ev Event) {
	switch ev.Kind {
	case Placed:
		s.log.Info().Int("slot", ev.Slot).Str("name", ev.Figure.Name).
			Str("element", ev.Figure.Element.String()).Msg("figure placed")
	case Identified:
		s.log.Info().Int("slot", ev.Slot).Str("name", ev.Figure.Name).
			Str("element", ev.Figure.Element.String()).Msg("figure identified")
	case Removed:
		s.log.Info().Int("slot", ev.Slot).Str("name", ev.Figure.Name).
			Bool("debounced", ev.Debounced).Msg("figure removed")
	}
}

// publish copies tracker state into the snapshot read by Figures
func (s *Session) publish() {
	figs := s.tracker.Figures()
	recs := s.tracker.Records()
	s.state.Lock()
	s.snapshot = figs
	s.records = recs
	s.state.Unlock()
}

// Figures returns a copy of the slot to figure map as of the last poll
func (s *Session) Figures() map[int]figures.FigureInfo {
	s.state.RLock()
	defer s.state.RUnlock()
	out := make(map[int]figures.FigureInfo, len(s.snapshot))
	for k, v := range s.snapshot {
		out[k] = v
	}
	return out
}

// Figure returns the figure on a slot as of the last poll
func (s *Session) Figure(slot int) (figures.FigureInfo, bool) {
	s.state.RLock()
	defer s.state.RUnlock()
	f, ok := s.snapshot[slot]
	return f, ok
}

// Records returns every slot's presence record as of the last poll
func (s *Session) Records() [portal.SlotCount]PresenceRecord {
	s.state.RLock()
	defer s.state.RUnlock()
	return s.records
}

// Decrypt reads and decrypts the stats of the figure on a tracked slot, using
// the cache when fresh. A placeholder is identified again first. The figure
// is replaced with one carrying the result, failures included.
// Only a missing figure or a closed session is an error; decrypt failures
// are reported through the returned figure's Stats.
func (s *Session) Decrypt(slot int) (figures.FigureInfo, error) {
	if err := portal.ValidateSlot(slot); err != nil {
		return figures.FigureInfo{}, err
	}

	s.io.Lock()
	defer s.io.Unlock()
	if s.closed {
		return figures.FigureInfo{}, ErrClosed
	}

	info, ok := s.tracker.Figure(slot)
	if !ok {
		return figures.FigureInfo{}, fmt.Errorf("slot %d: %w", slot, ErrSlotEmpty)
	}
	if info.Identified {
		if cached, ok := s.cache.Get(slot, info.FigureID); ok {
			info = info.WithStats(cached)
			s.tracker.Replace(info)
			s.publish()
			return info, nil
		}
	}

	q := portal.QueryIndex(slot)
	reply, res := s.readBlock(q, identityBlock)
	switch {
	case res != readMatched:
		s.drain()
		info = info.WithStats(tagcrypto.Fail(fmt.Errorf("identity block: %w", ErrQueryFailed)))
	case !info.Identified:
		// Placeholder from an earlier glitch; the tag answers now
		info = figures.New(slot, binary.LittleEndian.Uint16(reply.Data[0:2]), s.opts.ProductID, s.opts.Name)
		s.log.Info().Int("slot", slot).Str("name", info.Name).Msg("figure identified on retry")
		if cached, ok := s.cache.Get(slot, info.FigureID); ok {
			info = info.WithStats(cached)
		} else {
			info = info.WithStats(s.readStats(slot, info.FigureID, reply.Data[:]))
		}
	case reply.Data[0] != info.FigureID:
		s.drain()
		info = info.WithStats(tagcrypto.Fail(fmt.Errorf("figure on slot %d changed", slot)))
	default:
		info = info.WithStats(s.readStats(slot, info.FigureID, reply.Data[:]))
	}

	s.tracker.Replace(info)
	s.publish()
	return info, nil
}

// ReadBlock reads one raw 16-byte block from the tag on a slot. The slot need
// not be tracked.
func (s *Session) ReadBlock(slot int, block uint8) ([]byte, error) {
	if err := portal.ValidateSlot(slot); err != nil {
		return nil, err
	}
	if block > portal.MaxBlockIndex {
		return nil, fmt.Errorf("block %d out of range (max %d)", block, portal.MaxBlockIndex)
	}

	s.io.Lock()
	defer s.io.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	reply, res := s.readBlock(portal.QueryIndex(slot), block)
	s.drain()
	if res != readMatched {
		return nil, fmt.Errorf("slot %d block %d: %w", slot, block, ErrQueryFailed)
	}
	return append([]byte(nil), reply.Data[:]...), nil
}

// DumpBlocks reads the given blocks in order. Blocks that could not be read
// are left out of the result and reported in the joined error.
func (s *Session) DumpBlocks(slot int, blocks []uint8) (map[uint8][]byte, error) {
	out := make(map[uint8][]byte, len(blocks))
	var errs []error
	for _, b := range blocks {
		data, err := s.ReadBlock(slot, b)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return out, err
			}
			errs = append(errs, err)
			continue
		}
		out[b] = data
	}
	return out, errors.Join(errs...)
}

// send writes one command under the I/O lock
func (s *Session) send(cmd portal.Frame) error {
	s.io.Lock()
	defer s.io.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.framer.Send(cmd)
}

// SetColor sets the whole portal to one color
func (s *Session) SetColor(c figures.RGB) error {
	return s.send(portal.NewSetColor(c.R, c.G, c.B))
}

// FadeColor fades the whole portal to a color over fade
func (s *Session) FadeColor(c figures.RGB, fade time.Duration) error {
	return s.send(portal.NewFadeColor(c.R, c.G, c.B, fadeMillis(fade)))
}

// SetPositionColor sets one light zone
func (s *Session) SetPositionColor(pos portal.Position, c figures.RGB) error {
	return s.send(portal.NewPositionColor(pos, c.R, c.G, c.B))
}

// FadePositionColor fades one light zone to a color over fade
func (s *Session) FadePositionColor(pos portal.Position, c figures.RGB, fade time.Duration) error {
	return s.send(portal.NewPositionFade(pos, c.R, c.G, c.B, fadeMillis(fade)))
}

// ActivateSpeaker enables the portal speaker
func (s *Session) ActivateSpeaker() error {
	return s.send(portal.NewSpeakerActivate())
}

// FlashTrapLight flashes the trap light on Trap Team portals
func (s *Session) FlashTrapLight() error {
	return s.send(portal.NewTrapFlash())
}

func fadeMillis(d time.Duration) uint16 {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > 0xFFFF {
		return 0xFFFF
	}
	return uint16(ms)
}

// LightingColor returns the element color of the lowest occupied slot, or
// the dim empty-portal color.
func (s *Session) LightingColor() figures.RGB {
	s.state.RLock()
	defer s.state.RUnlock()
	for slot := 0; slot < portal.SlotCount; slot++ {
		if f, ok := s.snapshot[slot]; ok {
			return f.Color()
		}
	}
	return figures.EmptyPortalColor
}

// ApplyElementLighting sets the portal to LightingColor. The command is only
// sent when the color changed since the last call.
func (s *Session) ApplyElementLighting() (figures.RGB, error) {
	c := s.LightingColor()

	s.io.Lock()
	defer s.io.Unlock()
	if s.closed {
		return c, ErrClosed
	}
	if s.light != nil && *s.light == c {
		return c, nil
	}
	if err := s.framer.Send(portal.NewSetColor(c.R, c.G, c.B)); err != nil {
		return c, err
	}
	s.light = &c
	return c, nil
}

// CacheLen returns the number of cached stats entries
func (s *Session) CacheLen() int {
	s.io.Lock()
	defer s.io.Unlock()
	return s.cache.Len()
}

// Close closes the underlying channel. Further operations return ErrClosed.
func (s *Session) Close() error {
	s.io.Lock()
	defer s.io.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Debug().Msg("closing portal")
	return s.framer.Close()
}
