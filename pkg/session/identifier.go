// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/portalstat/pkg/figures"
	"github.com/Thermoquad/portalstat/pkg/portal"
	"github.com/Thermoquad/portalstat/pkg/tagcrypto"
)

// Query sub-protocol timing
const (
	drainReads          = 3
	drainInterval       = 5 * time.Millisecond
	queryWait           = 200 * time.Millisecond
	queryRetryInterval  = 100 * time.Millisecond
	statsBlockInterval  = 50 * time.Millisecond
	DefaultQueryRetries = 20

	// identityBlock holds the figure ID at offset 0
	identityBlock = 1
)

// ErrQueryFailed is returned when no matching reply arrived for a block query
var ErrQueryFailed = errors.New("no matching reply to block query")

// readResult grades the outcome of a block query
type readResult int

const (
	readNone    readResult = iota // no QUERY reply at all
	readStale                     // only replies for some other figure/block
	readMatched                   // reply matched the request
)

// drain discards buffered reports so a late reply is not taken for the next one
func (s *Session) drain() {
	for i := 0; i < drainReads; i++ {
		s.framer.Receive()
		s.clock.Sleep(drainInterval)
	}
}

// readBlock issues one QUERY and waits for the matching reply. Replies for a
// different figure or block are discarded; the last one seen is returned as
// stale when no match arrives within the retry budget.
func (s *Session) readBlock(figureIndex, blockIndex uint8) (portal.QueryReply, readResult) {
	s.drain()

	if err := s.framer.Send(portal.NewQueryBlock(figureIndex, blockIndex)); err != nil {
		return portal.QueryReply{}, readNone
	}
	s.clock.Sleep(queryWait)

	stats := s.framer.Statistics()
	var last *portal.QueryReply
	for retry := 0; retry < s.opts.QueryRetries; retry++ {
		f := s.framer.Receive()
		resp, err := portal.DecodeResponse(f)
		if err == nil && resp.Kind == portal.ResponseQuery {
			q := resp.Query
			if q.Matches(figureIndex, blockIndex) {
				return q, readMatched
			}
			stats.RecordStaleReply()
			stats.RecordAnomalies(portal.ValidateQueryReply(q, figureIndex, blockIndex))
			s.log.Debug().
				Uint8("want_figure", figureIndex).
				Uint8("want_block", blockIndex).
				Uint8("got_figure", q.FigureIndex).
				Uint8("got_block", q.BlockIndex).
				Msg("discarding stale query reply")
			// Failed reads carry no tag data and are never used as fallback
			if _, ok := q.Slot(); ok {
				last = &q
			}
		}
		s.clock.Sleep(queryRetryInterval)
	}

	stats.RecordQueryMismatch()
	if last != nil {
		return *last, readStale
	}
	return portal.QueryReply{}, readNone
}

// identify reads the identity block of a slot and resolves the figure. It
// never fails; an unreadable tag yields the placeholder.
func (s *Session) identify(slot int) figures.FigureInfo {
	q := portal.QueryIndex(slot)
	reply, res := s.readBlock(q, identityBlock)
	s.drain()

	if res == readNone {
		s.log.Warn().Int("slot", slot).Msg("no reply to identity query, using placeholder")
		return figures.Placeholder(slot, s.opts.ProductID, s.opts.Name)
	}
	if res == readStale {
		// Last-seen reply stands in for the missing one
		s.log.Warn().Int("slot", slot).Uint8("figure_index", reply.FigureIndex).
			Uint8("block", reply.BlockIndex).Msg("identity from unmatched reply")
	}

	fullID := binary.LittleEndian.Uint16(reply.Data[0:2])
	info := figures.New(slot, fullID, s.opts.ProductID, s.opts.Name)
	s.log.Debug().Int("slot", slot).Uint8("figure_id", info.FigureID).
		Uint16("full_id", fullID).Str("name", info.Name).Msg("identified")

	if cached, ok := s.cache.Get(slot, info.FigureID); ok {
		s.log.Debug().Int("slot", slot).Str("name", info.Name).Msg("using cached stats")
		return info.WithStats(cached)
	}

	if !s.opts.DecryptStats {
		return info
	}
	if res != readMatched {
		return info.WithStats(tagcrypto.Fail(fmt.Errorf("identity block: %w", ErrQueryFailed)))
	}
	return info.WithStats(s.readStats(slot, info.FigureID, reply.Data[:]))
}

// readStats reads sector 0 and the stats blocks, decrypts them and caches a
// successful result. Takes on the order of seconds.
func (s *Session) readStats(slot int, figureID uint8, block1 []byte) tagcrypto.Stats {
	q := portal.QueryIndex(slot)
	start := s.clock.Now()

	block0, res := s.readBlock(q, 0)
	if res != readMatched {
		return tagcrypto.Fail(fmt.Errorf("block 0: %w", ErrQueryFailed))
	}
	sector0, err := tagcrypto.Sector0(block0.Data[:], block1)
	if err != nil {
		return tagcrypto.Fail(err)
	}
	if err := tagcrypto.VerifyHeader(sector0); err != nil {
		// Keys derive from the raw bytes, so decryption still proceeds
		s.log.Warn().Int("slot", slot).Err(err).Msg("tag header checksum")
	}

	blocks := make(map[byte][]byte, len(tagcrypto.StatsBlocks))
	for _, b := range tagcrypto.StatsBlocks {
		reply, res := s.readBlock(q, b)
		if res != readMatched {
			s.drain()
			return tagcrypto.Fail(fmt.Errorf("block %d: %w", b, ErrQueryFailed))
		}
		blocks[b] = append([]byte(nil), reply.Data[:]...)
		s.clock.Sleep(statsBlockInterval)
	}
	s.drain()

	stats := tagcrypto.DecryptStats(sector0, blocks)
	if d, ok := stats.(tagcrypto.Decrypted); ok {
		s.cache.Put(slot, figureID, d)
		s.log.Info().Int("slot", slot).Int("level", d.Level).Int("xp", d.Experience).
			Dur("took", s.clock.Now().Sub(start)).Msg("decrypted stats")
	} else {
		s.log.Warn().Int("slot", slot).Str("reason", stats.Message()).Msg("stats unavailable")
	}
	return stats
}
