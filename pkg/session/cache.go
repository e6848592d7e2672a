// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"time"

	"github.com/Thermoquad/portalstat/pkg/tagcrypto"
)

// DefaultCacheExpiry is how long decrypted stats stay fresh
const DefaultCacheExpiry = 30 * time.Second

type cacheKey struct {
	slot     int
	figureID uint8
}

// CacheEntry is one cached decrypt result
type CacheEntry struct {
	ReadAt time.Time
	Stats  tagcrypto.Decrypted
}

// StatsCache remembers decrypted stats per (slot, figure ID) so an unchanged
// figure is not decrypted on every poll. Entries are overwritten, never
// evicted; an entry at or past its expiry is treated as absent.
//
// A cache belongs to one session and is not safe for concurrent use.
type StatsCache struct {
	expiry  time.Duration
	clock   Clock
	entries map[cacheKey]CacheEntry
}

// NewStatsCache creates a cache with the given expiry
func NewStatsCache(expiry time.Duration, clock Clock) *StatsCache {
	if expiry <= 0 {
		expiry = DefaultCacheExpiry
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &StatsCache{
		expiry:  expiry,
		clock:   clock,
		entries: make(map[cacheKey]CacheEntry),
	}
}

// Get returns fresh stats for the figure on a slot
func (c *StatsCache) Get(slot int, figureID uint8) (tagcrypto.Decrypted, bool) {
	e, ok := c.entries[cacheKey{slot, figureID}]
	if !ok {
		return tagcrypto.Decrypted{}, false
	}
	if c.clock.Now().Sub(e.ReadAt) >= c.expiry {
		return tagcrypto.Decrypted{}, false
	}
	return e.Stats, true
}

// Put stores stats read now
func (c *StatsCache) Put(slot int, figureID uint8, stats tagcrypto.Decrypted) {
	c.entries[cacheKey{slot, figureID}] = CacheEntry{
		ReadAt: c.clock.Now(),
		Stats:  stats,
	}
}

// Len returns the number of entries, fresh or not
func (c *StatsCache) Len() int {
	return len(c.entries)
}

// Expiry returns the freshness window
func (c *StatsCache) Expiry() time.Duration {
	return c.expiry
}
