// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tagcrypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrCorrupted is returned when decrypted experience falls outside 0-101000
var ErrCorrupted = errors.New("invalid experience value (corrupted data)")

// ErrInsufficientData is returned when fewer than 16 plaintext bytes are available
var ErrInsufficientData = errors.New("insufficient decrypted data")

// Plaintext field offsets within the concatenated stats blocks
const (
	experienceOffset = 0x00
	goldOffset       = 0x03
	playtimeOffset   = 0x05
)

// Stats is the outcome of reading a figure's statistics: either Unavailable
// or Decrypted, never partially filled.
type Stats interface {
	Succeeded() bool
	Message() string
	isStats()
}

// Unavailable carries the reason stats could not be recovered
type Unavailable struct {
	Reason string
	Err    error
}

// Fail wraps err as an Unavailable outcome
func Fail(err error) Unavailable {
	return Unavailable{Reason: err.Error(), Err: err}
}

// Succeeded always reports false
func (Unavailable) Succeeded() bool { return false }

// Message returns the failure reason
func (u Unavailable) Message() string { return u.Reason }

// Error implements the error interface
func (u Unavailable) Error() string { return u.Reason }

// Unwrap exposes the underlying error for errors.Is
func (u Unavailable) Unwrap() error { return u.Err }

func (Unavailable) isStats() {}

// Decrypted holds fully parsed character statistics
type Decrypted struct {
	Level           int
	Experience      int
	MaxExperience   int
	Gold            int
	PlaytimeSeconds uint32
	HasPlaytime     bool
	Skills          []string
}

// NewDecrypted validates experience and resolves the level fields
func NewDecrypted(xp, gold int, playtime uint32, hasPlaytime bool) (Decrypted, error) {
	if xp < MinExperience || xp > MaxExperience {
		return Decrypted{}, fmt.Errorf("%w: %d", ErrCorrupted, xp)
	}
	level := LevelForExperience(xp)
	return Decrypted{
		Level:           level,
		Experience:      xp,
		MaxExperience:   MaxExperienceForLevel(level),
		Gold:            gold,
		PlaytimeSeconds: playtime,
		HasPlaytime:     hasPlaytime,
		Skills:          []string{},
	}, nil
}

// Succeeded always reports true
func (Decrypted) Succeeded() bool { return true }

// Message is empty for decrypted stats
func (Decrypted) Message() string { return "" }

func (Decrypted) isStats() {}

// Progress returns experience as a fraction of the level cap, 0 to 1
func (d Decrypted) Progress() float64 {
	if d.MaxExperience <= 0 {
		return 0
	}
	p := float64(d.Experience) / float64(d.MaxExperience)
	if p > 1 {
		return 1
	}
	return p
}

// Playtime formats playtime as "Xh Ym", or "" when absent
func (d Decrypted) Playtime() string {
	if !d.HasPlaytime {
		return ""
	}
	return fmt.Sprintf("%dh %dm", d.PlaytimeSeconds/3600, (d.PlaytimeSeconds%3600)/60)
}

// ParseStats parses concatenated plaintext stats blocks
func ParseStats(plain []byte) Stats {
	if len(plain) < BlockSize {
		return Fail(fmt.Errorf("%w: %d bytes", ErrInsufficientData, len(plain)))
	}

	xp := int(binary.LittleEndian.Uint16(plain[experienceOffset:]))
	gold := int(binary.LittleEndian.Uint16(plain[goldOffset:]))
	playtime := binary.LittleEndian.Uint32(plain[playtimeOffset:])

	d, err := NewDecrypted(xp, gold, playtime, true)
	if err != nil {
		return Fail(err)
	}
	return d
}

// DecryptStats decrypts the supplied blocks in ascending order, skipping
// sector trailers, and parses the result. It never returns an error; every
// failure is reported as Unavailable.
func DecryptStats(sector0 []byte, blocks map[byte][]byte) Stats {
	if len(sector0) != Sector0Size {
		return Fail(fmt.Errorf("%w (got %d)", ErrInvalidKeyMaterial, len(sector0)))
	}

	indices := make([]int, 0, len(blocks))
	for b := range blocks {
		indices = append(indices, int(b))
	}
	sort.Ints(indices)

	plain := make([]byte, 0, len(indices)*BlockSize)
	for _, i := range indices {
		b := byte(i)
		if IsSectorTrailer(b) {
			continue
		}
		out, err := DecryptTagBlock(sector0, b, blocks[b])
		if err != nil {
			return Fail(fmt.Errorf("block %d: %w", b, err))
		}
		plain = append(plain, out...)
	}
	return ParseStats(plain)
}

// EncodeStats builds the encrypted stats blocks for the given values. The
// inverse of DecryptStats; used to author tag images.
func EncodeStats(sector0 []byte, xp, gold int, playtime uint32) (map[byte][]byte, error) {
	if xp < MinExperience || xp > 0xFFFF {
		return nil, fmt.Errorf("%w: %d does not fit the tag field", ErrCorrupted, xp)
	}

	plain := make([]byte, len(StatsBlocks)*BlockSize)
	binary.LittleEndian.PutUint16(plain[experienceOffset:], uint16(xp))
	binary.LittleEndian.PutUint16(plain[goldOffset:], uint16(gold))
	binary.LittleEndian.PutUint32(plain[playtimeOffset:], playtime)

	blocks := make(map[byte][]byte, len(StatsBlocks))
	for i, b := range StatsBlocks {
		enc, err := EncryptTagBlock(sector0, b, plain[i*BlockSize:(i+1)*BlockSize])
		if err != nil {
			return nil, err
		}
		blocks[b] = enc
	}
	return blocks, nil
}
