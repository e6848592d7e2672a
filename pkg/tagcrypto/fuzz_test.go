// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tagcrypto

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 200
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 200
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func TestFuzzParseStats(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		plain := make([]byte, rng.Intn(100))
		rng.Read(plain)

		s := ParseStats(plain)
		if len(plain) < BlockSize {
			if s.Succeeded() {
				t.Fatalf("round %d: %d bytes parsed as success", i, len(plain))
			}
			continue
		}

		// A 16-bit experience field always fits the level table
		d, ok := s.(Decrypted)
		if !ok {
			t.Fatalf("round %d: %#v", i, s)
		}
		if d.Level < 1 || d.Level > MaxLevel || d.Experience > d.MaxExperience {
			t.Fatalf("round %d: inconsistent stats %+v", i, d)
		}
	}
}

func TestFuzzStatsRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		s0 := make([]byte, Sector0Size)
		rng.Read(s0)
		xp := rng.Intn(0x10000)
		gold := rng.Intn(0x10000)
		playtime := rng.Uint32()

		blocks, err := EncodeStats(s0, xp, gold, playtime)
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		d, ok := DecryptStats(s0, blocks).(Decrypted)
		if !ok {
			t.Fatalf("round %d: decrypt failed", i)
		}
		if d.Experience != xp || d.Gold != gold || d.PlaytimeSeconds != playtime {
			t.Fatalf("round %d: got %+v, want xp=%d gold=%d playtime=%d", i, d, xp, gold, playtime)
		}
	}
}
