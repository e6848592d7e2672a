// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package figures

import "fmt"

// Character is one entry of the static character table
type Character struct {
	Name    string
	Element Element
}

// characters maps the figure ID byte (tag block 1, offset 0) to a character.
// Read-only after package initialisation.
var characters = map[uint8]Character{
	// Spyro's Adventure
	0x00: {"Whirlwind", Air},
	0x01: {"Sonic Boom", Air},
	0x02: {"Warnado", Air},
	0x03: {"Lightning Rod", Air},
	0x04: {"Bash", Earth},
	0x05: {"Terrafin", Earth},
	0x06: {"Dino-Rang", Earth},
	0x07: {"Prism Break", Earth},
	0x08: {"Sunburn", Fire},
	0x09: {"Eruptor", Fire},
	0x0A: {"Ignitor", Fire},
	0x0B: {"Flameslinger", Fire},
	0x0C: {"Zap", Water},
	0x0D: {"Wham-Shell", Water},
	0x0E: {"Gill Grunt", Water},
	0x0F: {"Slam Bam", Water},
	0x10: {"Spyro", Magic},
	0x11: {"Voodood", Magic},
	0x12: {"Double Trouble", Magic},
	0x13: {"Trigger Happy", Tech},
	0x14: {"Drobot", Tech},
	0x15: {"Drill Sergeant", Tech},
	0x16: {"Boomer", Tech},
	0x17: {"Wrecking Ball", Magic},
	0x18: {"Camo", Life},
	0x19: {"Zook", Life},
	0x1A: {"Stealth Elf", Life},
	0x1B: {"Stump Smash", Life},
	0x1C: {"Dark Spyro", Magic},
	0x1D: {"Hex", Undead},
	0x1E: {"Chop Chop", Undead},
	0x1F: {"Ghost Roaster", Undead},
	0x20: {"Cynder", Undead},

	// Giants
	0x64: {"Jet-Vac", Air},
	0x65: {"Swarm", Air},
	0x66: {"Crusher", Earth},
	0x67: {"Flashwing", Earth},
	0x68: {"Hot Head", Fire},
	0x69: {"Hot Dog", Fire},
	0x6A: {"Chill", Water},
	0x6B: {"Thumpback", Water},
	0x6C: {"Pop Fizz", Magic},
	0x6D: {"Ninjini", Magic},
	0x6E: {"Bouncer", Tech},
	0x6F: {"Sprocket", Tech},
	0x70: {"Tree Rex", Life},
	0x71: {"Shroomboom", Life},
	0x72: {"Eye-Brawl", Undead},
	0x73: {"Fright Rider", Undead},
}

// Lookup resolves a figure ID. Unknown IDs yield a synthetic
// "Unknown (ID:0xXX)" entry with the Unknown element.
func Lookup(id uint8) Character {
	if c, ok := characters[id]; ok {
		return c
	}
	return Character{Name: fmt.Sprintf("Unknown (ID:0x%02X)", id), Element: Unknown}
}

// Known reports whether the ID is in the character table
func Known(id uint8) bool {
	_, ok := characters[id]
	return ok
}

// IDs returns every known figure ID in ascending order
func IDs() []uint8 {
	ids := make([]uint8, 0, len(characters))
	for id := 0; id <= 0xFF; id++ {
		if _, ok := characters[uint8(id)]; ok {
			ids = append(ids, uint8(id))
		}
	}
	return ids
}
