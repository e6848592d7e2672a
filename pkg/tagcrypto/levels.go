// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tagcrypto

// Experience bounds
const (
	MinExperience = 0
	MaxExperience = 101000
	MaxLevel      = 10
)

type xpRange struct {
	min, max int
}

// levelThresholds holds the inclusive XP range of each level, level 1 first
var levelThresholds = [MaxLevel]xpRange{
	{0, 199},
	{200, 799},
	{800, 1999},
	{2000, 3999},
	{4000, 6999},
	{7000, 11999},
	{12000, 19999},
	{20000, 32999},
	{33000, 63499},
	{63500, 101000},
}

// LevelForExperience resolves a level (1-10). Values below zero clamp to
// level 1 and values above the cap clamp to level 10.
func LevelForExperience(xp int) int {
	if xp < MinExperience {
		return 1
	}
	for i, r := range levelThresholds {
		if xp >= r.min && xp <= r.max {
			return i + 1
		}
	}
	return MaxLevel
}

// MaxExperienceForLevel returns the upper XP bound of a level, or 0 for a
// level outside 1-10.
func MaxExperienceForLevel(level int) int {
	if level < 1 || level > MaxLevel {
		return 0
	}
	return levelThresholds[level-1].max
}

// MinExperienceForLevel returns the lower XP bound of a level, or 0 for a
// level outside 1-10.
func MinExperienceForLevel(level int) int {
	if level < 1 || level > MaxLevel {
		return 0
	}
	return levelThresholds[level-1].min
}
