// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package figures

import (
	"testing"

	"github.com/Thermoquad/portalstat/pkg/tagcrypto"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		id          uint8
		wantName    string
		wantElement Element
	}{
		{0x00, "Whirlwind", Air},
		{0x10, "Spyro", Magic},
		{0x17, "Wrecking Ball", Magic},
		{0x1C, "Dark Spyro", Magic},
		{0x20, "Cynder", Undead},
		{0x64, "Jet-Vac", Air},
		{0x73, "Fright Rider", Undead},
		{0xFF, "Unknown (ID:0xFF)", Unknown},
		{0x21, "Unknown (ID:0x21)", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			c := Lookup(tt.id)
			if c.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", c.Name, tt.wantName)
			}
			if c.Element != tt.wantElement {
				t.Errorf("Element = %s, want %s", c.Element, tt.wantElement)
			}
		})
	}
}

func TestCharacterTableSize(t *testing.T) {
	ids := IDs()
	if len(ids) != 49 {
		t.Errorf("table has %d entries, want 49", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("IDs not ascending at %d", i)
		}
	}
	for _, id := range ids {
		if !Known(id) || Lookup(id).Element == Unknown {
			t.Errorf("id 0x%02X: known entry with Unknown element", id)
		}
	}
}

func TestElementColors(t *testing.T) {
	tests := []struct {
		e    Element
		want RGB
	}{
		{Magic, RGB{0, 255, 255}},
		{Water, RGB{0, 100, 255}},
		{Fire, RGB{255, 50, 0}},
		{Life, RGB{0, 255, 0}},
		{Earth, RGB{200, 120, 0}},
		{Air, RGB{255, 255, 100}},
		{Undead, RGB{150, 0, 255}},
		{Tech, RGB{255, 150, 0}},
		{Unknown, RGB{255, 255, 255}},
		{Element(42), RGB{255, 255, 255}},
	}

	for _, tt := range tests {
		if got := Color(tt.e); got != tt.want {
			t.Errorf("Color(%s) = %v, want %v", tt.e, got, tt.want)
		}
	}
}

func TestParseElement(t *testing.T) {
	for _, e := range Elements {
		got, err := ParseElement(e.String())
		if err != nil || got != e {
			t.Errorf("ParseElement(%q) = %v, %v", e, got, err)
		}
	}
	if got, err := ParseElement("uNdEaD"); err != nil || got != Undead {
		t.Errorf("case-insensitive parse failed: %v, %v", got, err)
	}
	if _, err := ParseElement("Light"); err == nil {
		t.Error("expected error for unknown element")
	}

	var e Element
	if err := e.UnmarshalText([]byte("Tech")); err != nil || e != Tech {
		t.Errorf("UnmarshalText = %v, %v", e, err)
	}
}

func TestParseRGB(t *testing.T) {
	tests := []struct {
		in      string
		want    RGB
		wantErr bool
	}{
		{"#FF3200", RGB{255, 50, 0}, false},
		{"00ff00", RGB{0, 255, 0}, false},
		{"20,20,20", RGB{20, 20, 20}, false},
		{"#FFF", RGB{}, true},
		{"red", RGB{}, true},
		{"1,2", RGB{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRGB(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseRGB(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if s := (RGB{255, 50, 0}).String(); s != "#FF3200" {
		t.Errorf("String() = %q", s)
	}
}

func TestFigureInfo(t *testing.T) {
	t.Run("identified without stats", func(t *testing.T) {
		f := New(0, 0x0010, 0x0150, "Skylanders PS/PC #1")
		if f.Name != "Spyro" || f.Element != Magic || !f.Identified {
			t.Errorf("got %+v", f)
		}
		if f.LevelDisplay() != "Level Unknown" || f.ExperienceDisplay() != "" || f.ExperienceProgress() != 0 {
			t.Errorf("display helpers without stats: %q %q %f", f.LevelDisplay(), f.ExperienceDisplay(), f.ExperienceProgress())
		}
		if f.DecryptionSucceeded() {
			t.Error("DecryptionSucceeded without stats")
		}
		if f.String() != "Spyro (Magic)" {
			t.Errorf("String() = %q", f.String())
		}
	})

	t.Run("16-bit id looks up low byte", func(t *testing.T) {
		f := New(3, 0x0310, 0x1F17, "Skylanders Xbox One #1")
		if f.Name != "Spyro" || f.FullID != 0x0310 || f.FigureID != 0x10 {
			t.Errorf("got %+v", f)
		}
	})

	t.Run("with stats", func(t *testing.T) {
		d, err := tagcrypto.NewDecrypted(500, 12, 60, true)
		if err != nil {
			t.Fatal(err)
		}
		f := New(1, 0x0E, 0, "").WithStats(d)
		if f.LevelDisplay() != "Level 2" {
			t.Errorf("LevelDisplay = %q", f.LevelDisplay())
		}
		if f.ExperienceDisplay() != "500/799 XP" {
			t.Errorf("ExperienceDisplay = %q", f.ExperienceDisplay())
		}
		if !f.DecryptionSucceeded() {
			t.Error("DecryptionSucceeded = false")
		}
	})

	t.Run("failed stats keep identity", func(t *testing.T) {
		f := New(1, 0x0E, 0, "").WithStats(tagcrypto.Fail(tagcrypto.ErrCorrupted))
		if f.Name != "Gill Grunt" || f.DecryptionSucceeded() || f.LevelDisplay() != "Level Unknown" {
			t.Errorf("got %+v", f)
		}
	})

	t.Run("placeholder", func(t *testing.T) {
		f := Placeholder(2, 0x0150, "P")
		if f.Name != "Skylander" || f.Element != Unknown || f.Identified {
			t.Errorf("got %+v", f)
		}
		if f.Color() != (RGB{255, 255, 255}) {
			t.Errorf("Color = %v", f.Color())
		}
	})
}
