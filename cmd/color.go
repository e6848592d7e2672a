// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/portalstat/pkg/figures"
	"github.com/Thermoquad/portalstat/pkg/portal"
)

var (
	colorFade     time.Duration
	colorPosition string
	colorTrap     bool
	colorSpeaker  bool
)

var colorCmd = &cobra.Command{
	Use:   "color [COLOR]",
	Short: "Set the portal lights",
	Long: `Set the portal light color.

COLOR is "#RRGGBB", "r,g,b", an element name (magic, water, fire, life,
earth, air, undead, tech) or "off".

  --fade       fade to the color instead of switching (up to 65.535s)
  --position   only change one light zone (left, center, right)
  --trap       flash the trap light (Trap Team portals)
  --speaker    activate the portal speaker`,
	Args: cobra.MaximumNArgs(1),
	RunE: runColor,
}

func init() {
	rootCmd.AddCommand(colorCmd)
	colorCmd.Flags().DurationVar(&colorFade, "fade", 0, "Fade duration")
	colorCmd.Flags().StringVar(&colorPosition, "position", "", "Light zone (left, center, right)")
	colorCmd.Flags().BoolVar(&colorTrap, "trap", false, "Flash the trap light")
	colorCmd.Flags().BoolVar(&colorSpeaker, "speaker", false, "Activate the speaker")
}

// parseColorArg accepts an RGB value, an element name or "off"
func parseColorArg(s string) (figures.RGB, error) {
	if s == "off" {
		return figures.RGB{}, nil
	}
	if e, err := figures.ParseElement(s); err == nil {
		return figures.Color(e), nil
	}
	return figures.ParseRGB(s)
}

func runColor(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !colorTrap && !colorSpeaker {
		return fmt.Errorf("nothing to do: give a color, --trap or --speaker")
	}

	var c figures.RGB
	var pos portal.Position
	var err error
	if len(args) == 1 {
		if c, err = parseColorArg(args[0]); err != nil {
			return err
		}
	}
	if colorPosition != "" {
		if pos, err = portal.ParsePosition(colorPosition); err != nil {
			return err
		}
	}

	p, closeAll, err := openOnePortal()
	if err != nil {
		return err
	}
	defer closeAll()

	if len(args) == 1 {
		switch {
		case colorPosition != "" && colorFade > 0:
			err = p.FadePositionColor(pos, c, colorFade)
		case colorPosition != "":
			err = p.SetPositionColor(pos, c)
		case colorFade > 0:
			err = p.FadeColor(c, colorFade)
		default:
			err = p.SetColor(c)
		}
		if err != nil {
			return fmt.Errorf("failed to set color: %w", err)
		}
		where := "portal"
		if colorPosition != "" {
			where = pos.String() + " zone"
		}
		fmt.Printf("%s: %s set to %s\n", p.Name(), where, c)
	}

	if colorTrap {
		if err := p.FlashTrapLight(); err != nil {
			return fmt.Errorf("failed to flash trap light: %w", err)
		}
		fmt.Printf("%s: trap light flashed\n", p.Name())
	}
	if colorSpeaker {
		if err := p.ActivateSpeaker(); err != nil {
			return fmt.Errorf("failed to activate speaker: %w", err)
		}
		fmt.Printf("%s: speaker activated\n", p.Name())
	}
	return nil
}
