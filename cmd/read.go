// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/portalstat/pkg/events"
	"github.com/Thermoquad/portalstat/pkg/figures"
)

var (
	readWait  time.Duration
	readStats bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Identify the figures currently on a portal",
	Long: `Poll the portal for a short while and print every figure found.

With --stats each figure's level, experience, gold and playtime are read and
decrypted from the tag. This takes a few seconds per figure.`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().DurationVar(&readWait, "wait", 2*time.Second, "How long to poll before reporting")
	readCmd.Flags().BoolVarP(&readStats, "stats", "s", false, "Read and decrypt figure stats")
}

func runRead(cmd *cobra.Command, args []string) error {
	p, closeAll, err := openOnePortal()
	if err != nil {
		return err
	}
	defer closeAll()

	fmt.Printf("Portalstat - Read\n")
	fmt.Printf("Connection: %s\n\n", p.Info)

	deadline := time.Now().Add(readWait)
	for time.Now().Before(deadline) {
		select {
		case <-cmd.Context().Done():
			return nil
		default:
		}
		p.Poll()
		time.Sleep(time.Duration(cfg.PollInterval))
	}

	found := p.Figures()
	slots := make([]int, 0, len(found))
	for slot := range found {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	for _, slot := range slots {
		f := found[slot]
		if readStats && f.Identified && !f.DecryptionSucceeded() {
			if f, err = p.Decrypt(slot); err != nil {
				fmt.Fprintf(os.Stderr, "Slot %d: %v\n", slot, err)
				continue
			}
		}
		printFigure(os.Stdout, f)
	}

	fmt.Printf("\nFigures found: %d\n", len(found))
	return nil
}

// printFigure writes a figure summary in element color
func printFigure(w io.Writer, f figures.FigureInfo) {
	name := events.ElementColor(f.Element).Sprint(f.Name)
	fmt.Fprintf(w, "Slot %2d: %s (%s)\n", f.Slot, name, f.Element)
	if !f.Identified {
		fmt.Fprintf(w, "  %s\n", color.YellowString("Tag could not be read"))
		return
	}
	fmt.Fprintf(w, "  ID: 0x%02X (0x%04X)\n", f.FigureID, f.FullID)

	switch {
	case f.DecryptionSucceeded():
		d, _ := f.Decrypted()
		fmt.Fprintf(w, "  %s  %s  %s\n", f.LevelDisplay(), f.ExperienceDisplay(), progressBar(f.ExperienceProgress(), progressWidth))
		fmt.Fprintf(w, "  Gold: %d\n", d.Gold)
		if pt := d.Playtime(); pt != "" {
			fmt.Fprintf(w, "  Playtime: %s\n", pt)
		}
	case f.Stats != nil:
		fmt.Fprintf(w, "  %s\n", color.YellowString("Stats unavailable: %s", f.Stats.Message()))
	}
}
