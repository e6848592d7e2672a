// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/portalstat/pkg/device"
	"github.com/Thermoquad/portalstat/pkg/portal"
)

var (
	dumpSlot   int
	dumpBlocks string
	dumpOutput string
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump raw tag blocks from a figure",
	Long: `Read raw 16-byte blocks from the tag on a slot and print them as hex.

Blocks are selected with --blocks as a comma separated list of indexes and
ranges, e.g. "0-3,8-14". The default reads the whole tag (0-63).

With --output the blocks are also written as a 1024-byte tag image; blocks
that could not be read are left zeroed.`,
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().IntVar(&dumpSlot, "slot", -1, "Slot to read (default: lowest occupied)")
	dumpCmd.Flags().StringVar(&dumpBlocks, "blocks", "0-63", "Blocks to read")
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "Write a tag image to this file")
}

// parseBlockList parses "0-3,8,10-12" into block indexes in order
func parseBlockList(s string) ([]uint8, error) {
	var out []uint8
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid block %q", part)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("invalid block range %q", part)
			}
		}
		if first < 0 || last > portal.MaxBlockIndex || first > last {
			return nil, fmt.Errorf("block range %q outside 0-%d", part, portal.MaxBlockIndex)
		}
		for b := first; b <= last; b++ {
			out = append(out, uint8(b))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no blocks selected")
	}
	return out, nil
}

func runDump(cmd *cobra.Command, args []string) error {
	blocks, err := parseBlockList(dumpBlocks)
	if err != nil {
		return err
	}

	p, closeAll, err := openOnePortal()
	if err != nil {
		return err
	}
	defer closeAll()

	slot := dumpSlot
	if slot < 0 {
		// A few polls let the portal report what is present
		for i := 0; i < cfg.DebounceCycles+1; i++ {
			p.Poll()
			time.Sleep(time.Duration(cfg.PollInterval))
		}
		lowest := -1
		for s := range p.Figures() {
			if lowest < 0 || s < lowest {
				lowest = s
			}
		}
		if lowest < 0 {
			return fmt.Errorf("no figure on the portal (use --slot to read anyway)")
		}
		slot = lowest
	} else if err := portal.ValidateSlot(slot); err != nil {
		return err
	}

	fmt.Printf("Portalstat - Tag Dump\n")
	fmt.Printf("Connection: %s\n", p.Info)
	fmt.Printf("Slot: %d, %d block(s)\n\n", slot, len(blocks))

	data, readErr := p.DumpBlocks(slot, blocks)
	for _, b := range blocks {
		if d, ok := data[b]; ok {
			fmt.Println(portal.FormatBlock(int(b), d))
		} else {
			fmt.Printf("%02d: (unreadable)\n", b)
		}
	}
	if readErr != nil {
		fmt.Fprintf(os.Stderr, "\n%v\n", readErr)
	}

	if dumpOutput != "" {
		image := make([]byte, device.TagSize)
		for b, d := range data {
			copy(image[int(b)*portal.BlockSize:], d)
		}
		if err := os.WriteFile(dumpOutput, image, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", dumpOutput, err)
		}
		fmt.Printf("\nWrote %d bytes to %s\n", len(image), dumpOutput)
	}
	return nil
}
