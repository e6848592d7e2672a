// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/portalstat/pkg/session"
)

var (
	rawErrorsOnly    bool
	rawShowEmpty     bool
	rawStatsInterval int
)

var rawLogCmd = &cobra.Command{
	Use:     "raw_log",
	Aliases: []string{"error_detection"},
	Short:   "Display raw frame log in human-readable format",
	Long: `Drive a portal session and display every 32-byte frame as it crosses the
wire, with timestamp, opcode and decoded payload.

Inbound frames are validated as they arrive and anomalies are highlighted:
  - Unknown response opcodes
  - Failed block reads (figure index outside 0x10-0x1F)
  - Block indexes beyond the end of the tag

Repeated identical status reports are collapsed. Use --errors-only to show
only anomalies, and --stats-interval for periodic statistics summaries.

Supports USB, serial, WebSocket and simulated portals.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawErrorsOnly, "errors-only", false, "Only show anomalous frames")
	rawLogCmd.Flags().BoolVar(&rawShowEmpty, "show-empty", false, "Show empty (all-zero) frames")
	rawLogCmd.Flags().IntVar(&rawStatsInterval, "stats-interval", 10, "Statistics update interval (seconds, 0 disables)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	targets, cleanup, err := openTargets(false)
	if err != nil {
		return err
	}
	t := targets[0]

	reporter := newFrameReporter(os.Stdout, rawErrorsOnly, rawShowEmpty)
	p, err := startSession(t, newTap(t.kind, reporter.Frame))
	if err != nil {
		cleanup()
		return err
	}
	defer closePortals([]*openPortal{p}, cleanup)

	fmt.Printf("Portalstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", p.Info)
	if rawErrorsOnly {
		fmt.Printf("Mode: Errors only\n")
	} else {
		fmt.Printf("Mode: All frames\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	g, ctx := errgroup.WithContext(cmd.Context())
	startSimulators(ctx, g, []*openPortal{p})

	g.Go(func() error {
		return pollLoop(ctx, p, time.Duration(cfg.PollInterval), nil, func(evs []session.Event) {
			for _, ev := range evs {
				fmt.Printf("[EVENT] %s slot %d %s\n\n", ev.Kind, ev.Slot, ev.Figure)
			}
		})
	})

	if rawStatsInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(time.Duration(rawStatsInterval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
				stats := p.Statistics()
				stats.CalculateRates()
				fmt.Println()
				fmt.Print(stats.String())
				fmt.Println()
			}
		})
	}

	err = g.Wait()
	fmt.Printf("\nAnomalous frames: %d\n", reporter.Anomalies())
	return err
}
