// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/portalstat/pkg/events"
	"github.com/Thermoquad/portalstat/pkg/session"
)

var (
	watchAll           bool
	watchLights        bool
	watchFormat        string
	watchNoColor       bool
	watchStatsInterval int
	watchDuration      time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream figure placement and removal events",
	Long: `Poll portals and print an event whenever a figure is placed or removed.

Output formats:
  text  one colored line per event (default)
  json  one JSON object per line
  cbor  CBOR sequence, one map per event

With --all every attached USB portal is polled concurrently, each with its own
session. With --lights the portal glows in the element color of the figure on
the lowest occupied slot.

Statistics summaries are printed at --stats-interval (0 disables them). In json
and cbor mode they go to stderr so the event stream stays clean.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchAll, "all", false, "Watch every attached USB portal")
	watchCmd.Flags().BoolVar(&watchLights, "lights", false, "Light the portal by figure element")
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", events.FormatText,
		"Output format ("+strings.Join(events.Formats(), ", ")+")")
	watchCmd.Flags().BoolVar(&watchNoColor, "no-color", false, "Disable colored text output")
	watchCmd.Flags().IntVar(&watchStatsInterval, "stats-interval", 0, "Statistics update interval (seconds)")
	watchCmd.Flags().DurationVar(&watchDuration, "duration", 0, "Stop after this long (0 = until interrupted)")
}

// watchOptions controls a watch run
type watchOptions struct {
	interval      time.Duration
	lights        bool
	statsInterval time.Duration
	statsOut      io.Writer
}

func runWatch(cmd *cobra.Command, args []string) error {
	enc, err := events.NewEncoder(watchFormat, os.Stdout)
	if err != nil {
		return err
	}
	if te, ok := enc.(*events.TextEncoder); ok && watchNoColor {
		te.SetNoColor(true)
	}

	portals, closeAll, err := openPortals(watchAll, nil)
	if err != nil {
		return err
	}
	defer closeAll()

	statsOut := io.Writer(os.Stdout)
	if watchFormat != events.FormatText {
		statsOut = os.Stderr
	} else {
		fmt.Printf("Portalstat - Watching %d portal(s)\n", len(portals))
		for _, p := range portals {
			fmt.Printf("  %s: %s\n", p.Name(), p.Info)
		}
		fmt.Printf("Press Ctrl+C to exit\n\n")
	}

	ctx := cmd.Context()
	if watchDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, watchDuration)
		defer cancel()
	}

	return watchPortals(ctx, portals, enc, watchOptions{
		interval:      time.Duration(cfg.PollInterval),
		lights:        watchLights || cfg.ElementLighting,
		statsInterval: time.Duration(watchStatsInterval) * time.Second,
		statsOut:      statsOut,
	})
}

// watchPortals polls every portal in its own goroutine and encodes the
// events until ctx is done. The first encoder error stops all pollers.
func watchPortals(ctx context.Context, portals []*openPortal, enc events.Encoder, opts watchOptions) error {
	g, gctx := errgroup.WithContext(ctx)
	startSimulators(gctx, g, portals)

	var lights *atomic.Bool
	if opts.lights {
		lights = &atomic.Bool{}
		lights.Store(true)
	}

	for _, p := range portals {
		var encErr error
		pctx, cancel := context.WithCancel(gctx)
		g.Go(func() error {
			defer cancel()
			err := pollLoop(pctx, p, opts.interval, lights, func(evs []session.Event) {
				if encErr != nil {
					return
				}
				for _, ev := range evs {
					if err := enc.Encode(events.FromEvent(p.Name(), p.ID(), ev)); err != nil {
						encErr = fmt.Errorf("%s: encode event: %w", p.Name(), err)
						cancel()
						return
					}
				}
			})
			if encErr != nil {
				return encErr
			}
			return err
		})
	}

	if opts.statsInterval > 0 && opts.statsOut != nil {
		g.Go(func() error {
			ticker := time.NewTicker(opts.statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
				for _, p := range portals {
					p.Statistics().CalculateRates()
					fmt.Fprintf(opts.statsOut, "\n[%s]\n%s\n", p.Name(), p.Statistics().String())
				}
			}
		})
	}

	return g.Wait()
}
