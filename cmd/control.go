// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/portalstat/pkg/session"
)

var (
	monitorAll    bool
	monitorLights bool
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"control"},
	Short:   "Interactive TUI for watching and controlling portals",
	Long: `Monitor portals via an interactive terminal UI.

Features:
  - 16-slot grid per portal, colored by figure element
  - Figure details with level, experience and gold (press d to read stats)
  - Portal light control (color input, element lighting, trap light)
  - Frame statistics and event log

Tab switches between the portal list, the slot grid and the color input.
Arrow keys move through the grid.

With --all every attached USB portal is polled concurrently.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorAll, "all", false, "Open every attached USB portal")
	monitorCmd.Flags().BoolVar(&monitorLights, "lights", false, "Start with element lighting on")
}

// pollLoop polls one session until ctx is done. Each cycle's events go to
// onPoll. When lights is set the portal follows the lowest occupied slot.
func pollLoop(ctx context.Context, p *openPortal, interval time.Duration, lights *atomic.Bool, onPoll func([]session.Event)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := p.Logger()
	for {
		events := p.Poll()
		if onPoll != nil {
			onPoll(events)
		}
		if lights != nil && lights.Load() {
			if _, err := p.ApplyElementLighting(); err != nil && !errors.Is(err, session.ErrClosed) {
				log.Warn().Err(err).Msg("failed to apply element lighting")
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// startSimulators runs the demo script on every simulated portal
func startSimulators(ctx context.Context, g *errgroup.Group, portals []*openPortal) {
	for _, p := range portals {
		if p.Sim == nil {
			continue
		}
		sim := p.Sim
		g.Go(func() error {
			runDemoScript(ctx, sim)
			return nil
		})
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	portals, closeAll, err := openPortals(monitorAll, nil)
	if err != nil {
		return err
	}
	defer closeAll()

	lights := &atomic.Bool{}
	lights.Store(monitorLights || cfg.ElementLighting)

	m := initialMonitorModel(portals, lights)
	p := tea.NewProgram(m, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(cmd.Context())
	g, gctx := errgroup.WithContext(ctx)
	startSimulators(gctx, g, portals)

	interval := time.Duration(cfg.PollInterval)
	for i, portal := range portals {
		g.Go(func() error {
			err := pollLoop(gctx, portal, interval, lights, func(events []session.Event) {
				p.Send(pollMsg{portal: i, events: events, figures: portal.Figures()})
			})
			p.Send(pollerStoppedMsg{portal: i, err: err})
			return err
		})
	}

	_, runErr := p.Run()
	cancel()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}
