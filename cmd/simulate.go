// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"time"

	"github.com/Thermoquad/portalstat/pkg/device"
	"github.com/Thermoquad/portalstat/pkg/logger"
	"github.com/Thermoquad/portalstat/pkg/portal"
)

// demoFigure is one figure in the simulator roster
type demoFigure struct {
	id       uint16
	xp       int
	gold     int
	playtime uint32
}

var demoRoster = []demoFigure{
	{id: 0x10, xp: 12345, gold: 900, playtime: 5 * 3600},   // Spyro
	{id: 0x09, xp: 850, gold: 120, playtime: 40 * 60},      // Eruptor
	{id: 0x0E, xp: 2400, gold: 310, playtime: 3 * 3600},    // Gill Grunt
	{id: 0x1A, xp: 64000, gold: 5200, playtime: 30 * 3600}, // Stealth Elf
	{id: 0x1E, xp: 0, gold: 0, playtime: 0},                // Chop Chop
	{id: 0x0C, xp: 7100, gold: 2000, playtime: 9 * 3600},   // Zap
}

// demoInterval is how often the simulator script changes the portal
const demoInterval = 4 * time.Second

// newDemoSimulator creates a simulated portal with two figures on it
func newDemoSimulator(kind portal.TransportKind) *device.Simulator {
	sim := device.NewSimulator(kind)
	for slot, f := range demoRoster[:2] {
		_ = sim.PlaceFigure(slot, f.id, f.xp, f.gold, f.playtime)
	}
	return sim
}

// runDemoScript swaps figures on and off the simulator until ctx is done.
// Slots 0 and 1 hold the starting figures; the rest of the roster rotates
// through slot 2 and 3.
func runDemoScript(ctx context.Context, sim *device.Simulator) {
	log := logger.WithComponent("simulator")
	ticker := time.NewTicker(demoInterval)
	defer ticker.Stop()

	next := 2
	occupied := -1
	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if occupied >= 0 {
			sim.Remove(occupied)
			log.Debug().Int("slot", occupied).Msg("removed simulated figure")
			occupied = -1
			continue
		}

		f := demoRoster[next]
		slot := 2 + step%2
		if err := sim.PlaceFigure(slot, f.id, f.xp, f.gold, f.playtime); err != nil {
			log.Warn().Err(err).Msg("failed to place simulated figure")
			continue
		}
		log.Debug().Int("slot", slot).Uint16("figure", f.id).Msg("placed simulated figure")
		occupied = slot
		next++
		if next == len(demoRoster) {
			next = 2
		}
	}
}
