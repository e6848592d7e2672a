// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Portalstat - Toy Portal Monitor
//
// A CLI tool for identifying figures on toy NFC portals, reading their
// stats and driving the portal lights.

package main

import (
	"os"

	"github.com/Thermoquad/portalstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
