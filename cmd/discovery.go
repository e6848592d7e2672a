// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/portalstat/pkg/device"
	"github.com/Thermoquad/portalstat/pkg/portal"
)

var (
	listSerial bool
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"discovery"},
	Short:   "List attached portals",
	Long: `Enumerate USB portals by vendor ID 0x1430.

Each supported product is shown with its transport class:
  0x0150 Skylanders PS/PC    control-only (SET_REPORT commands)
  0x1F17 Skylanders Xbox One interrupt-capable (2-byte frame header)

Portals are numbered per product in bus/address order, matching the names
used by the other commands.

With --serial, serial ports that could host a bridge are listed too.

Exit codes:
  0 - At least one portal found
  1 - No portal found
  2 - Enumeration error`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listSerial, "serial", false, "Also list serial ports")
}

func runList(cmd *cobra.Command, args []string) error {
	fmt.Printf("Portalstat - Portal Discovery\n\n")

	portals, err := device.ListPortals()
	if err != nil {
		fmt.Fprintf(os.Stderr, "USB error: %v\n", err)
		os.Exit(2)
	}

	for _, p := range portals {
		fmt.Printf("Portal found:\n")
		fmt.Printf("  Name: %s\n", p.Name)
		fmt.Printf("  Bus/Address: %03d/%03d\n", p.Bus, p.Address)
		fmt.Printf("  ID: %04x:%04x\n", portal.VendorID, p.ProductID)
		fmt.Printf("  Class: %s\n\n", p.Kind)
	}

	if listSerial {
		ports, err := device.ListSerialPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Serial error: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("Serial ports:\n")
		if len(ports) == 0 {
			fmt.Printf("  (none)\n")
		}
		for _, p := range ports {
			if p.IsUSB {
				fmt.Printf("  %s  %s:%s %s %s\n", p.Name, p.VID, p.PID, p.Product, p.Serial)
			} else {
				fmt.Printf("  %s\n", p.Name)
			}
		}
		fmt.Println()
	}

	fmt.Printf("--- Discovery summary ---\n")
	fmt.Printf("Portals found: %d\n", len(portals))
	if len(portals) == 0 {
		fmt.Printf("No portals found. Check the USB connection and permissions.\n")
		os.Exit(1)
	}
	return nil
}
