// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/portalstat/pkg/config"
	"github.com/Thermoquad/portalstat/pkg/logger"
)

var (
	configPath string
	logLevel   string
	debugLog   bool

	// Serial bridge flags
	portName string
	baudRate int

	// WebSocket bridge flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Bridges cannot tell which portal class sits behind them
	kindName string
	simulate bool

	decryptStats bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "portalstat",
	Short: "Figure portal monitor and protocol analyzer",
	Long: `Portalstat - A CLI tool for driving NFC figure portals.

Detects figures placed on Skylanders-style USB portals, identifies them,
optionally decrypts their stats, drives the portal lights and logs the raw
32-byte frame protocol for diagnosing communication issues.

Connection modes:
  USB:       (default) first attached portal, or --all where supported
  Serial:    --port /dev/ttyUSB0 [--baud 115200] --kind control|interrupt
  WebSocket: --url ws://host/path [--username user] --kind control|interrupt
  Simulator: --simulate [--kind control|interrupt]

"portalstat serve" shares a local portal with WebSocket clients on other
machines.

For WebSocket authentication, the password is read from the PORTALSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings are read from --config (JSON) and PORTALSTAT_* environment variables;
flags win over both.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "JSON config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Enable debug logging")

	// Serial bridge flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial bridge device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket bridge flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&kindName, "kind", "k", "control", "Portal class behind a bridge or simulator (control, interrupt)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Use an in-memory simulated portal")
	rootCmd.PersistentFlags().BoolVar(&decryptStats, "decrypt", false, "Read and decrypt stats of every new figure")
}

// loadConfig layers file, environment and flags, then sets up logging
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("debug") {
		cfg.Log.Debug = debugLog
	}
	if flags.Changed("decrypt") {
		cfg.DecryptStats = decryptStats
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return logger.Init(cfg.Log)
}

// Execute runs the root command. Interrupts cancel the command context so
// pollers can close their portals.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
