// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/portalstat/pkg/logger"
	"github.com/Thermoquad/portalstat/pkg/portal"
)

var (
	frameTestTimeout int
)

var frameTestCmd = &cobra.Command{
	Use:     "frame_test",
	Aliases: []string{"packet_test"},
	Short:   "Test connection by waiting for a valid status frame",
	Long: `Reset and activate a portal, then request status until a valid STATUS
response arrives or the timeout expires.

Frames that are empty or carry an unknown opcode are skipped.

Exit codes:
  0 - Status frame received before timeout
  1 - Timeout reached without receiving a status frame
  2 - Connection error

Useful for testing connectivity to a serial or WebSocket bridge.`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a status frame")
}

// statusSummary renders the occupied slots of a status report
func statusSummary(r portal.StatusReport) string {
	present := r.Present()
	if len(present) == 0 {
		return "no figures"
	}
	return fmt.Sprintf("figures on slots %v", present)
}

// awaitStatus sends Reset and Activate, then waits for a status frame
func awaitStatus(f *portal.Framer, deadline time.Time) (portal.Response, int, error) {
	if err := f.Send(portal.NewReset()); err != nil {
		return portal.Response{}, 0, err
	}
	if err := f.Send(portal.NewActivate()); err != nil {
		return portal.Response{}, 0, err
	}
	return requestStatus(f, deadline)
}

// requestStatus sends status requests until a STATUS frame decodes or the
// deadline passes. skipped counts the frames that were not one.
func requestStatus(f *portal.Framer, deadline time.Time) (resp portal.Response, skipped int, err error) {
	for time.Now().Before(deadline) {
		if err := f.Send(portal.NewStatusRequest()); err != nil {
			return resp, skipped, err
		}
		// A status request can be answered behind a queued reply
		for i := 0; i < 4; i++ {
			frame := f.Receive()
			if frame.IsZero() {
				break
			}
			r, decodeErr := portal.DecodeResponse(frame)
			if decodeErr == nil && r.Kind == portal.ResponseStatus {
				return r, skipped, nil
			}
			skipped++
		}
	}
	return resp, skipped, errTimeout
}

var errTimeout = errors.New("timeout")

func runFrameTest(cmd *cobra.Command, args []string) error {
	targets, cleanup, err := openTargets(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	t := targets[0]

	stats := portal.NewStatistics()
	framer, err := portal.NewFramer(t.kind, t.ch, cfg.FramerOptions(logger.WithComponent("portal"), stats)...)
	if err != nil {
		_ = t.ch.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Portalstat - Frame Test\n")
	fmt.Printf("Connection: %s\n", t.info)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid STATUS frame...\n\n")

	deadline := time.Now().Add(time.Duration(frameTestTimeout) * time.Second)
	resp, skipped, err := awaitStatus(framer, deadline)
	_ = framer.Close()
	cleanup()

	switch {
	case errors.Is(err, errTimeout):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No status frame received within %d seconds\n", frameTestTimeout)
		os.Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
		os.Exit(2)
	}

	if skipped > 0 {
		fmt.Printf("(skipped %d frames before status)\n", skipped)
	}
	fmt.Printf("SUCCESS: Received valid status frame\n")
	fmt.Printf("  Raw: % X\n", resp.Raw[:8])
	fmt.Printf("  Status: 0x%08X (%s)\n", resp.Status.Bits, statusSummary(resp.Status))
	fmt.Printf("  Commands sent: %d\n", stats.Snapshot().CommandsSent)
	os.Exit(0)
	return nil
}
