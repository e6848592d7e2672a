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
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:     "ping",
	Aliases: []string{"ws_ping"},
	Short:   "Measure status round trips to a portal",
	Long: `Send STATUS requests to a portal and time each STATUS response.

This is useful for verifying:
  - The serial or WebSocket bridge forwards frames both ways
  - HTTP Basic authentication works
  - The portal answers within the read timeout

Exit codes:
  0 - All pings answered
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

// pingResult is the outcome of one status round trip
type pingResult struct {
	rtt     time.Duration
	status  portal.StatusReport
	skipped int
	err     error
}

// pingPortal activates the portal and times count status round trips
func pingPortal(f *portal.Framer, count int, timeout, gap time.Duration) []pingResult {
	results := make([]pingResult, 0, count)
	if err := f.Send(portal.NewActivate()); err != nil {
		return append(results, pingResult{err: err})
	}
	for i := 0; i < count; i++ {
		start := time.Now()
		resp, skipped, err := requestStatus(f, start.Add(timeout))
		results = append(results, pingResult{
			rtt:     time.Since(start),
			status:  resp.Status,
			skipped: skipped,
			err:     err,
		})
		if i < count-1 {
			time.Sleep(gap)
		}
	}
	return results
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	targets, cleanup, err := openTargets(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	t := targets[0]

	framer, err := portal.NewFramer(t.kind, t.ch, cfg.FramerOptions(logger.WithComponent("portal"), portal.NewStatistics())...)
	if err != nil {
		_ = t.ch.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Portalstat - Ping Test\n")
	fmt.Printf("Connection: %s\n", t.info)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	results := pingPortal(framer, pingCount, time.Duration(pingTimeout)*time.Second, 100*time.Millisecond)
	_ = framer.Close()
	cleanup()

	failCount := 0
	for i, r := range results {
		fmt.Printf("Ping %d/%d: ", i+1, pingCount)
		switch {
		case errors.Is(r.err, errTimeout):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		case r.err != nil:
			fmt.Printf("SEND FAILED: %v\n", r.err)
			failCount++
		default:
			fmt.Printf("STATUS %s, rtt=%v", statusSummary(r.status), r.rtt.Round(time.Millisecond))
			if r.skipped > 0 {
				fmt.Printf(", skipped=%d", r.skipped)
			}
			fmt.Println()
		}
	}
	failCount += pingCount - len(results)

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, pingCount-failCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
