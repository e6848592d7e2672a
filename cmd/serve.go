// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/portalstat/pkg/device"
	"github.com/Thermoquad/portalstat/pkg/logger"
	"github.com/Thermoquad/portalstat/pkg/portal"
)

var (
	serveListen string
	servePath   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Share a local portal over a WebSocket bridge",
	Long: `Expose a local portal (USB or --simulate) to one remote client at a time.

Clients connect with --url ws://HOST:PORT/portal and the same --kind as the
shared portal. Set --username and PORTALSTAT_PASSWORD to require HTTP Basic
auth.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", ":8765", "Listen address")
	serveCmd.Flags().StringVar(&servePath, "path", "/portal", "WebSocket endpoint path")
}

func runServe(cmd *cobra.Command, args []string) error {
	if wsURL != "" {
		return fmt.Errorf("serve shares a local portal; --url is not supported")
	}

	password := ""
	if wsUsername != "" {
		var err error
		if password, err = GetPassword(); err != nil {
			return err
		}
	}

	targets, cleanup, err := openTargets(false)
	if err != nil {
		return err
	}
	t := targets[0]
	defer func() {
		_ = t.ch.Close()
		cleanup()
	}()

	rc, ok := t.ch.(portal.ReportChannel)
	if !ok {
		return fmt.Errorf("%s cannot be shared", t.name)
	}

	log := logger.WithComponent("bridge")
	mux := http.NewServeMux()
	mux.Handle(servePath, device.NewBridgeServer(rc, device.BridgeServerOptions{
		Username: wsUsername,
		Password: password,
		Logger:   log,
	}))
	srv := &http.Server{
		Addr:              serveListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("Portalstat - Bridge Server\n")
	fmt.Printf("Sharing: %s (%s class)\n", t.info, t.kind)
	fmt.Printf("Listening: ws://%s%s\n", serveListen, servePath)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	g, ctx := errgroup.WithContext(cmd.Context())
	if t.sim != nil {
		g.Go(func() error {
			runDemoScript(ctx, t.sim)
			return nil
		})
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bridge server error: %v\n", err)
	}
	return err
}
