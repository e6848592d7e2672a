// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/portalstat/pkg/device"
	"github.com/Thermoquad/portalstat/pkg/logger"
	"github.com/Thermoquad/portalstat/pkg/portal"
	"github.com/Thermoquad/portalstat/pkg/session"
)

// PasswordEnv holds the WebSocket bridge password
const PasswordEnv = "PORTALSTAT_PASSWORD"

// errNoPortal is returned when USB enumeration finds nothing to open
var errNoPortal = errors.New("no portal found (connect one, or use --port, --url or --simulate)")

// target is one opened channel waiting for a session
type target struct {
	ch        portal.Channel
	kind      portal.TransportKind
	name      string
	productID uint16
	info      string
	sim       *device.Simulator
}

// openPortal is a running session plus what the commands need to describe it
type openPortal struct {
	*session.Session
	Info string
	Sim  *device.Simulator
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal: read a line instead
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// bridgeKind resolves --kind into a transport kind and its product ID
func bridgeKind() (portal.TransportKind, uint16, error) {
	kind, err := portal.ParseTransportKind(kindName)
	if err != nil {
		return 0, 0, err
	}
	if kind == portal.InterruptCapable {
		return kind, portal.ProductXbox, nil
	}
	return kind, portal.ProductPSPC, nil
}

// openTargets opens the channels selected by the connection flags. Only USB
// can yield more than one portal, and only when all is set. The returned
// cleanup must run after every channel is closed.
func openTargets(all bool) ([]target, func(), error) {
	noop := func() {}

	if simulate || wsURL != "" || portName != "" {
		kind, pid, err := bridgeKind()
		if err != nil {
			return nil, noop, err
		}
		name := portal.ProductName(pid) + " #1"

		switch {
		case simulate:
			sim := newDemoSimulator(kind)
			return []target{{
				ch: sim, kind: kind, productID: pid, sim: sim,
				name: "Simulated " + name,
				info: fmt.Sprintf("Simulator: %s class", kind),
			}}, noop, nil

		case wsURL != "":
			password := ""
			if wsUsername != "" {
				password, err = GetPassword()
				if err != nil {
					return nil, noop, err
				}
			}
			ch, err := device.DialWebSocket(wsURL, device.WebSocketOptions{
				Username:      wsUsername,
				Password:      password,
				SkipSSLVerify: wsNoSSLVerify,
			})
			if err != nil {
				return nil, noop, err
			}
			return []target{{
				ch: ch, kind: kind, productID: pid, name: name,
				info: fmt.Sprintf("WebSocket: %s (%s class)", wsURL, kind),
			}}, noop, nil

		default:
			ch, err := device.OpenSerial(portName, baudRate)
			if err != nil {
				return nil, noop, err
			}
			return []target{{
				ch: ch, kind: kind, productID: pid, name: name,
				info: fmt.Sprintf("Serial: %s @ %d baud (%s class)", portName, baudRate, kind),
			}}, noop, nil
		}
	}

	usb := device.NewUSB()
	cleanup := func() { _ = usb.Close() }

	list, err := usb.List()
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	if len(list) == 0 {
		cleanup()
		return nil, noop, errNoPortal
	}
	if !all {
		list = list[:1]
	}

	var targets []target
	var errs []error
	for _, info := range list {
		ch, err := usb.Open(info)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		targets = append(targets, target{
			ch:        ch,
			kind:      info.Kind,
			productID: info.ProductID,
			name:      info.Name,
			info:      "USB: " + info.String(),
		})
	}
	if len(targets) == 0 {
		cleanup()
		return nil, noop, errors.Join(errs...)
	}
	log := logger.WithComponent("usb")
	for _, err := range errs {
		log.Warn().Err(err).Msg("skipping portal")
	}
	return targets, cleanup, nil
}

// startSession builds the framer and session for one target. wrap, when
// set, interposes on the channel before the framer sees it.
func startSession(t target, wrap func(portal.Channel) portal.Channel) (*openPortal, error) {
	log := logger.WithComponent("portal")
	ch := t.ch
	if wrap != nil {
		ch = wrap(ch)
	}

	framer, err := portal.NewFramer(t.kind, ch, cfg.FramerOptions(log, portal.NewStatistics())...)
	if err != nil {
		_ = t.ch.Close()
		return nil, err
	}
	sess, err := session.New(framer, cfg.SessionOptions(t.name, t.productID, log))
	if err != nil {
		_ = framer.Close()
		return nil, err
	}
	return &openPortal{Session: sess, Info: t.info, Sim: t.sim}, nil
}

// openPortals opens every selected portal and starts a session on each.
// Close them with closePortals.
func openPortals(all bool, wrap func(portal.Channel) portal.Channel) ([]*openPortal, func(), error) {
	targets, cleanup, err := openTargets(all)
	if err != nil {
		return nil, cleanup, err
	}

	var portals []*openPortal
	for i, t := range targets {
		p, err := startSession(t, wrap)
		if err != nil {
			for _, rest := range targets[i+1:] {
				_ = rest.ch.Close()
			}
			closePortals(portals, cleanup)
			return nil, func() {}, fmt.Errorf("%s: %w", t.name, err)
		}
		portals = append(portals, p)
	}

	return portals, func() { closePortals(portals, cleanup) }, nil
}

func closePortals(portals []*openPortal, cleanup func()) {
	for _, p := range portals {
		_ = p.Close()
	}
	cleanup()
}

// openOnePortal opens the single portal selected by the connection flags
func openOnePortal() (*openPortal, func(), error) {
	portals, closeAll, err := openPortals(false, nil)
	if err != nil {
		return nil, closeAll, err
	}
	return portals[0], closeAll, nil
}
