// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/portalstat/pkg/portal"
)

// DefaultPumpInterval is how often a bridge server polls the portal for
// input reports
const DefaultPumpInterval = 5 * time.Millisecond

// BridgeServerOptions configures a BridgeServer
type BridgeServerOptions struct {
	// Username and Password enable HTTP Basic auth when both are set
	Username string
	Password string

	PumpInterval time.Duration
	ReadTimeout  time.Duration
	Logger       zerolog.Logger
}

// BridgeServer exposes one local portal to a WebSocket bridge client. It
// is the device side of WebSocketChannel. Only one client is served at a
// time.
type BridgeServer struct {
	ch       portal.ReportChannel
	opts     BridgeServerOptions
	upgrader websocket.Upgrader
	busy     sync.Mutex
}

// NewBridgeServer creates a server for ch
func NewBridgeServer(ch portal.ReportChannel, opts BridgeServerOptions) *BridgeServer {
	if opts.PumpInterval <= 0 {
		opts.PumpInterval = DefaultPumpInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = opts.PumpInterval
	}
	return &BridgeServer{
		ch:   ch,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  RecordSize * 4,
			WriteBufferSize: RecordSize * 16,
		},
	}
}

func (s *BridgeServer) authorized(r *http.Request) bool {
	if s.opts.Username == "" || s.opts.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.opts.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.opts.Password)) == 1
	return userOK && passOK
}

// ServeHTTP upgrades the request and relays records until either side
// closes
func (s *BridgeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := s.opts.Logger.With().Str("remote_addr", r.RemoteAddr).Logger()

	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="portal"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		log.Warn().Msg("bridge client rejected: bad credentials")
		return
	}
	if !s.busy.TryLock() {
		http.Error(w, "portal busy", http.StatusServiceUnavailable)
		log.Warn().Msg("bridge client rejected: portal busy")
		return
	}
	defer s.busy.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()
	log.Info().Msg("bridge client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	send := func(rec Record) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.SetWriteDeadline(time.Now().Add(portal.DefaultWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.BinaryMessage, rec.Marshal())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pump(ctx, send, log)
		// Unblock relay if the portal went away first
		cancel()
		_ = conn.Close()
	}()

	err = s.relay(ctx, conn, send, log)
	cancel()
	wg.Wait()

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Warn().Err(err).Msg("bridge client dropped")
		return
	}
	log.Info().Msg("bridge client disconnected")
}

// relay applies host records to the portal until the connection fails
func (s *BridgeServer) relay(ctx context.Context, conn *websocket.Conn, send func(Record) error, log zerolog.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		rec, err := ParseRecord(data)
		if err != nil {
			log.Debug().Err(err).Msg("dropping bridge record")
			continue
		}
		out, err := ServeRecord(s.ch, rec)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			log.Warn().Err(err).Str("kind", string(rec.Kind)).Msg("portal transfer failed")
		}
		for _, o := range out {
			if err := send(o); err != nil {
				return err
			}
		}
	}
}

// pump forwards input reports as the portal produces them. Portals without
// an interrupt IN endpoint are polled with GET_REPORT instead.
func (s *BridgeServer) pump(ctx context.Context, send func(Record) error, log zerolog.Logger) {
	ticker := time.NewTicker(s.opts.PumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		raw, err := s.readInput()
		if errors.Is(err, portal.ErrTimeout) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Msg("portal read failed")
			return
		}
		f := portal.FrameFrom(raw)
		if f.IsZero() {
			continue
		}
		if err := send(Record{Kind: RecordInput, Report: f}); err != nil {
			return
		}
	}
}

func (s *BridgeServer) readInput() ([]byte, error) {
	if s.ch.HasInterruptIn() {
		return s.ch.Read(s.opts.ReadTimeout)
	}
	return s.ch.GetReport(portal.GetReportValue, s.opts.ReadTimeout)
}
