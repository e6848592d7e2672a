// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/portalstat/pkg/portal"
)

// WebSocket dial limits
const (
	HandshakeTimeout = 10 * time.Second
	DialTimeout      = 15 * time.Second

	inboundQueue = 64
)

// WebSocketOptions configures a WebSocket bridge connection
type WebSocketOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
}

// WebSocketChannel talks to a remote portal bridge. Each binary message
// carries one bridge record. A reader goroutine queues input reports.
type WebSocketChannel struct {
	conn    *websocket.Conn
	url     string
	inbound chan portal.Frame
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

// DialWebSocket connects to a bridge with optional HTTP Basic auth
func DialWebSocket(wsURL string, opts WebSocketOptions) (*WebSocketChannel, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: HandshakeTimeout,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketChannel(conn, wsURL), nil
}

func newWebSocketChannel(conn *websocket.Conn, wsURL string) *WebSocketChannel {
	c := &WebSocketChannel{
		conn:    conn,
		url:     wsURL,
		inbound: make(chan portal.Frame, inboundQueue),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// URL returns the bridge URL
func (c *WebSocketChannel) URL() string {
	return c.url
}

func (c *WebSocketChannel) readLoop() {
	defer close(c.done)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		// Text messages are bridge chatter
		if messageType != websocket.BinaryMessage {
			continue
		}
		rec, err := ParseRecord(data)
		if err != nil || rec.Kind != RecordInput {
			continue
		}
		select {
		case c.inbound <- rec.Report:
		default:
			// Queue full: drop the oldest report
			select {
			case <-c.inbound:
			default:
			}
			c.inbound <- rec.Report
		}
	}
}

func (c *WebSocketChannel) closedErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
	}
	return ErrClosed
}

func (c *WebSocketChannel) send(rec Record) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(portal.DefaultWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, rec.Marshal())
}

// Write relays an interrupt OUT transfer
func (c *WebSocketChannel) Write(frame []byte) error {
	return c.send(Record{Kind: RecordInterruptOut, Report: portal.FrameFrom(frame)})
}

// SetReport relays a SET_REPORT transfer
func (c *WebSocketChannel) SetReport(value uint16, frame []byte) error {
	return c.send(Record{Kind: RecordSetReport, Value: value, Report: portal.FrameFrom(frame)})
}

// GetReport requests an input report and waits for it
func (c *WebSocketChannel) GetReport(value uint16, timeout time.Duration) ([]byte, error) {
	if err := c.send(Record{Kind: RecordGetReport, Value: value}); err != nil {
		return nil, err
	}
	return c.Read(timeout)
}

// HasInterruptIn reports true; the bridge forwards input reports unasked,
// polling with GET_REPORT on its side when the portal has no IN endpoint
func (c *WebSocketChannel) HasInterruptIn() bool {
	return true
}

// Read waits for the next queued input report
func (c *WebSocketChannel) Read(timeout time.Duration) ([]byte, error) {
	// Drain queued reports before reporting a dead connection
	select {
	case f := <-c.inbound:
		return f.Bytes(), nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-c.inbound:
		return f.Bytes(), nil
	case <-c.done:
		select {
		case f := <-c.inbound:
			return f.Bytes(), nil
		default:
		}
		return nil, c.closedErr()
	case <-timer.C:
		return nil, portal.ErrTimeout
	}
}

// Close sends a close frame and closes the connection
func (c *WebSocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		<-c.done
	})
	return err
}
