// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/gousb"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/portalstat/pkg/figures"
	"github.com/Thermoquad/portalstat/pkg/portal"
	"github.com/Thermoquad/portalstat/pkg/session"
	"github.com/Thermoquad/portalstat/pkg/tagcrypto"
)

type instantClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *instantClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *instantClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newSimSession(t *testing.T, sim *Simulator, opts session.Options, fopts ...portal.FramerOption) *session.Session {
	t.Helper()
	f, err := portal.NewFramer(sim.Kind(), sim, fopts...)
	require.NoError(t, err)
	opts.Clock = &instantClock{now: time.Unix(1700000000, 0)}
	s, err := session.New(f, opts)
	require.NoError(t, err)
	return s
}

// ============================================================
// Bridge Record Tests
// ============================================================

func TestRecordRoundTrip(t *testing.T) {
	rec := Record{Kind: RecordSetReport, Value: 0x0252, Report: portal.NewQueryBlock(0x11, 9)}
	b := rec.Marshal()
	require.Len(t, b, RecordSize)
	assert.Equal(t, []byte{'S', 0x52, 0x02, 'Q', 0x11, 0x09}, b[:6])

	got, err := ParseRecord(b)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestParseRecordErrors(t *testing.T) {
	_, err := ParseRecord(make([]byte, RecordSize-1))
	assert.Error(t, err)

	b := make([]byte, RecordSize)
	b[0] = 'X'
	_, err = ParseRecord(b)
	assert.Error(t, err)
}

func TestServeRecord(t *testing.T) {
	sim := NewSimulator(portal.ControlOnly)
	require.NoError(t, sim.PlaceFigure(0, 0x10, 0, 0, 0))

	out, err := ServeRecord(sim, Record{Kind: RecordSetReport, Value: portal.SetReportValue(portal.NewStatusRequest()), Report: portal.NewStatusRequest()})
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = ServeRecord(sim, Record{Kind: RecordGetReport, Value: portal.GetReportValue})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, RecordInput, out[0].Kind)
	assert.Equal(t, portal.RespStatus, out[0].Report.Opcode())

	// Nothing pending: timeout is not an error
	out, err = ServeRecord(sim, Record{Kind: RecordGetReport, Value: portal.GetReportValue})
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = ServeRecord(sim, Record{Kind: RecordInput})
	assert.Error(t, err)
}

// ============================================================
// Simulator Tests
// ============================================================

func TestNewTagDecrypts(t *testing.T) {
	tag, err := NewTag(0x1C, 0xDEADBEEF, 33000, 1500, 7200)
	require.NoError(t, err)
	require.Len(t, tag, TagSize)
	assert.Equal(t, byte(0xEF^0xBE^0xAD^0xDE), tag[4])
	assert.Equal(t, byte(0x1C), tag[16])
	assert.NoError(t, tagcrypto.VerifyHeader(tag[:tagcrypto.Sector0Size]))

	blocks := map[byte][]byte{}
	for _, b := range tagcrypto.StatsBlocks {
		blocks[b] = tag[int(b)*16 : int(b)*16+16]
	}
	stats := tagcrypto.DecryptStats(tag[:32], blocks)
	d, ok := stats.(tagcrypto.Decrypted)
	require.True(t, ok, "stats: %v", stats)
	assert.Equal(t, 9, d.Level)
	assert.Equal(t, 1500, d.Gold)
}

func TestSimulatorStatusEdges(t *testing.T) {
	sim := NewSimulator(portal.ControlOnly)
	require.NoError(t, sim.PlaceFigure(3, 0x10, 0, 0, 0))

	status := func() portal.StatusReport {
		require.NoError(t, sim.SetReport(portal.SetReportValue(portal.NewStatusRequest()), portal.NewStatusRequest().Bytes()))
		raw, err := sim.Read(0)
		require.NoError(t, err)
		resp, err := portal.DecodeResponse(portal.FrameFrom(raw))
		require.NoError(t, err)
		return resp.Status
	}

	assert.Equal(t, portal.SlotAdded, status().Slot(3))
	assert.Equal(t, portal.SlotPresent, status().Slot(3))
	sim.Remove(3)
	assert.Equal(t, portal.SlotRemoved, status().Slot(3))
	assert.Equal(t, portal.SlotAbsent, status().Slot(3))

	_, err := sim.Read(0)
	assert.ErrorIs(t, err, portal.ErrTimeout)
}

func TestSimulatorRejectsBadInput(t *testing.T) {
	sim := NewSimulator(portal.ControlOnly)
	assert.Error(t, sim.Place(16, make([]byte, TagSize)))
	assert.Error(t, sim.Place(0, make([]byte, 10)))
	assert.Error(t, sim.SetReport(0x0200, portal.NewReset().Bytes()), "wValue must carry the opcode")
	_, err := sim.GetReport(0x0100, time.Millisecond)
	assert.Error(t, err)

	require.NoError(t, sim.Close())
	assert.ErrorIs(t, sim.Write(portal.NewReset().Bytes()), ErrClosed)
}

func TestSimulatorInterruptStreamsAfterActivate(t *testing.T) {
	sim := NewSimulator(portal.InterruptCapable)
	_, err := sim.Read(0)
	assert.ErrorIs(t, err, portal.ErrTimeout, "silent before activation")

	wire := portal.InterruptCapable.Encode(portal.NewActivate())
	require.NoError(t, sim.Write(wire[:]))
	assert.True(t, sim.Active())

	raw, err := sim.Read(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{portal.HeaderByte0, portal.HeaderByte1, portal.RespStatus}, raw[:3])
}

func TestSimulatorSessionEndToEnd(t *testing.T) {
	for _, kind := range []portal.TransportKind{portal.ControlOnly, portal.InterruptCapable} {
		t.Run(kind.String(), func(t *testing.T) {
			sim := NewSimulator(kind)
			s := newSimSession(t, sim, session.Options{DecryptStats: true})
			assert.True(t, sim.Active())

			require.NoError(t, sim.PlaceFigure(0, 0x10, 1234, 56, 3600))
			require.NoError(t, sim.PlaceFigure(5, 0x1E, 0, 0, 0))
			events := s.Poll()
			require.Len(t, events, 2)

			spyro, ok := s.Figure(0)
			require.True(t, ok)
			assert.Equal(t, "Spyro", spyro.Name)
			require.True(t, spyro.DecryptionSucceeded(), "stats: %v", spyro.Stats)
			d, _ := spyro.Decrypted()
			assert.Equal(t, 1234, d.Experience)
			assert.Equal(t, 3, d.Level)
			assert.Equal(t, "1h 0m", d.Playtime())

			ghost, _ := s.Figure(5)
			assert.Equal(t, "Chop Chop", ghost.Name)

			// Interrupt portals stream several reports per poll, so the
			// remove edge may be overtaken by a plain absent report
			sim.Remove(5)
			var lifted []session.Event
			for i := 0; i < session.DefaultDebounceCycles; i++ {
				lifted = append(lifted, s.Poll()...)
			}
			require.Len(t, lifted, 1)
			assert.Equal(t, session.Removed, lifted[0].Kind)
			assert.Equal(t, 5, lifted[0].Slot)
			if kind == portal.ControlOnly {
				assert.False(t, lifted[0].Debounced)
			}

			sim.RemoveSilently(0)
			var removed []session.Event
			for i := 0; i < session.DefaultDebounceCycles; i++ {
				removed = append(removed, s.Poll()...)
			}
			require.Len(t, removed, 1)
			assert.True(t, removed[0].Debounced)
			assert.Empty(t, s.Figures())
		})
	}
}

func TestSimulatorStaleAndUnreadable(t *testing.T) {
	sim := NewSimulator(portal.ControlOnly)
	s := newSimSession(t, sim, session.Options{QueryRetries: 4})

	require.NoError(t, sim.PlaceFigure(2, 0x0B, 0, 0, 0))
	sim.InjectStaleReply(0x12, 0x05, []byte{0xAA})
	sim.InjectStaleReply(0x19, 0x01, []byte{0xBB})
	s.Poll()
	f, _ := s.Figure(2)
	assert.Equal(t, "Flameslinger", f.Name)
	assert.Equal(t, uint64(2), s.Statistics().Snapshot().StaleReplies)

	require.NoError(t, sim.PlaceFigure(7, 0x10, 0, 0, 0))
	sim.SetUnreadable(7, true)
	s.Poll()
	f, _ = s.Figure(7)
	assert.Equal(t, figures.PlaceholderName, f.Name)

	sim.SetUnreadable(7, false)
	events := s.Poll()
	require.Len(t, events, 1)
	assert.Equal(t, session.Identified, events[0].Kind)
	f, _ = s.Figure(7)
	assert.Equal(t, "Spyro", f.Name)
}

func TestSimulatorWriteRetries(t *testing.T) {
	sim := NewSimulator(portal.ControlOnly)
	s := newSimSession(t, sim, session.Options{}, portal.WithWriteRetries(5))

	sim.FailWrites(3)
	require.NoError(t, s.SetColor(figures.RGB{R: 1, G: 2, B: 3}))
	assert.Equal(t, figures.RGB{R: 1, G: 2, B: 3}, sim.Color())
	assert.Equal(t, uint64(3), s.Statistics().Snapshot().WriteRetries)

	sim.FailWrites(10)
	assert.Error(t, s.SetColor(figures.RGB{}))
	assert.Equal(t, uint64(1), s.Statistics().Snapshot().WriteErrors)
}

// ============================================================
// Serial Bridge Tests
// ============================================================

type fakeSerialPort struct {
	rx      bytes.Buffer
	tx      bytes.Buffer
	timeout time.Duration
	closed  bool
	readErr error
}

func (p *fakeSerialPort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.rx.Len() == 0 {
		return 0, nil
	}
	// Deliver in small pieces to exercise reassembly
	if len(b) > 7 {
		b = b[:7]
	}
	return p.rx.Read(b)
}

func (p *fakeSerialPort) Write(b []byte) (int, error) { return p.tx.Write(b) }

func (p *fakeSerialPort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *fakeSerialPort) Close() error {
	p.closed = true
	return nil
}

func TestSerialChannelWrite(t *testing.T) {
	port := &fakeSerialPort{}
	c := newSerialChannel(port, "/dev/ttyFAKE")

	require.NoError(t, c.SetReport(0x0243, portal.NewSetColor(1, 2, 3).Bytes()))
	require.NoError(t, c.Write(portal.NewReset().Bytes()))

	out := port.tx.Bytes()
	require.Len(t, out, 2*RecordSize)
	rec, err := ParseRecord(out[:RecordSize])
	require.NoError(t, err)
	assert.Equal(t, Record{Kind: RecordSetReport, Value: 0x0243, Report: portal.NewSetColor(1, 2, 3)}, rec)
	assert.Equal(t, RecordInterruptOut, out[RecordSize])
	assert.Equal(t, "/dev/ttyFAKE", c.Name())
}

func TestSerialChannelRead(t *testing.T) {
	port := &fakeSerialPort{}
	c := newSerialChannel(port, "fake")

	status := portal.EncodeStatusResponse(0x1)
	port.rx.Write([]byte{0x00, 0xFF}) // line noise
	port.rx.Write(Record{Kind: RecordInput, Report: status}.Marshal())
	port.rx.Write(Record{Kind: RecordInput, Report: portal.EncodeQueryResponse(0x10, 1, []byte{0x10})}.Marshal())

	raw, err := c.Read(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, status.Bytes(), raw)
	assert.Equal(t, 50*time.Millisecond, port.timeout)

	raw, err = c.Read(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, portal.RespQuery, raw[0])

	_, err = c.Read(time.Millisecond)
	assert.ErrorIs(t, err, portal.ErrTimeout)

	port.readErr = errors.New("unplugged")
	_, err = c.Read(time.Millisecond)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, portal.ErrTimeout)

	require.NoError(t, c.Close())
	assert.True(t, port.closed)
	_, err = c.Read(time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSerialChannelGetReport(t *testing.T) {
	port := &fakeSerialPort{}
	c := newSerialChannel(port, "fake")
	port.rx.Write(Record{Kind: RecordInput, Report: portal.EncodeStatusResponse(0)}.Marshal())

	_, err := c.GetReport(portal.GetReportValue, 10*time.Millisecond)
	require.NoError(t, err)
	rec, err := ParseRecord(port.tx.Bytes())
	require.NoError(t, err)
	assert.Equal(t, RecordGetReport, rec.Kind)
	assert.Equal(t, uint16(portal.GetReportValue), rec.Value)
}

// ============================================================
// WebSocket Bridge Tests
// ============================================================

// bridgeServer serves a simulator over a BridgeServer
func bridgeServer(t *testing.T, sim *Simulator, username, password string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(NewBridgeServer(sim, BridgeServerOptions{
		Username: username,
		Password: password,
		Logger:   zerolog.Nop(),
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketSession(t *testing.T) {
	sim := NewSimulator(portal.ControlOnly)
	require.NoError(t, sim.PlaceFigure(1, 0x13, 0, 0, 0))
	srv := bridgeServer(t, sim, "root", "s3cret")
	defer srv.Close()

	ch, err := DialWebSocket(wsURL(srv), WebSocketOptions{Username: "root", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, wsURL(srv), ch.URL())

	f, err := portal.NewFramer(portal.ControlOnly, ch, portal.WithReadTimeout(50*time.Millisecond))
	require.NoError(t, err)
	s, err := session.New(f, session.Options{Clock: &instantClock{}})
	require.NoError(t, err)
	defer s.Close()

	var fig figures.FigureInfo
	require.Eventually(t, func() bool {
		s.Poll()
		var ok bool
		fig, ok = s.Figure(1)
		return ok
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, "Trigger Happy", fig.Name)
}

func TestWebSocketAuthAndScheme(t *testing.T) {
	sim := NewSimulator(portal.ControlOnly)
	srv := bridgeServer(t, sim, "root", "s3cret")
	defer srv.Close()

	_, err := DialWebSocket(wsURL(srv), WebSocketOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")

	_, err = DialWebSocket(wsURL(srv), WebSocketOptions{Username: "root", Password: "wrong"})
	assert.ErrorContains(t, err, "HTTP 401")

	_, err = DialWebSocket("http://example.com", WebSocketOptions{})
	assert.ErrorContains(t, err, "unsupported URL scheme")

	_, err = DialWebSocket("://", WebSocketOptions{})
	assert.Error(t, err)
}

func TestBridgeServerInterruptPortal(t *testing.T) {
	sim := NewSimulator(portal.InterruptCapable)
	require.NoError(t, sim.PlaceFigure(4, 0x10, 0, 0, 0))
	srv := bridgeServer(t, sim, "", "")
	defer srv.Close()

	ch, err := DialWebSocket(wsURL(srv), WebSocketOptions{})
	require.NoError(t, err)

	f, err := portal.NewFramer(portal.InterruptCapable, ch, portal.WithReadTimeout(50*time.Millisecond))
	require.NoError(t, err)
	s, err := session.New(f, session.Options{Clock: &instantClock{}})
	require.NoError(t, err)
	defer s.Close()

	require.Eventually(t, func() bool {
		s.Poll()
		fig, ok := s.Figure(4)
		return ok && fig.Name == "Spyro"
	}, 5*time.Second, time.Millisecond)
	assert.True(t, sim.Active())
}

// controlOnlyPortal hides the interrupt IN endpoint and counts how input
// reports were fetched
type controlOnlyPortal struct {
	*Simulator
	reads      atomic.Int32
	getReports atomic.Int32
}

func (p *controlOnlyPortal) HasInterruptIn() bool {
	return false
}

func (p *controlOnlyPortal) Read(timeout time.Duration) ([]byte, error) {
	p.reads.Add(1)
	return p.Simulator.Read(timeout)
}

func (p *controlOnlyPortal) GetReport(value uint16, timeout time.Duration) ([]byte, error) {
	p.getReports.Add(1)
	return p.Simulator.GetReport(value, timeout)
}

func TestBridgeServerWithoutInterruptIn(t *testing.T) {
	dev := &controlOnlyPortal{Simulator: NewSimulator(portal.ControlOnly)}
	require.NoError(t, dev.PlaceFigure(1, 0x13, 0, 0, 0))
	srv := httptest.NewServer(NewBridgeServer(dev, BridgeServerOptions{Logger: zerolog.Nop()}))
	defer srv.Close()

	ch, err := DialWebSocket(wsURL(srv), WebSocketOptions{})
	require.NoError(t, err)

	f, err := portal.NewFramer(portal.ControlOnly, ch, portal.WithReadTimeout(50*time.Millisecond))
	require.NoError(t, err)
	s, err := session.New(f, session.Options{Clock: &instantClock{}})
	require.NoError(t, err)
	defer s.Close()

	var fig figures.FigureInfo
	require.Eventually(t, func() bool {
		s.Poll()
		var ok bool
		fig, ok = s.Figure(1)
		return ok
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, "Trigger Happy", fig.Name)
	assert.True(t, fig.Identified)

	assert.Positive(t, dev.getReports.Load(), "input polled with GET_REPORT")
	assert.Zero(t, dev.reads.Load(), "no interrupt reads without an IN endpoint")
}

func TestBridgeServerOneClient(t *testing.T) {
	sim := NewSimulator(portal.ControlOnly)
	srv := bridgeServer(t, sim, "", "")
	defer srv.Close()

	first, err := DialWebSocket(wsURL(srv), WebSocketOptions{})
	require.NoError(t, err)

	_, err = DialWebSocket(wsURL(srv), WebSocketOptions{})
	assert.ErrorContains(t, err, "HTTP 503")

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		ch, err := DialWebSocket(wsURL(srv), WebSocketOptions{})
		if err != nil {
			return false
		}
		_ = ch.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "slot frees once the client leaves")
}

func TestBridgeServerDropsBadRecords(t *testing.T) {
	sim := NewSimulator(portal.ControlOnly)
	srv := bridgeServer(t, sim, "", "")
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{'X', 0, 0}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	cmd := portal.NewStatusRequest()
	rec := Record{Kind: RecordSetReport, Value: portal.SetReportValue(cmd), Report: cmd}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, rec.Marshal()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	got, err := ParseRecord(data)
	require.NoError(t, err)
	assert.Equal(t, RecordInput, got.Kind)
	assert.Equal(t, portal.RespStatus, got.Report.Opcode())
}

func TestWebSocketClosedByPeer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, Record{Kind: RecordInput, Report: portal.EncodeStatusResponse(3)}.Marshal())
		conn.Close()
	}))
	defer srv.Close()

	ch, err := DialWebSocket(wsURL(srv), WebSocketOptions{})
	require.NoError(t, err)
	defer ch.Close()

	raw, err := ch.Read(time.Second)
	require.NoError(t, err, "queued report survives the close")
	assert.Equal(t, portal.RespStatus, raw[0])

	_, err = ch.Read(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ch.Write(portal.NewReset().Bytes()), ErrClosed)
}

// ============================================================
// USB Helper Tests
// ============================================================

func TestIsPortal(t *testing.T) {
	assert.True(t, isPortal(0x1430, 0x0150))
	assert.True(t, isPortal(0x1430, 0x1F17))
	assert.False(t, isPortal(0x1430, 0x0151))
	assert.False(t, isPortal(0x046D, 0x0150))
}

func TestNamePortals(t *testing.T) {
	list := namePortals([]PortalInfo{
		{Bus: 2, Address: 4, ProductID: portal.ProductPSPC},
		{Bus: 1, Address: 9, ProductID: portal.ProductXbox},
		{Bus: 1, Address: 3, ProductID: portal.ProductPSPC},
	})
	names := []string{list[0].Name, list[1].Name, list[2].Name}
	assert.Equal(t, []string{"Skylanders PS/PC #1", "Skylanders Xbox One #1", "Skylanders PS/PC #2"}, names)
	assert.Contains(t, list[0].String(), "bus 001 addr 003")
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, isTimeout(gousb.ErrorTimeout))
	assert.True(t, isTimeout(gousb.TransferTimedOut))
	assert.True(t, isTimeout(gousb.TransferCancelled))
	assert.False(t, isTimeout(gousb.ErrorNoDevice))
	assert.False(t, isTimeout(errors.New("other")))
}
