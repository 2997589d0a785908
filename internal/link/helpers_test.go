package link

import (
	"encoding/binary"
	"image"
	"io"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"dronelink/internal/protocol"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// manualClock fires tickers only when advanced.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

type manualTicker struct {
	c      chan time.Time
	period time.Duration
	next   time.Time
	stop   chan struct{}
	once   sync.Once
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(0, 0)}
}

func (m *manualClock) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTicker{
		c:      make(chan time.Time),
		period: d,
		next:   m.now.Add(d),
		stop:   make(chan struct{}),
	}
	m.tickers = append(m.tickers, t)
	return t
}

func (t *manualTicker) C() <-chan time.Time { return t.c }
func (t *manualTicker) Stop()               { t.once.Do(func() { close(t.stop) }) }

func (t *manualTicker) stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

// Advance delivers every tick due within d, in time order. Each send blocks
// until the ticker's owner receives it or stops the ticker.
func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	tickers := append([]*manualTicker(nil), m.tickers...)
	m.mu.Unlock()

	for {
		var due *manualTicker
		for _, t := range tickers {
			if t.stopped() || t.next.After(target) {
				continue
			}
			if due == nil || t.next.Before(due.next) {
				due = t
			}
		}
		if due == nil {
			break
		}

		m.mu.Lock()
		m.now = due.next
		m.mu.Unlock()

		select {
		case due.c <- due.next:
		case <-due.stop:
		}
		due.next = due.next.Add(due.period)
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// recordingListener captures every notification.
type recordingListener struct {
	mu     sync.Mutex
	online []bool
	states []DroneState
	frames []image.Image
}

func (r *recordingListener) OnOnlineStatus(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = append(r.online, online)
}

func (r *recordingListener) OnTelemetry(state DroneState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingListener) OnVideoFrame(img image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, img)
}

func (r *recordingListener) onlineEvents() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.online...)
}

func (r *recordingListener) telemetry() []DroneState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DroneState(nil), r.states...)
}

func (r *recordingListener) videoFrames() []image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]image.Image(nil), r.frames...)
}

// fakeDrone is one listening endpoint standing in for the drone.
type fakeDrone struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeDrone(t *testing.T) *fakeDrone {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeDrone{ln: ln, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			f.conns <- conn
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		for {
			select {
			case conn := <-f.conns:
				conn.Close()
			default:
				return
			}
		}
	})
	return f
}

func (f *fakeDrone) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeDrone) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("drone endpoint was never dialed")
		return nil
	}
}

// closedPort returns a local port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func sendTelemetry(t *testing.T, conn net.Conn, frame protocol.TelemetryFrame) {
	t.Helper()
	data, err := protocol.EncodeTelemetry(frame)
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func encodeTelemetry(t *testing.T, frame protocol.TelemetryFrame) []byte {
	t.Helper()
	data, err := protocol.EncodeTelemetry(frame)
	require.NoError(t, err)
	return data
}

// corruptNavFrame is a damaged encoding of one telemetry frame. Rejected
// frames fail the framer's check. Answered frames pass framing and reach the
// frame handler. A frame that is neither is skipped as resync noise.
type corruptNavFrame struct {
	name     string
	data     []byte
	rejected bool
	answered bool
}

func corruptNavFrames(t *testing.T) []corruptNavFrame {
	t.Helper()
	frame := encodeTelemetry(t, protocol.TelemetryFrame{Status: protocol.StatusReady, Battery: 89})
	flip := func(i int, mask byte) []byte {
		data := append([]byte(nil), frame...)
		data[i] ^= mask
		return data
	}

	badStatus := append([]byte(nil), frame...)
	binary.BigEndian.PutUint64(badStatus[protocol.NavHeaderLen:], math.Float64bits(9))
	crcPos := protocol.NavFrameLen - protocol.CRCSize
	binary.BigEndian.PutUint16(badStatus[crcPos:], protocol.Checksum(badStatus[:crcPos]))

	return []corruptNavFrame{
		{name: "body bit flip", data: flip(10, 0x40), rejected: true},
		{name: "crc bit flip", data: flip(protocol.NavFrameLen-1, 0xFF), rejected: true},
		{name: "count byte", data: flip(3, 0x0F)},
		{name: "truncated", data: frame[:30], rejected: true},
		{name: "impossible status", data: badStatus, answered: true},
	}
}

func readCommand(t *testing.T, conn net.Conn) protocol.CommandFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, protocol.NavFrameLen)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	cmd, err := protocol.DecodeCommand(buf)
	require.NoError(t, err)
	return cmd
}
