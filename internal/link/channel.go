package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"dronelink/internal/protocol"
)

// Default channel endpoints and buffer sizes
const (
	DefaultVideoPort  = 9999
	DefaultNavPort    = 9998
	DefaultReadBuffer = 64 * 1024
)

// Kind selects the traffic a channel carries.
type Kind int

const (
	KindVideo Kind = iota
	KindNav
)

func (k Kind) String() string {
	if k == KindNav {
		return "nav"
	}
	return "video"
}

// Endpoint is the network target of one channel.
type Endpoint struct {
	Host string
	Port int
	Kind Kind
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// State is the connection state of a channel.
type State int32

const (
	Disconnected State = iota
	Connecting
	Online
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Online:
		return "online"
	default:
		return "disconnected"
	}
}

// Dialer opens stream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// FrameHandler processes one framed message. A *protocol.DecodeError drops the
// frame; the channel stays Online.
type FrameHandler func(frame []byte) error

// StatusFunc is told when the channel goes online or offline.
type StatusFunc func(online bool)

// ChannelConfig holds socket tuning for a channel
type ChannelConfig struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration // 0 waits forever
	WriteTimeout time.Duration // 0 waits forever
	ReadBuffer   int
	Dialer       Dialer
}

// ChannelStats is a snapshot of channel counters.
type ChannelStats struct {
	State        State
	Frames       uint64
	DecodeErrors uint64 // framer check failures plus handler decode errors
	BytesIn      uint64
	BytesOut     uint64
	Resynced     uint64
	LastFrame    time.Time
}

// Channel owns one persistent socket to the drone and its read loop.
type Channel struct {
	endpoint Endpoint
	config   ChannelConfig
	framing  protocol.Framing
	handler  FrameHandler
	onStatus StatusFunc
	logger   *logrus.Logger

	mu         sync.Mutex
	state      State
	conn       net.Conn
	cancelDial context.CancelFunc
	done       chan struct{}

	writeMu sync.Mutex

	frames       atomic.Uint64
	decodeErrors atomic.Uint64
	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64
	resynced     atomic.Uint64
	lastFrame    atomic.Int64
}

// NewChannel creates a disconnected channel for endpoint.
func NewChannel(endpoint Endpoint, handler FrameHandler, onStatus StatusFunc, config ChannelConfig, logger *logrus.Logger) *Channel {
	if config.ReadBuffer <= 0 {
		config.ReadBuffer = DefaultReadBuffer
	}
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{}
	}
	if onStatus == nil {
		onStatus = func(bool) {}
	}

	framing := protocol.NavFraming
	if endpoint.Kind == KindVideo {
		framing = protocol.VideoFraming
	}

	return &Channel{
		endpoint: endpoint,
		config:   config,
		framing:  framing,
		handler:  handler,
		onStatus: onStatus,
		logger:   logger,
	}
}

// Endpoint returns the channel's target.
func (c *Channel) Endpoint() Endpoint {
	return c.endpoint
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the endpoint and starts the read loop. It is a no-op unless the
// channel is Disconnected. A failed dial reports offline and returns a *TransportError.
// When a lost connection's loop is still reporting offline, Connect waits for it
// first, so listeners never see the new online before the old offline. It must
// not be called from a FrameHandler or StatusFunc of the same channel.
func (c *Channel) Connect(ctx context.Context) error {
	if err := c.lockIdle(ctx); err != nil {
		return &TransportError{Op: "connect", Endpoint: c.endpoint, Err: err}
	}
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting

	var dialCtx context.Context
	var cancel context.CancelFunc
	if c.config.DialTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, c.config.DialTimeout)
	} else {
		dialCtx, cancel = context.WithCancel(ctx)
	}
	c.cancelDial = cancel
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"channel": c.endpoint.Kind,
		"address": c.endpoint.Address(),
	}).Debug("Connecting")

	conn, err := c.config.Dialer.DialContext(dialCtx, "tcp", c.endpoint.Address())
	cancel()

	c.mu.Lock()
	c.cancelDial = nil
	if c.state != Connecting {
		// Disconnect won the race
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return &TransportError{Op: "connect", Endpoint: c.endpoint, Err: ErrAborted}
	}
	if err != nil {
		c.state = Disconnected
		c.mu.Unlock()

		c.logger.WithError(err).WithField("channel", c.endpoint.Kind).Warn("Failed to connect")
		c.onStatus(false)
		return &TransportError{Op: "connect", Endpoint: c.endpoint, Err: err}
	}

	done := make(chan struct{})
	c.state = Online
	c.conn = conn
	c.done = done
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"channel": c.endpoint.Kind,
		"address": c.endpoint.Address(),
	}).Info("Channel online")

	go c.run(conn, done)
	return nil
}

// lockIdle acquires c.mu once no read loop of a Disconnected channel is
// still running. It returns with c.mu held unless ctx ends first.
func (c *Channel) lockIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		prev := c.done
		if c.state != Disconnected || prev == nil {
			return nil
		}
		select {
		case <-prev:
			c.done = nil
			return nil
		default:
		}
		c.mu.Unlock()

		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect closes the socket and waits for the read loop to exit.
// Calling it on a Disconnected channel does nothing. It must not be called
// from a FrameHandler or StatusFunc of the same channel.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	switch c.state {
	case Disconnected:
		c.mu.Unlock()
		return
	case Connecting:
		c.state = Disconnected
		cancel := c.cancelDial
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}

	conn, done := c.conn, c.done
	c.state = Disconnected
	c.conn = nil
	c.mu.Unlock()

	if err := conn.Close(); err != nil {
		c.logger.WithError(err).WithField("channel", c.endpoint.Kind).Debug("Close failed")
	}
	<-done

	c.logger.WithField("channel", c.endpoint.Kind).Info("Channel disconnected")
}

// Write sends one encoded frame. A write failure closes the socket; the read
// loop then reports the channel offline.
func (c *Channel) Write(frame []byte) error {
	c.mu.Lock()
	if c.state != Online {
		c.mu.Unlock()
		return ErrNotOnline
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			c.logger.WithError(err).WithField("channel", c.endpoint.Kind).Debug("Set write deadline failed")
		}
	}
	n, err := conn.Write(frame)
	c.bytesOut.Add(uint64(n))
	if err != nil {
		conn.Close()
		return &TransportError{Op: "write", Endpoint: c.endpoint, Err: err}
	}
	return nil
}

// Stats returns the channel counters.
func (c *Channel) Stats() ChannelStats {
	stats := ChannelStats{
		State:        c.State(),
		Frames:       c.frames.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		BytesIn:      c.bytesIn.Load(),
		BytesOut:     c.bytesOut.Load(),
		Resynced:     c.resynced.Load(),
	}
	if ts := c.lastFrame.Load(); ts != 0 {
		stats.LastFrame = time.Unix(0, ts)
	}
	return stats
}

// run is the read loop of one connection.
func (c *Channel) run(conn net.Conn, done chan struct{}) {
	defer close(done)

	c.onStatus(true)

	decoder := protocol.NewDecoder(c.framing, c.logger)
	buf := make([]byte, c.config.ReadBuffer)
	var skipped, rejected uint64

	for {
		if c.config.ReadTimeout > 0 {
			// A closed socket fails here and again in Read, which reports it.
			if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
				c.logger.WithError(err).WithField("channel", c.endpoint.Kind).Debug("Set read deadline failed")
			}
		}

		n, err := conn.Read(buf)
		if n > 0 {
			c.bytesIn.Add(uint64(n))
			for _, frame := range decoder.Decode(buf[:n]) {
				c.dispatch(frame)
			}
			if s := decoder.Skipped(); s != skipped {
				c.resynced.Add(s - skipped)
				skipped = s
			}
			if r := decoder.Rejected(); r != rejected {
				c.decodeErrors.Add(r - rejected)
				rejected = r
			}
		}
		if err != nil {
			c.fail(conn, err)
			return
		}
	}
}

func (c *Channel) dispatch(frame []byte) {
	c.frames.Add(1)
	c.lastFrame.Store(time.Now().UnixNano())

	defer func() {
		if panicData := recover(); panicData != nil {
			c.logger.WithFields(logrus.Fields{
				"channel": c.endpoint.Kind,
				"panic":   panicData,
			}).Error("Frame handler panic")
		}
	}()

	err := c.handler(frame)
	if err == nil {
		return
	}

	var decErr *protocol.DecodeError
	if errors.As(err, &decErr) {
		c.decodeErrors.Add(1)
		c.logger.WithError(err).WithField("channel", c.endpoint.Kind).Debug("Dropping corrupt frame")
		return
	}
	c.logger.WithError(err).WithField("channel", c.endpoint.Kind).Warn("Frame handler failed")
}

// fail moves the channel to Disconnected after the read loop stops.
func (c *Channel) fail(conn net.Conn, err error) {
	c.mu.Lock()
	owned := c.conn == conn
	if owned {
		c.state = Disconnected
		c.conn = nil
	}
	c.mu.Unlock()

	if owned {
		conn.Close()
		c.logger.WithError(fmt.Errorf("read: %w", err)).WithField("channel", c.endpoint.Kind).Warn("Channel lost")
	}

	c.onStatus(false)
}
