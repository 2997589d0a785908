package sim

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"dronelink/internal/link"
	"dronelink/internal/protocol"
)

// Config configures the simulator endpoints and pacing.
type Config struct {
	Host              string
	VideoPort         int
	NavPort           int
	TelemetryInterval time.Duration
	FrameInterval     time.Duration
	FrameWidth        int
	FrameHeight       int
	VideoFormat       protocol.VideoFormat
	Drone             DroneConfig
}

// DefaultConfig listens on the stock ports of every interface.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		VideoPort:         link.DefaultVideoPort,
		NavPort:           link.DefaultNavPort,
		TelemetryInterval: 100 * time.Millisecond,
		FrameInterval:     100 * time.Millisecond,
		FrameWidth:        320,
		FrameHeight:       240,
		VideoFormat:       protocol.VideoJPEG,
		Drone:             DefaultDroneConfig(),
	}
}

// Stats is a snapshot of simulator counters.
type Stats struct {
	Connections  uint64
	TelemetryOut uint64
	CommandsIn   uint64
	BadCommands  uint64
	FramesOut    uint64
}

// Server plays the drone side of both channels.
type Server struct {
	config Config
	drone  *Drone
	logger *logrus.Logger

	navLn   net.Listener
	videoLn net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	connections  atomic.Uint64
	telemetryOut atomic.Uint64
	commandsIn   atomic.Uint64
	badCommands  atomic.Uint64
	framesOut    atomic.Uint64
}

// NewServer creates a simulator for drone.
func NewServer(config Config, drone *Drone, logger *logrus.Logger) *Server {
	if config.TelemetryInterval <= 0 {
		config.TelemetryInterval = 100 * time.Millisecond
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = 100 * time.Millisecond
	}
	if config.FrameWidth <= 0 || config.FrameHeight <= 0 {
		config.FrameWidth, config.FrameHeight = 320, 240
	}
	if config.VideoFormat == 0 {
		config.VideoFormat = protocol.VideoJPEG
	}

	return &Server{
		config: config,
		drone:  drone,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds both ports. Port 0 picks a free port.
func (s *Server) Listen() error {
	navLn, err := net.Listen("tcp", net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.NavPort)))
	if err != nil {
		return fmt.Errorf("failed to listen on nav port: %w", err)
	}

	videoLn, err := net.Listen("tcp", net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.VideoPort)))
	if err != nil {
		navLn.Close()
		return fmt.Errorf("failed to listen on video port: %w", err)
	}

	s.navLn, s.videoLn = navLn, videoLn

	s.logger.WithFields(logrus.Fields{
		"nav":   navLn.Addr().String(),
		"video": videoLn.Addr().String(),
	}).Info("Simulator listening")
	return nil
}

// NavAddr returns the bound nav address.
func (s *Server) NavAddr() net.Addr { return s.navLn.Addr() }

// VideoAddr returns the bound video address.
func (s *Server) VideoAddr() net.Addr { return s.videoLn.Addr() }

// Serve accepts connections until ctx is cancelled, then closes everything
// and waits for the connection handlers.
func (s *Server) Serve(ctx context.Context) error {
	if s.navLn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.wg.Add(2)
	go s.acceptLoop(ctx, s.navLn, s.serveNav)
	go s.acceptLoop(ctx, s.videoLn, s.serveVideo)

	<-ctx.Done()

	s.navLn.Close()
	s.videoLn.Close()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Simulator stopped")
	return nil
}

// Stats returns the simulator counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections:  s.connections.Load(),
		TelemetryOut: s.telemetryOut.Load(),
		CommandsIn:   s.commandsIn.Load(),
		BadCommands:  s.badCommands.Load(),
		FramesOut:    s.framesOut.Load(),
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, serve func(context.Context, net.Conn)) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.WithError(err).Warn("Accept failed")
			}
			return
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		s.connections.Add(1)
		s.logger.WithField("remote", conn.RemoteAddr().String()).Info("App connected")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			serve(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// serveNav streams telemetry and applies each command received in reply.
func (s *Server) serveNav(ctx context.Context, conn net.Conn) {
	s.drone.Connected()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		s.readCommands(conn)
	}()

	ticker := time.NewTicker(s.config.TelemetryInterval)
	defer ticker.Stop()

	for {
		data, err := protocol.EncodeTelemetry(s.drone.Telemetry())
		if err != nil {
			s.logger.WithError(err).Error("Failed to encode telemetry")
		} else if _, err := conn.Write(data); err != nil {
			s.logger.WithError(err).Debug("Nav connection closed")
			return
		} else {
			s.telemetryOut.Add(1)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) readCommands(conn net.Conn) {
	decoder := protocol.NewDecoder(protocol.NavFraming, s.logger)
	buf := make([]byte, 4096)

	for {
		n, err := conn.Read(buf)
		for _, frame := range decoder.Decode(buf[:n]) {
			cmd, decErr := protocol.DecodeCommand(frame)
			if decErr != nil {
				s.badCommands.Add(1)
				s.logger.WithError(decErr).Debug("Dropping corrupt command")
				continue
			}
			s.commandsIn.Add(1)
			s.drone.HandleCommand(cmd)
		}
		if err != nil {
			return
		}
	}
}

// serveVideo streams synthetic camera frames.
func (s *Server) serveVideo(ctx context.Context, conn net.Conn) {
	ticker := time.NewTicker(s.config.FrameInterval)
	defer ticker.Stop()

	var seq int
	for {
		img := s.renderFrame(seq)
		seq++

		data, err := protocol.EncodeVideoFrame(s.config.VideoFormat, img)
		if err != nil {
			s.logger.WithError(err).Error("Failed to encode video frame")
			return
		}
		if _, err := conn.Write(data); err != nil {
			s.logger.WithError(err).Debug("Video connection closed")
			return
		}
		s.framesOut.Add(1)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// renderFrame draws a gradient with a marker sweeping across it. The bottom
// camera is tinted green.
func (s *Server) renderFrame(seq int) image.Image {
	w, h := s.config.FrameWidth, s.config.FrameHeight
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	front := s.drone.FrontCamera()
	marker := seq % w

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 96, A: 255}
			if !front {
				c.R, c.G = c.R/3, 200
			}
			if x == marker {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
