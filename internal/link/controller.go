package link

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"dronelink/internal/protocol"
)

// StatusListener consumes decoded drone state. Callbacks run on channel read
// goroutines; they must not block for long or call Disconnect.
type StatusListener interface {
	OnOnlineStatus(online bool)
	OnTelemetry(state DroneState)
	OnVideoFrame(img image.Image)
}

// CommandSource supplies the non-button part of the next command on each pull.
// The Button field of the returned frame is ignored.
type CommandSource interface {
	OnCommandRequested() protocol.CommandFrame
}

// CommandSourceFunc adapts a function to CommandSource.
type CommandSourceFunc func() protocol.CommandFrame

// OnCommandRequested calls f.
func (f CommandSourceFunc) OnCommandRequested() protocol.CommandFrame { return f() }

// Config configures a Controller.
type Config struct {
	Host         string
	VideoPort    int
	NavPort      int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	HoldInterval time.Duration
	Dialer       Dialer
	Clock        Clock
}

// DefaultConfig returns the stock endpoint layout for host.
func DefaultConfig(host string) Config {
	return Config{
		Host:         host,
		VideoPort:    DefaultVideoPort,
		NavPort:      DefaultNavPort,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Second,
		HoldInterval: DefaultHoldInterval,
	}
}

// Stats is a snapshot of controller counters.
type Stats struct {
	Nav             ChannelStats
	Video           ChannelStats
	CommandsSent    uint64
	CommandsDropped uint64
	Emissions       uint64
}

// Controller composes the nav and video channels, the dispatcher and the state store.
type Controller struct {
	config     Config
	logger     *logrus.Logger
	listener   StatusListener
	source     CommandSource
	nav        *Channel
	video      *Channel
	dispatcher *Dispatcher
	store      *StateStore

	commandsSent    atomic.Uint64
	commandsDropped atomic.Uint64
}

// NewController creates a disconnected controller. A nil listener or source
// is replaced by a no-op.
func NewController(config Config, listener StatusListener, source CommandSource, logger *logrus.Logger) *Controller {
	if listener == nil {
		listener = NopListener{}
	}
	if source == nil {
		source = CommandSourceFunc(func() protocol.CommandFrame {
			return protocol.CommandFrame{FlyMode: protocol.FlyModeManual}
		})
	}

	c := &Controller{
		config:     config,
		logger:     logger,
		listener:   listener,
		source:     source,
		dispatcher: NewDispatcher(config.HoldInterval, config.Clock, logger),
		store:      NewStateStore(),
	}

	channelConfig := ChannelConfig{
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		Dialer:       config.Dialer,
	}

	c.nav = NewChannel(
		Endpoint{Host: config.Host, Port: config.NavPort, Kind: KindNav},
		c.handleNav, c.onNavStatus, channelConfig, logger,
	)
	c.video = NewChannel(
		Endpoint{Host: config.Host, Port: config.VideoPort, Kind: KindVideo},
		c.handleVideo, c.onVideoStatus, channelConfig, logger,
	)
	return c
}

// Connect opens both channels. Only a nav failure is returned; the video
// channel does not gate the link.
func (c *Controller) Connect(ctx context.Context) error {
	navErr := c.nav.Connect(ctx)

	if err := c.video.Connect(ctx); err != nil {
		c.logger.WithError(err).Warn("Video channel unavailable")
	}

	if navErr != nil {
		return fmt.Errorf("failed to connect nav channel: %w", navErr)
	}
	return nil
}

// Disconnect releases every hold, closes both channels and forgets the drone state.
func (c *Controller) Disconnect() {
	c.dispatcher.ReleaseAll()
	c.nav.Disconnect()
	c.video.Disconnect()
	c.store.Reset()
}

// IsOnline reports whether the nav channel is Online.
func (c *Controller) IsOnline() bool {
	return c.nav.State() == Online
}

// PressButton starts holding b.
func (c *Controller) PressButton(b protocol.Button) error {
	return c.dispatcher.Press(b)
}

// ReleaseButton stops holding b.
func (c *Controller) ReleaseButton(b protocol.Button) {
	c.dispatcher.Release(b)
}

// State returns the latest drone state.
func (c *Controller) State() DroneState {
	return c.store.Snapshot()
}

// Stats returns channel and command counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Nav:             c.nav.Stats(),
		Video:           c.video.Stats(),
		CommandsSent:    c.commandsSent.Load(),
		CommandsDropped: c.commandsDropped.Load(),
		Emissions:       c.dispatcher.Emitted(),
	}
}

// handleNav decodes a telemetry frame and answers with the next command.
// Every framed request gets a reply, corrupt or not, so the drone never stalls.
func (c *Controller) handleNav(frame []byte) error {
	t, err := protocol.DecodeTelemetry(frame)
	if err == nil {
		state := c.store.Update(t, time.Now())

		c.logger.WithFields(logrus.Fields{
			"status":  t.Status,
			"battery": t.Battery,
			"flying":  state.Flying,
		}).Debug("Telemetry received")

		c.listener.OnTelemetry(state)
	}

	c.sendCommand()
	return err
}

func (c *Controller) sendCommand() {
	cmd := c.source.OnCommandRequested()
	cmd.Button = c.dispatcher.Pull()

	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		c.commandsDropped.Add(1)
		c.logger.WithError(err).Error("Dropping command")
		return
	}

	if err := c.nav.Write(data); err != nil {
		c.commandsDropped.Add(1)
		c.logger.WithError(err).Warn("Failed to send command")
		return
	}
	c.commandsSent.Add(1)

	if cmd.Button != protocol.ButtonNone {
		c.logger.WithFields(logrus.Fields{
			"button":   cmd.Button,
			"fly_mode": cmd.FlyMode,
		}).Debug("Command sent")
	}
}

func (c *Controller) handleVideo(frame []byte) error {
	img, err := protocol.DecodeVideoFrame(frame)
	if err != nil {
		return err
	}
	c.listener.OnVideoFrame(img)
	return nil
}

func (c *Controller) onNavStatus(online bool) {
	c.logger.WithField("online", online).Info("Link status changed")
	c.listener.OnOnlineStatus(online)
}

func (c *Controller) onVideoStatus(online bool) {
	c.logger.WithField("online", online).Debug("Video status changed")
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) OnOnlineStatus(bool)      {}
func (NopListener) OnTelemetry(DroneState)   {}
func (NopListener) OnVideoFrame(image.Image) {}
