package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"dronelink/internal/link"
	"dronelink/internal/protocol"
	"dronelink/internal/snapshot"
)

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// linkControl is the part of *link.Controller the console drives.
type linkControl interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsOnline() bool
	PressButton(b protocol.Button) error
	ReleaseButton(b protocol.Button)
	State() link.DroneState
	Stats() link.Stats
}

// Console turns text commands into link control calls.
type Console struct {
	control     linkControl
	operator    *Operator
	snapshotter *snapshot.Snapshotter
	onButton    func(b protocol.Button, pressed bool)
	out         io.Writer
}

const consoleHelp = `commands:
  press N | release N | tap N   hold, let go, or tap button N (number or name)
  mode N                        fly mode 3-6
  follow on|off                 toggle follow mode
  velocity V                    requested velocity
  pos LAT LON                   operator position
  snap                          save the current video frame
  status                        show drone state
  connect | disconnect          open or close the link
  quit                          exit`

// Run reads commands line by line until EOF, quit, or ctx is cancelled.
// It returns true when the operator asked to quit.
func (c *Console) Run(ctx context.Context, in io.Reader) bool {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				return false
			}
			err := c.Execute(ctx, line)
			if errors.Is(err, errQuit) {
				return true
			}
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "press", "release", "tap":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s BUTTON", cmd)
		}
		b, err := ParseButton(args[0])
		if err != nil {
			return err
		}
		return c.button(cmd, b)

	case "mode":
		if len(args) != 1 {
			return fmt.Errorf("usage: mode N")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid fly mode %q", args[0])
		}
		if err := c.operator.SetFlyMode(protocol.FlyMode(n)); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "fly mode: %s\n", protocol.FlyMode(n))

	case "follow":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return fmt.Errorf("usage: follow on|off")
		}
		mode := c.operator.Follow(args[0] == "on")
		fmt.Fprintf(c.out, "fly mode: %s\n", mode)

	case "velocity":
		if len(args) != 1 {
			return fmt.Errorf("usage: velocity V")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid velocity %q", args[0])
		}
		return c.operator.SetVelocity(v)

	case "pos":
		if len(args) != 2 {
			return fmt.Errorf("usage: pos LAT LON")
		}
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid latitude %q", args[0])
		}
		lon, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid longitude %q", args[1])
		}
		return c.operator.SetPosition(lat, lon)

	case "snap":
		path, err := c.snapshotter.Save()
		if err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		fmt.Fprintf(c.out, "saved %s\n", path)

	case "status":
		c.printStatus()

	case "connect":
		if err := c.control.Connect(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "connected")

	case "disconnect":
		c.control.Disconnect()
		fmt.Fprintln(c.out, "disconnected")

	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)

	case "quit", "exit":
		return errQuit

	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (c *Console) button(cmd string, b protocol.Button) error {
	switch cmd {
	case "press", "tap":
		if err := c.control.PressButton(b); err != nil {
			return err
		}
		c.notifyButton(b, true)
		if cmd == "press" {
			return nil
		}
		fallthrough
	case "release":
		c.control.ReleaseButton(b)
		c.notifyButton(b, false)
	}
	return nil
}

func (c *Console) notifyButton(b protocol.Button, pressed bool) {
	if c.onButton != nil {
		c.onButton(b, pressed)
	}
}

func (c *Console) printStatus() {
	if !c.control.IsOnline() {
		fmt.Fprintln(c.out, "link: offline")
		return
	}

	state := c.control.State()
	t := state.Telemetry
	stats := c.control.Stats()

	fmt.Fprintln(c.out, "link: online")
	fmt.Fprintf(c.out, "status: %s  battery: %d%%  flying: %t\n", t.Status, t.Battery, state.Flying)
	if t.Status == protocol.StatusError {
		fmt.Fprintf(c.out, "error: %s\n", t.ErrorCode)
	}
	fmt.Fprintf(c.out, "velocity: %.1f  altitude: %.1f\n", t.Velocity, t.Altitude)

	fmt.Fprintf(c.out, "position: %.6f, %.6f", t.Latitude, t.Longitude)
	if d, ok := c.operator.DistanceTo(t.Latitude, t.Longitude); ok {
		fmt.Fprintf(c.out, "  distance: %s m", humanize.Commaf(float64(int(d))))
	}
	fmt.Fprintln(c.out)

	fmt.Fprintf(c.out, "fly mode: %s  frames: %s", c.operator.FlyMode(), humanize.Comma(int64(stats.Video.Frames)))
	if !state.UpdatedAt.IsZero() {
		fmt.Fprintf(c.out, "  updated: %s", humanize.Time(state.UpdatedAt))
	}
	fmt.Fprintln(c.out)

	if state.LowBattery() {
		fmt.Fprintln(c.out, "warning: low battery")
	}
}

// ParseButton accepts a button code or its name.
func ParseButton(s string) (protocol.Button, error) {
	if n, err := strconv.Atoi(s); err == nil {
		b := protocol.Button(n)
		if b == protocol.ButtonNone || !b.Valid() {
			return 0, fmt.Errorf("button %d out of range 1-%d", n, protocol.ButtonMax)
		}
		return b, nil
	}

	name := strings.ToLower(s)
	for b := protocol.ButtonLaunchLand; b <= protocol.ButtonMax; b++ {
		if b.String() == name {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown button %q", s)
}
