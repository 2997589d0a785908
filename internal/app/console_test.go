package app

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronelink/internal/link"
	"dronelink/internal/protocol"
	"dronelink/internal/snapshot"
)

type fakeControl struct {
	mu          sync.Mutex
	online      bool
	connectErr  error
	connects    int
	disconnects int
	pressed     []protocol.Button
	released    []protocol.Button
	state       link.DroneState
	stats       link.Stats
}

func (f *fakeControl) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.online = true
	return nil
}

func (f *fakeControl) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.online = false
}

func (f *fakeControl) IsOnline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeControl) PressButton(b protocol.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pressed = append(f.pressed, b)
	return nil
}

func (f *fakeControl) ReleaseButton(b protocol.Button) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, b)
}

func (f *fakeControl) State() link.DroneState { return f.state }
func (f *fakeControl) Stats() link.Stats      { return f.stats }

type buttonLog struct {
	b       protocol.Button
	pressed bool
}

func newTestConsole(t *testing.T) (*Console, *fakeControl, *bytes.Buffer, *[]buttonLog) {
	t.Helper()

	control := &fakeControl{}
	out := &bytes.Buffer{}
	var events []buttonLog

	config := DefaultConfig()
	c := &Console{
		control:     control,
		operator:    NewOperator(config),
		snapshotter: snapshot.New(t.TempDir(), quietLogger()),
		onButton: func(b protocol.Button, pressed bool) {
			events = append(events, buttonLog{b, pressed})
		},
		out: out,
	}
	return c, control, out, &events
}

func TestParseButton(t *testing.T) {
	tests := []struct {
		input    string
		expected protocol.Button
		wantErr  bool
	}{
		{"1", protocol.ButtonLaunchLand, false},
		{"12", protocol.ButtonReturnToBase, false},
		{"launch/land", protocol.ButtonLaunchLand, false},
		{"Switch-Camera", protocol.ButtonSwitchCamera, false},
		{"up", protocol.ButtonUp, false},
		{"0", 0, true},
		{"13", 0, true},
		{"-1", 0, true},
		{"none", 0, true},
		{"hover", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			b, err := ParseButton(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, b)
		})
	}
}

func TestConsole_Buttons(t *testing.T) {
	c, control, _, events := newTestConsole(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "press up"))
	require.NoError(t, c.Execute(ctx, "release 3"))
	require.NoError(t, c.Execute(ctx, "tap launch/land"))

	assert.Equal(t, []protocol.Button{protocol.ButtonUp, protocol.ButtonLaunchLand}, control.pressed)
	assert.Equal(t, []protocol.Button{protocol.ButtonUp, protocol.ButtonLaunchLand}, control.released)
	assert.Equal(t, []buttonLog{
		{protocol.ButtonUp, true},
		{protocol.ButtonUp, false},
		{protocol.ButtonLaunchLand, true},
		{protocol.ButtonLaunchLand, false},
	}, *events)

	assert.Error(t, c.Execute(ctx, "press"))
	assert.Error(t, c.Execute(ctx, "press 99"))
	assert.Len(t, control.pressed, 2)
}

func TestConsole_OperatorCommands(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
		check   func(t *testing.T, o *Operator)
	}{
		{
			name: "fly mode",
			line: "mode 5",
			check: func(t *testing.T, o *Operator) {
				assert.Equal(t, protocol.FlyModeTrail, o.FlyMode())
			},
		},
		{name: "unknown fly mode", line: "mode 9", wantErr: true},
		{name: "non-numeric fly mode", line: "mode fast", wantErr: true},
		{
			name: "follow on",
			line: "follow on",
			check: func(t *testing.T, o *Operator) {
				assert.Equal(t, protocol.FlyModeFollow, o.FlyMode())
			},
		},
		{name: "follow without argument", line: "follow", wantErr: true},
		{
			name: "velocity",
			line: "velocity 7.5",
			check: func(t *testing.T, o *Operator) {
				assert.Equal(t, 7.5, o.OnCommandRequested().Velocity)
			},
		},
		{name: "negative velocity", line: "velocity -1", wantErr: true},
		{
			name: "position",
			line: "pos 48.8584 2.2945",
			check: func(t *testing.T, o *Operator) {
				cmd := o.OnCommandRequested()
				assert.Equal(t, 48.8584, cmd.Latitude)
				assert.Equal(t, 2.2945, cmd.Longitude)
			},
		},
		{name: "latitude out of range", line: "pos 91 0", wantErr: true},
		{name: "bad longitude", line: "pos 1 east", wantErr: true},
		{name: "unknown command", line: "hover", wantErr: true},
		{name: "blank line", line: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _, _ := newTestConsole(t)

			err := c.Execute(context.Background(), tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, c.operator)
			}
		})
	}
}

func TestConsole_ConnectDisconnect(t *testing.T) {
	c, control, out, _ := newTestConsole(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "connect"))
	assert.True(t, control.IsOnline())
	require.NoError(t, c.Execute(ctx, "disconnect"))
	assert.False(t, control.IsOnline())
	assert.Equal(t, "connected\ndisconnected\n", out.String())

	control.connectErr = errors.New("no route to drone")
	err := c.Execute(ctx, "connect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no route to drone")
	assert.Equal(t, 2, control.connects)
}

func TestConsole_Status(t *testing.T) {
	c, control, out, _ := newTestConsole(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "status"))
	assert.Equal(t, "link: offline\n", out.String())

	control.online = true
	control.state = link.DroneState{
		Telemetry: protocol.TelemetryFrame{
			Status:    protocol.StatusError,
			Battery:   12,
			ErrorCode: protocol.ErrorLowBattery,
			Latitude:  48.8584,
			Longitude: 2.2945,
		},
		Updates:   4,
		UpdatedAt: time.Now(),
	}
	control.stats.Video.Frames = 1234
	require.NoError(t, c.operator.SetPosition(48.8600, 2.2945))

	out.Reset()
	require.NoError(t, c.Execute(ctx, "status"))

	text := out.String()
	assert.Contains(t, text, "link: online")
	assert.Contains(t, text, "status: Error  battery: 12%  flying: false")
	assert.Contains(t, text, "error: Low battery")
	assert.Contains(t, text, "distance: 177 m")
	assert.Contains(t, text, "frames: 1,234")
	assert.Contains(t, text, "warning: low battery")
}

func TestConsole_Snap(t *testing.T) {
	c, _, out, _ := newTestConsole(t)
	ctx := context.Background()

	err := c.Execute(ctx, "snap")
	require.Error(t, err)
	assert.True(t, errors.Is(err, snapshot.ErrNoFrame))

	c.snapshotter.Update(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.NoError(t, c.Execute(ctx, "snap"))

	saved := strings.TrimSpace(strings.TrimPrefix(out.String(), "saved "))
	assert.Equal(t, ".jpg", filepath.Ext(saved))
	assert.FileExists(t, saved)
}

func TestConsole_Run(t *testing.T) {
	c, control, out, _ := newTestConsole(t)

	quit := c.Run(context.Background(), strings.NewReader("help\nbogus\npress 4\nquit\npress 5\n"))

	assert.True(t, quit)
	assert.Contains(t, out.String(), "commands:")
	assert.Contains(t, out.String(), `error: unknown command "bogus"`)
	assert.Equal(t, []protocol.Button{protocol.ButtonDown}, control.pressed)
}

func TestConsole_RunEndsOnEOF(t *testing.T) {
	c, _, _, _ := newTestConsole(t)
	assert.False(t, c.Run(context.Background(), strings.NewReader("status\n")))
}

func TestConsole_RunEndsOnCancel(t *testing.T) {
	c, _, _, _ := newTestConsole(t)

	ctx, cancel := context.WithCancel(context.Background())
	reader, writer := io.Pipe()
	defer writer.Close()

	done := make(chan bool)
	go func() { done <- c.Run(ctx, reader) }()

	cancel()
	select {
	case quit := <-done:
		assert.False(t, quit)
	case <-time.After(time.Second):
		t.Fatal("console did not stop on cancel")
	}
}
