package journal

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronelink/internal/link"
	"dronelink/internal/logging"
	"dronelink/internal/protocol"
)

var fixedTime = time.Date(2024, 5, 1, 12, 30, 15, 250*int(time.Millisecond), time.UTC)

func newTestWriter(out io.Writer) *Writer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	w := NewWriter(out, "session-1", logger)
	w.now = func() time.Time { return fixedTime }
	return w
}

func TestWriter_Lines(t *testing.T) {
	tests := []struct {
		name     string
		write    func(w *Writer) error
		expected string
	}{
		{
			name: "Telemetry",
			write: func(w *Writer) error {
				return w.WriteTelemetry(link.DroneState{
					Telemetry: protocol.TelemetryFrame{
						Status:    protocol.StatusFlying,
						Battery:   75,
						Velocity:  3.5,
						Altitude:  12.25,
						ErrorCode: protocol.ErrorNone,
						Latitude:  48.858093,
						Longitude: 2.294694,
					},
					Flying: true,
				})
			},
			expected: "TEL,session-1,2024/05/01,12:30:15.250,3,75,3.50,12.25,0,48.858093,2.294694,true",
		},
		{
			name:     "Online",
			write:    func(w *Writer) error { return w.WriteStatus(true) },
			expected: "STA,session-1,2024/05/01,12:30:15.250,online",
		},
		{
			name:     "Offline",
			write:    func(w *Writer) error { return w.WriteStatus(false) },
			expected: "STA,session-1,2024/05/01,12:30:15.250,offline",
		},
		{
			name:     "Button press",
			write:    func(w *Writer) error { return w.WriteButton(protocol.ButtonLaunchLand, true) },
			expected: "BTN,session-1,2024/05/01,12:30:15.250,1," + protocol.ButtonLaunchLand.String() + ",press",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := newTestWriter(&buf)

			require.NoError(t, tt.write(w))
			assert.Equal(t, tt.expected+"\n", buf.String())
			assert.Equal(t, uint64(1), w.Written())
		})
	}
}

func TestFormatCSV_EscapesCommas(t *testing.T) {
	line := FormatCSV(Record{Type: RecordStatus, SessionID: "s", Logged: fixedTime, Fields: []string{"a,b"}})
	assert.Equal(t, 5, len(strings.Split(line, ",")))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriter_WriteError(t *testing.T) {
	w := newTestWriter(failingWriter{})

	err := w.WriteStatus(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, uint64(0), w.Written())
}

func TestWriter_IntoRotator(t *testing.T) {
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	rotator, err := logging.NewRotator(dir, "telemetry", true, logger)
	require.NoError(t, err)
	defer rotator.Close()

	w := NewWriter(rotator, "session-2", logger)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteTelemetry(link.DroneState{Telemetry: protocol.TelemetryFrame{Status: protocol.StatusReady, Battery: 90 - i}}))
	}

	files, err := filepath.Glob(filepath.Join(dir, "telemetry_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := os.ReadFile(files[0])
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "TEL,session-2,"), line)
	}
	assert.Contains(t, lines[2], ",2,88,")
}
