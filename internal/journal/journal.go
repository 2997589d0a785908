package journal

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dronelink/internal/link"
	"dronelink/internal/protocol"
)

// Record types, first column of every line
const (
	RecordTelemetry = "TEL" // Telemetry frame
	RecordStatus    = "STA" // Link went online or offline
	RecordButton    = "BTN" // Operator pressed or released a button
)

// Record is one journal line before formatting.
type Record struct {
	Type      string
	SessionID string
	Logged    time.Time
	Fields    []string
}

// Writer appends telemetry records as CSV lines, one per call.
type Writer struct {
	out       io.Writer
	sessionID string
	logger    *logrus.Logger
	now       func() time.Time

	mu      sync.Mutex
	written uint64
}

// NewWriter creates a journal writer tagging every line with sessionID.
func NewWriter(out io.Writer, sessionID string, logger *logrus.Logger) *Writer {
	return &Writer{
		out:       out,
		sessionID: sessionID,
		logger:    logger,
		now:       time.Now,
	}
}

// WriteTelemetry records one decoded telemetry frame.
func (w *Writer) WriteTelemetry(state link.DroneState) error {
	t := state.Telemetry
	return w.write(Record{
		Type:      RecordTelemetry,
		SessionID: w.sessionID,
		Logged:    w.now(),
		Fields: []string{
			strconv.Itoa(int(t.Status)),
			strconv.Itoa(t.Battery),
			formatFloat(t.Velocity, 2),
			formatFloat(t.Altitude, 2),
			strconv.Itoa(int(t.ErrorCode)),
			formatFloat(t.Latitude, 6),
			formatFloat(t.Longitude, 6),
			strconv.FormatBool(state.Flying),
		},
	})
}

// WriteStatus records a link status change.
func (w *Writer) WriteStatus(online bool) error {
	status := "offline"
	if online {
		status = "online"
	}
	return w.write(Record{
		Type:      RecordStatus,
		SessionID: w.sessionID,
		Logged:    w.now(),
		Fields:    []string{status},
	})
}

// WriteButton records an operator gesture.
func (w *Writer) WriteButton(b protocol.Button, pressed bool) error {
	action := "release"
	if pressed {
		action = "press"
	}
	return w.write(Record{
		Type:      RecordButton,
		SessionID: w.sessionID,
		Logged:    w.now(),
		Fields:    []string{strconv.Itoa(int(b)), b.String(), action},
	})
}

// Written returns the number of lines written.
func (w *Writer) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *Writer) write(r Record) error {
	line := FormatCSV(r) + "\n"

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := io.WriteString(w.out, line); err != nil {
		return fmt.Errorf("failed to write journal record: %w", err)
	}
	w.written++
	return nil
}

// FormatCSV renders a record as type,session,date,time,fields...
func FormatCSV(r Record) string {
	fields := make([]string, 0, 4+len(r.Fields))
	fields = append(fields,
		r.Type,
		r.SessionID,
		r.Logged.Format("2006/01/02"),
		r.Logged.Format("15:04:05.000"),
	)
	for _, f := range r.Fields {
		fields = append(fields, strings.ReplaceAll(f, ",", " "))
	}
	return strings.Join(fields, ",")
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
