package protocol

import (
	"fmt"
	"math"
)

// Nav frame layout (version 1, big-endian):
//
//	sync(1) | version(1) | kind(1) | count(1) | count x float64 | CRC-16(2)
const (
	NavSyncByte   = 0xD5 // Nav frame sync byte
	NavVersion    = 0x01 // Current nav schema version
	KindTelemetry = 0x01 // Drone -> app status frame
	KindCommand   = 0x02 // App -> drone control frame

	NavHeaderLen  = 4
	NavFieldCount = 7
	FieldSize     = 8
	CRCSize       = 2

	NavFrameLen = NavHeaderLen + NavFieldCount*FieldSize + CRCSize
)

// Status is the drone state machine position reported in telemetry.
type Status int

const (
	StatusOffline Status = iota
	StatusChecking
	StatusReady
	StatusFlying
	StatusLanding
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "Offline"
	case StatusChecking:
		return "Checking"
	case StatusReady:
		return "Ready To Fly"
	case StatusFlying:
		return "Flying"
	case StatusLanding:
		return "Landing"
	case StatusError:
		return "Error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ErrorCode qualifies StatusError.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorLowBattery
	ErrorEngineFL
	ErrorEngineFR
	ErrorEngineBL
	ErrorEngineBR
	ErrorCamera
	ErrorPower
	ErrorGPS
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "None"
	case ErrorLowBattery:
		return "Low battery"
	case ErrorEngineFL:
		return "FL Engine"
	case ErrorEngineFR:
		return "FR Engine"
	case ErrorEngineBL:
		return "BL Engine"
	case ErrorEngineBR:
		return "BR Engine"
	case ErrorCamera:
		return "Camera Failure"
	case ErrorPower:
		return "Power Failure"
	case ErrorGPS:
		return "GPS Failure"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(e))
	}
}

// FlyMode selects how the drone flies once launched.
type FlyMode int

const (
	FlyModeManual FlyMode = iota + 3
	FlyModeFollow
	FlyModeTrail
	FlyModeAbove
)

func (m FlyMode) String() string {
	switch m {
	case FlyModeManual:
		return "Manual"
	case FlyModeFollow:
		return "Following"
	case FlyModeTrail:
		return "Trailing"
	case FlyModeAbove:
		return "Above"
	default:
		return fmt.Sprintf("FlyMode(%d)", int(m))
	}
}

// Valid reports whether m is one of the known fly modes.
func (m FlyMode) Valid() bool {
	return m >= FlyModeManual && m <= FlyModeAbove
}

// Button is a control code carried in the first field of a command frame.
// ButtonNone is the neutral command.
type Button int

const (
	ButtonNone Button = iota
	ButtonLaunchLand
	ButtonEmergency
	ButtonUp
	ButtonDown
	ButtonLeft
	ButtonRight
	ButtonForward
	ButtonBackward
	ButtonRotateLeft
	ButtonRotateRight
	ButtonSwitchCamera
	ButtonReturnToBase
)

// ButtonMax is the highest button code the drone understands.
const ButtonMax = ButtonReturnToBase

var buttonNames = [...]string{
	"none", "launch/land", "emergency", "up", "down", "left", "right",
	"forward", "backward", "rotate-left", "rotate-right", "switch-camera", "return-to-base",
}

func (b Button) String() string {
	if b.Valid() {
		return buttonNames[b]
	}
	return fmt.Sprintf("Button(%d)", int(b))
}

// Valid reports whether b is within the protocol range.
func (b Button) Valid() bool {
	return b >= ButtonNone && b <= ButtonMax
}

// TelemetryFrame is a decoded drone status snapshot.
type TelemetryFrame struct {
	Status    Status
	Battery   int
	Velocity  float64
	Altitude  float64
	ErrorCode ErrorCode
	Latitude  float64
	Longitude float64
}

// Validate checks the frame against the protocol ranges.
func (t TelemetryFrame) Validate() error {
	switch {
	case t.Status < StatusOffline || t.Status > StatusError:
		return fmt.Errorf("status %d out of range", t.Status)
	case t.Battery < 0 || t.Battery > 100:
		return fmt.Errorf("battery %d out of range", t.Battery)
	case t.ErrorCode < ErrorNone || t.ErrorCode > ErrorGPS:
		return fmt.Errorf("error code %d out of range", t.ErrorCode)
	case !finite(t.Velocity), !finite(t.Altitude):
		return fmt.Errorf("non-finite velocity or altitude")
	}
	return validatePosition(t.Latitude, t.Longitude)
}

// CommandFrame is the control intent sent to the drone on each pull.
type CommandFrame struct {
	Button    Button
	FlyMode   FlyMode
	Velocity  float64
	Latitude  float64
	Longitude float64
	Reserved  [2]float64
}

// Validate checks the frame against the protocol ranges.
func (c CommandFrame) Validate() error {
	switch {
	case !c.Button.Valid():
		return fmt.Errorf("button %d out of range", c.Button)
	case !c.FlyMode.Valid():
		return fmt.Errorf("fly mode %d out of range", c.FlyMode)
	case !finite(c.Velocity) || c.Velocity < 0:
		return fmt.Errorf("invalid velocity %v", c.Velocity)
	case !finite(c.Reserved[0]), !finite(c.Reserved[1]):
		return fmt.Errorf("non-finite reserved field")
	}
	return validatePosition(c.Latitude, c.Longitude)
}

func validatePosition(lat, lon float64) error {
	if !finite(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if !finite(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range", lon)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
