package sim

import (
	"math"
	"sync"

	geo "github.com/kellydunn/golang-geo"
	"github.com/sirupsen/logrus"

	"dronelink/internal/protocol"
)

// Simulated drone limits
const (
	LowBattery      = 20
	LaunchCost      = 5
	MoveCost        = 1
	DefaultVelocity = 3
	DefaultHeading  = 90
)

// DroneConfig is the initial state of a simulated drone.
type DroneConfig struct {
	Latitude  float64
	Longitude float64
	Battery   int
	Velocity  float64
	Heading   float64
}

// DefaultDroneConfig returns a full battery parked at the origin.
func DefaultDroneConfig() DroneConfig {
	return DroneConfig{
		Battery:  100,
		Velocity: DefaultVelocity,
		Heading:  DefaultHeading,
	}
}

// Drone is the firmware state machine answering command frames.
type Drone struct {
	logger *logrus.Logger

	mu          sync.Mutex
	status      protocol.Status
	errorCode   protocol.ErrorCode
	flyMode     protocol.FlyMode
	battery     int
	velocity    float64
	altitude    float64
	heading     float64
	flying      bool
	frontCamera bool
	position    *geo.Point
	home        *geo.Point
	operator    *geo.Point
	moves       uint64
}

// NewDrone creates an offline drone from config.
func NewDrone(config DroneConfig, logger *logrus.Logger) *Drone {
	if config.Velocity <= 0 {
		config.Velocity = DefaultVelocity
	}

	return &Drone{
		logger:      logger,
		status:      protocol.StatusOffline,
		flyMode:     protocol.FlyModeManual,
		battery:     clampBattery(config.Battery),
		velocity:    config.Velocity,
		heading:     normalizeHeading(config.Heading),
		frontCamera: true,
		position:    geo.NewPoint(config.Latitude, config.Longitude),
		home:        geo.NewPoint(config.Latitude, config.Longitude),
	}
}

// Connected runs the preflight check when the app connects.
func (d *Drone) Connected() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkLocked()
}

// Telemetry returns the current telemetry frame.
func (d *Drone) Telemetry() protocol.TelemetryFrame {
	d.mu.Lock()
	defer d.mu.Unlock()

	return protocol.TelemetryFrame{
		Status:    d.status,
		Battery:   d.battery,
		Velocity:  d.velocity,
		Altitude:  d.altitude,
		ErrorCode: d.errorCode,
		Latitude:  d.position.Lat(),
		Longitude: d.position.Lng(),
	}
}

// Flying reports whether the drone is airborne.
func (d *Drone) Flying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flying
}

// FrontCamera reports which camera feeds the video channel.
func (d *Drone) FrontCamera() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frontCamera
}

// Heading returns the compass bearing in degrees.
func (d *Drone) Heading() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heading
}

// OperatorDistance returns the great-circle distance to the operator in metres,
// or -1 before the app reported a position.
func (d *Drone) OperatorDistance() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.operator == nil {
		return -1
	}
	return d.position.GreatCircleDistance(d.operator) * 1000
}

// HandleCommand applies one command frame from the app.
func (d *Drone) HandleCommand(cmd protocol.CommandFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cmd.Latitude != 0 || cmd.Longitude != 0 {
		d.operator = geo.NewPoint(cmd.Latitude, cmd.Longitude)
	}
	if cmd.Velocity > 0 {
		d.velocity = cmd.Velocity
	}

	if cmd.FlyMode.Valid() && cmd.FlyMode != d.flyMode {
		d.flyMode = cmd.FlyMode
		d.logger.WithField("fly_mode", d.flyMode).Info("Switched fly mode")
	}

	if cmd.Button != protocol.ButtonNone {
		d.handleButtonLocked(cmd.Button)
	}

	if d.flying && d.flyMode != protocol.FlyModeManual {
		d.followLocked()
	}
}

func (d *Drone) handleButtonLocked(b protocol.Button) {
	if d.flying && d.battery <= LowBattery {
		d.logger.WithField("battery", d.battery).Warn("Battery low, forcing landing")
		d.landLocked()
	}

	if d.status == protocol.StatusError {
		return
	}

	switch {
	case b == protocol.ButtonLaunchLand:
		if d.flying {
			d.landLocked()
		} else {
			d.launchLocked()
		}
	case b == protocol.ButtonEmergency && d.flying:
		d.logger.Info("Emergency landing")
		d.status = protocol.StatusChecking
		d.checkLocked()
		d.flying = false
		d.altitude = 0
		d.status = protocol.StatusReady
	case b >= protocol.ButtonUp && b <= protocol.ButtonRotateRight && d.flying:
		d.moveLocked(b)
	case b == protocol.ButtonSwitchCamera:
		d.frontCamera = !d.frontCamera
		d.logger.WithField("front", d.frontCamera).Info("Switched camera")
	case b == protocol.ButtonReturnToBase && d.flying:
		d.logger.Info("Returning to base")
		d.position = geo.NewPoint(d.home.Lat(), d.home.Lng())
		d.flying = false
		d.altitude = 0
		d.status = protocol.StatusReady
	}
}

func (d *Drone) launchLocked() {
	d.status = protocol.StatusFlying
	d.flying = true
	d.battery = clampBattery(d.battery - LaunchCost)

	d.logger.WithFields(logrus.Fields{
		"fly_mode": d.flyMode,
		"battery":  d.battery,
	}).Info("Launched")
}

func (d *Drone) landLocked() {
	d.flying = false
	d.altitude = 0
	d.logger.Info("Landed")
	d.checkLocked()
}

// checkLocked is the preflight check: Error with a low battery, Ready otherwise.
func (d *Drone) checkLocked() {
	d.status = protocol.StatusChecking

	if d.battery <= LowBattery {
		d.status = protocol.StatusError
		d.errorCode = protocol.ErrorLowBattery
		d.logger.WithField("battery", d.battery).Warn("Check failed: low battery")
		return
	}

	d.status = protocol.StatusReady
	d.logger.Debug("Check passed")
}

func (d *Drone) moveLocked(b protocol.Button) {
	v := d.velocity

	switch b {
	case protocol.ButtonUp:
		d.altitude += v
	case protocol.ButtonDown:
		d.altitude = math.Max(0, d.altitude-v)
	case protocol.ButtonLeft:
		d.travelLocked(d.heading - 90)
	case protocol.ButtonRight:
		d.travelLocked(d.heading + 90)
	case protocol.ButtonForward:
		d.travelLocked(d.heading)
	case protocol.ButtonBackward:
		d.travelLocked(d.heading + 180)
	case protocol.ButtonRotateLeft:
		d.heading = normalizeHeading(d.heading - v)
	case protocol.ButtonRotateRight:
		d.heading = normalizeHeading(d.heading + v)
	}

	d.battery = clampBattery(d.battery - MoveCost)
	d.moves++

	d.logger.WithFields(logrus.Fields{
		"button":   b,
		"lat":      d.position.Lat(),
		"lon":      d.position.Lng(),
		"altitude": d.altitude,
		"heading":  d.heading,
		"battery":  d.battery,
	}).Debug("Moved")
}

// travelLocked moves velocity metres along bearing.
func (d *Drone) travelLocked(bearing float64) {
	d.position = movePoint(d.position, d.velocity, bearing)
}

// followLocked closes in on the operator by at most velocity metres.
func (d *Drone) followLocked() {
	if d.operator == nil {
		return
	}

	distance := d.position.GreatCircleDistance(d.operator) * 1000
	if distance < 0.5 {
		return
	}

	step := math.Min(d.velocity, distance)
	bearing := d.position.BearingTo(d.operator)
	d.position = movePoint(d.position, step, bearing)
}

func movePoint(p *geo.Point, metres, bearing float64) *geo.Point {
	next := p.PointAtDistanceAndBearing(metres/1000, normalizeHeading(bearing))
	return geo.NewPoint(next.Lat(), normalizeLongitude(next.Lng()))
}

func normalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func normalizeLongitude(lon float64) float64 {
	return math.Mod(lon+540, 360) - 180
}

func clampBattery(b int) int {
	if b < 0 {
		return 0
	}
	if b > 100 {
		return 100
	}
	return b
}
