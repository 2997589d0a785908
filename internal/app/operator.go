package app

import (
	"fmt"
	"math"
	"sync"

	geo "github.com/kellydunn/golang-geo"

	"dronelink/internal/protocol"
)

// Operator holds the operator-side command fields: fly mode, velocity and the
// operator's own position. It answers every command pull from the link.
type Operator struct {
	mu         sync.RWMutex
	flyMode    protocol.FlyMode
	followMode protocol.FlyMode
	velocity   float64
	latitude   float64
	longitude  float64
}

// NewOperator creates an operator from the configured defaults.
func NewOperator(config Config) *Operator {
	o := &Operator{
		flyMode:    protocol.FlyMode(config.FlyMode),
		followMode: protocol.FlyModeFollow,
		velocity:   config.Velocity,
		latitude:   config.Latitude,
		longitude:  config.Longitude,
	}
	if !o.flyMode.Valid() {
		o.flyMode = protocol.FlyModeManual
	}
	if o.flyMode != protocol.FlyModeManual {
		o.followMode = o.flyMode
	}
	return o
}

// OnCommandRequested returns the current non-button command fields.
func (o *Operator) OnCommandRequested() protocol.CommandFrame {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return protocol.CommandFrame{
		FlyMode:   o.flyMode,
		Velocity:  o.velocity,
		Latitude:  o.latitude,
		Longitude: o.longitude,
	}
}

// SetFlyMode selects a fly mode. A non-manual mode is remembered for Follow.
func (o *Operator) SetFlyMode(mode protocol.FlyMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown fly mode %d", mode)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.flyMode = mode
	if mode != protocol.FlyModeManual {
		o.followMode = mode
	}
	return nil
}

// Follow toggles between manual flight and the last autonomous mode.
func (o *Operator) Follow(on bool) protocol.FlyMode {
	o.mu.Lock()
	defer o.mu.Unlock()

	if on {
		o.flyMode = o.followMode
	} else {
		o.flyMode = protocol.FlyModeManual
	}
	return o.flyMode
}

// FlyMode returns the selected fly mode.
func (o *Operator) FlyMode() protocol.FlyMode {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.flyMode
}

// SetVelocity sets the requested velocity.
func (o *Operator) SetVelocity(v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid velocity %v", v)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.velocity = v
	return nil
}

// SetPosition updates the operator's own position.
func (o *Operator) SetPosition(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("position out of range: %v, %v", lat, lon)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.latitude, o.longitude = lat, lon
	return nil
}

// DistanceTo returns the great-circle distance in metres from the operator to
// the given point, and false while the operator position is unknown.
func (o *Operator) DistanceTo(lat, lon float64) (float64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.latitude == 0 && o.longitude == 0 {
		return 0, false
	}

	from := geo.NewPoint(o.latitude, o.longitude)
	return from.GreatCircleDistance(geo.NewPoint(lat, lon)) * 1000, true
}
