package link

import (
	"sync"
	"time"

	"dronelink/internal/protocol"
)

// DroneState is the application-visible view of the drone.
type DroneState struct {
	Telemetry protocol.TelemetryFrame
	Flying    bool
	Updates   uint64
	UpdatedAt time.Time
}

// LowBattery reports whether the drone is at or below the landing threshold.
func (s DroneState) LowBattery() bool {
	return s.Updates > 0 && s.Telemetry.Battery <= LowBatteryThreshold
}

// LowBatteryThreshold is the battery level at which the drone lands on its own.
const LowBatteryThreshold = 20

// StateStore holds the latest telemetry. The nav channel is its only writer.
type StateStore struct {
	mu    sync.RWMutex
	state DroneState
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{}
}

// Update replaces the telemetry and recomputes Flying:
// true on status Ready -> Flying or above, false on Flying or above -> Ready.
func (s *StateStore) Update(t protocol.TelemetryFrame, at time.Time) DroneState {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.Telemetry.Status
	if t.Status != prev {
		switch {
		case prev == protocol.StatusReady && t.Status >= protocol.StatusFlying:
			s.state.Flying = true
		case prev >= protocol.StatusFlying && t.Status == protocol.StatusReady:
			s.state.Flying = false
		}
	}

	s.state.Telemetry = t
	s.state.Updates++
	s.state.UpdatedAt = at
	return s.state
}

// Snapshot returns a copy of the current state.
func (s *StateStore) Snapshot() DroneState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Reset forgets all telemetry.
func (s *StateStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = DroneState{}
}
