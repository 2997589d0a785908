package link

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronelink/internal/protocol"
)

func TestStateStore_FlyingTransitions(t *testing.T) {
	const (
		off      = protocol.StatusOffline
		checking = protocol.StatusChecking
		ready    = protocol.StatusReady
		flying   = protocol.StatusFlying
		landing  = protocol.StatusLanding
		failed   = protocol.StatusError
	)

	tests := []struct {
		name     string
		statuses []protocol.Status
		flying   []bool
	}{
		{"Launch", []protocol.Status{ready, flying}, []bool{false, true}},
		{"Launch then land", []protocol.Status{ready, flying, landing, ready}, []bool{false, true, true, false}},
		{"Stays flying within regime", []protocol.Status{ready, flying, flying, landing, flying}, []bool{false, true, true, true, true}},
		{"Ready to error counts as airborne", []protocol.Status{ready, failed, ready}, []bool{false, true, false}},
		{"Straight to flying from offline", []protocol.Status{off, flying, landing}, []bool{false, false, false}},
		{"Checking in between is ignored", []protocol.Status{ready, flying, checking, ready}, []bool{false, true, true, true}},
		{"Repeated ready", []protocol.Status{ready, ready, ready}, []bool{false, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Len(t, tt.flying, len(tt.statuses))

			store := NewStateStore()
			for i, status := range tt.statuses {
				state := store.Update(protocol.TelemetryFrame{Status: status, Battery: 80}, time.Now())
				assert.Equal(t, tt.flying[i], state.Flying, "step %d (%s)", i, status)
				assert.Equal(t, uint64(i+1), state.Updates)
			}
		})
	}
}

func TestStateStore_WholesaleReplace(t *testing.T) {
	store := NewStateStore()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	store.Update(protocol.TelemetryFrame{Status: protocol.StatusReady, Battery: 90, Latitude: 10, Longitude: 20}, at)
	state := store.Update(protocol.TelemetryFrame{Status: protocol.StatusReady, Battery: 89}, at.Add(time.Second))

	assert.Equal(t, protocol.TelemetryFrame{Status: protocol.StatusReady, Battery: 89}, state.Telemetry)
	assert.Equal(t, at.Add(time.Second), store.Snapshot().UpdatedAt)

	store.Reset()
	assert.Equal(t, DroneState{}, store.Snapshot())
}

func TestStateStore_LowBattery(t *testing.T) {
	store := NewStateStore()
	assert.False(t, store.Snapshot().LowBattery())

	assert.False(t, store.Update(protocol.TelemetryFrame{Battery: 21}, time.Now()).LowBattery())
	assert.True(t, store.Update(protocol.TelemetryFrame{Battery: 20}, time.Now()).LowBattery())
}

func TestStateStore_ConcurrentReaders(t *testing.T) {
	store := NewStateStore()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := store.Snapshot()
				// Writer always sets Battery == Latitude
				assert.Equal(t, float64(s.Telemetry.Battery), s.Telemetry.Latitude)
			}
		}()
	}

	for i := 0; i <= 100; i++ {
		store.Update(protocol.TelemetryFrame{Battery: i, Latitude: float64(i)}, time.Now())
	}
	close(stop)
	wg.Wait()
}
