package app

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dronelink/internal/journal"
	"dronelink/internal/link"
	"dronelink/internal/protocol"
	"dronelink/internal/snapshot"
	"dronelink/internal/storage"
)

const recordQueueSize = 256

// recordJob is one write for the flight recorder worker.
type recordJob struct {
	state  *link.DroneState
	kind   string
	detail string
}

// droneListener fans link notifications out to the snapshotter, the journal
// and the flight recorder. Recorder writes are queued so SQLite never stalls
// the nav read loop.
type droneListener struct {
	logger      *logrus.Logger
	operator    *Operator
	snapshotter *snapshot.Snapshotter
	journal     *journal.Writer
	recorder    *storage.FlightRecorder
	sessionID   uuid.UUID

	records chan recordJob
	dropped atomic.Uint64

	mu         sync.Mutex
	lowBattery bool
	lastStatus protocol.Status
}

func newDroneListener(logger *logrus.Logger, operator *Operator, snapshotter *snapshot.Snapshotter,
	journalWriter *journal.Writer, recorder *storage.FlightRecorder, sessionID uuid.UUID) *droneListener {
	return &droneListener{
		logger:      logger,
		operator:    operator,
		snapshotter: snapshotter,
		journal:     journalWriter,
		recorder:    recorder,
		sessionID:   sessionID,
		records:     make(chan recordJob, recordQueueSize),
		lastStatus:  -1,
	}
}

func (l *droneListener) OnOnlineStatus(online bool) {
	if online {
		l.logger.Info("Drone online")
	} else {
		l.logger.Warn("Drone offline")
	}

	l.mu.Lock()
	l.lastStatus = -1
	l.lowBattery = false
	l.mu.Unlock()

	if l.journal != nil {
		if err := l.journal.WriteStatus(online); err != nil {
			l.logger.WithError(err).Warn("Failed to journal status")
		}
	}

	kind := storage.EventOffline
	if online {
		kind = storage.EventOnline
	}
	l.enqueue(recordJob{kind: kind})
}

func (l *droneListener) OnTelemetry(state link.DroneState) {
	t := state.Telemetry

	l.mu.Lock()
	statusChanged := t.Status != l.lastStatus
	l.lastStatus = t.Status
	batteryWarning := state.LowBattery() && !l.lowBattery
	l.lowBattery = state.LowBattery()
	l.mu.Unlock()

	if statusChanged {
		fields := logrus.Fields{
			"status":  t.Status,
			"flying":  state.Flying,
			"battery": t.Battery,
		}
		if t.Status == protocol.StatusError {
			fields["error"] = t.ErrorCode
		}
		if d, ok := l.operator.DistanceTo(t.Latitude, t.Longitude); ok {
			fields["distance_m"] = int(d)
		}
		l.logger.WithFields(fields).Info("Drone status changed")
	}
	if batteryWarning {
		l.logger.WithField("battery", t.Battery).Warn("Low battery")
	}

	if l.journal != nil {
		if err := l.journal.WriteTelemetry(state); err != nil {
			l.logger.WithError(err).Warn("Failed to journal telemetry")
		}
	}

	l.enqueue(recordJob{state: &state})
}

func (l *droneListener) OnVideoFrame(img image.Image) {
	l.snapshotter.Update(img)
}

// buttonEvent records an operator gesture.
func (l *droneListener) buttonEvent(b protocol.Button, pressed bool) {
	if l.journal != nil {
		if err := l.journal.WriteButton(b, pressed); err != nil {
			l.logger.WithError(err).Warn("Failed to journal button")
		}
	}

	kind := storage.EventRelease
	if pressed {
		kind = storage.EventPress
	}
	l.enqueue(recordJob{kind: kind, detail: b.String()})
}

func (l *droneListener) enqueue(job recordJob) {
	if l.recorder == nil {
		return
	}
	select {
	case l.records <- job:
	default:
		l.dropped.Add(1)
	}
}

// runRecorder drains the record queue until ctx is cancelled, then flushes
// what is left.
func (l *droneListener) runRecorder(ctx context.Context) {
	if l.recorder == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case job := <-l.records:
					l.store(context.Background(), job)
				default:
					return
				}
			}
		case job := <-l.records:
			l.store(ctx, job)
		}
	}
}

func (l *droneListener) store(ctx context.Context, job recordJob) {
	var err error
	if job.state != nil {
		_, err = l.recorder.StoreTelemetry(ctx, l.sessionID, *job.state)
	} else {
		err = l.recorder.StoreEvent(ctx, l.sessionID, job.kind, job.detail)
	}
	if err != nil {
		l.logger.WithError(err).Warn("Failed to record")
	}
}
