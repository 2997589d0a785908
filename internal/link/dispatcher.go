package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dronelink/internal/protocol"
)

// DefaultHoldInterval is the repeat period of a held button.
const DefaultHoldInterval = 300 * time.Millisecond

// DispatcherState reports whether any button is held.
type DispatcherState int

const (
	Idle DispatcherState = iota
	Repeating
)

func (s DispatcherState) String() string {
	if s == Repeating {
		return "repeating"
	}
	return "idle"
}

type hold struct {
	button   protocol.Button
	seq      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	released bool
}

// Dispatcher turns press-and-hold gestures into a pending button value.
// The pending value is a single scalar: the most recently started active hold
// writes it, and Pull consumes it.
type Dispatcher struct {
	interval time.Duration
	clock    Clock
	logger   *logrus.Logger

	mu      sync.Mutex
	pending protocol.Button
	holds   map[protocol.Button]*hold
	seq     uint64
	emitted uint64
}

// NewDispatcher creates a dispatcher repeating held buttons every interval.
func NewDispatcher(interval time.Duration, clock Clock, logger *logrus.Logger) *Dispatcher {
	if interval <= 0 {
		interval = DefaultHoldInterval
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Dispatcher{
		interval: interval,
		clock:    clock,
		logger:   logger,
		holds:    make(map[protocol.Button]*hold),
	}
}

// Press starts a hold for b and emits it immediately. Pressing a held button is a no-op.
func (d *Dispatcher) Press(b protocol.Button) error {
	if b == protocol.ButtonNone || !b.Valid() {
		return fmt.Errorf("invalid button %d", b)
	}

	d.mu.Lock()
	if _, ok := d.holds[b]; ok {
		d.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.seq++
	h := &hold{
		button: b,
		seq:    d.seq,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	d.holds[b] = h
	d.emitLocked(h)
	ticker := d.clock.NewTicker(d.interval)
	d.mu.Unlock()

	d.logger.WithField("button", b).Debug("Button hold started")

	go d.repeat(ctx, h, ticker)
	return nil
}

// Release stops the hold for b and waits for its timer to exit.
// The pending value is left for the next pull.
func (d *Dispatcher) Release(b protocol.Button) {
	d.mu.Lock()
	h, ok := d.holds[b]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.holds, b)
	h.released = true
	h.cancel()
	d.mu.Unlock()

	<-h.done
	d.logger.WithField("button", b).Debug("Button hold released")
}

// ReleaseAll cancels every hold and clears the pending value.
func (d *Dispatcher) ReleaseAll() {
	d.mu.Lock()
	holds := make([]*hold, 0, len(d.holds))
	for b, h := range d.holds {
		h.released = true
		h.cancel()
		holds = append(holds, h)
		delete(d.holds, b)
	}
	d.pending = protocol.ButtonNone
	d.mu.Unlock()

	for _, h := range holds {
		<-h.done
	}
}

// Pull returns the pending button and resets it to ButtonNone.
func (d *Dispatcher) Pull() protocol.Button {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.pending
	d.pending = protocol.ButtonNone
	return b
}

// Pending returns the pending button without consuming it.
func (d *Dispatcher) Pending() protocol.Button {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// State returns Repeating while any button is held.
func (d *Dispatcher) State() DispatcherState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.holds) > 0 {
		return Repeating
	}
	return Idle
}

// Held reports whether b is currently held.
func (d *Dispatcher) Held(b protocol.Button) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.holds[b]
	return ok
}

// Emitted returns the number of emissions so far.
func (d *Dispatcher) Emitted() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emitted
}

func (d *Dispatcher) repeat(ctx context.Context, h *hold, ticker Ticker) {
	defer close(h.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			d.mu.Lock()
			if !h.released {
				d.emitLocked(h)
			}
			d.mu.Unlock()
		}
	}
}

// emitLocked writes h's button if h is the most recently started active hold.
func (d *Dispatcher) emitLocked(h *hold) {
	for _, other := range d.holds {
		if other.seq > h.seq {
			return
		}
	}
	d.pending = h.button
	d.emitted++
}
