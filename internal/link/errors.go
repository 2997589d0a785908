package link

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOnline is returned when writing to a channel that is not Online.
	ErrNotOnline = errors.New("channel not online")
	// ErrAborted is returned by Connect when Disconnect interrupts the dial.
	ErrAborted = errors.New("connect aborted")
)

// TransportError is a socket-level failure. The channel is Disconnected afterwards.
type TransportError struct {
	Op       string
	Endpoint Endpoint
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s channel %s: %v", e.Op, e.Endpoint.Kind, e.Endpoint.Address(), e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
