package protocol

import "fmt"

// DecodeError reports a single malformed frame. The stream it came from is still usable.
type DecodeError struct {
	Frame  string // "telemetry", "command" or "video"
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s frame: %s: %v", e.Frame, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s frame: %s", e.Frame, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a frame whose values cannot be put on the wire.
type EncodeError struct {
	Frame string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s frame: %v", e.Frame, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func decodeErr(frame, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Frame: frame, Reason: fmt.Sprintf(format, args...)}
}
