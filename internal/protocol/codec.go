package protocol

import (
	"encoding/binary"
	"math"
)

// EncodeCommand serializes a command frame in field order
// button, flyMode, velocity, latitude, longitude, reserved0, reserved1.
func EncodeCommand(c CommandFrame) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, &EncodeError{Frame: "command", Err: err}
	}
	return encodeNav(KindCommand, [NavFieldCount]float64{
		float64(c.Button),
		float64(c.FlyMode),
		c.Velocity,
		c.Latitude,
		c.Longitude,
		c.Reserved[0],
		c.Reserved[1],
	}), nil
}

// DecodeCommand parses a command frame. It is the inverse of EncodeCommand.
func DecodeCommand(data []byte) (CommandFrame, error) {
	f, err := decodeNav(data, KindCommand, "command")
	if err != nil {
		return CommandFrame{}, err
	}

	button, ok := integral(f[0])
	if !ok {
		return CommandFrame{}, decodeErr("command", "non-integral button %v", f[0])
	}
	mode, ok := integral(f[1])
	if !ok {
		return CommandFrame{}, decodeErr("command", "non-integral fly mode %v", f[1])
	}

	c := CommandFrame{
		Button:    Button(button),
		FlyMode:   FlyMode(mode),
		Velocity:  f[2],
		Latitude:  f[3],
		Longitude: f[4],
		Reserved:  [2]float64{f[5], f[6]},
	}
	if err := c.Validate(); err != nil {
		return CommandFrame{}, &DecodeError{Frame: "command", Reason: "invalid values", Err: err}
	}
	return c, nil
}

// EncodeTelemetry serializes a telemetry frame in field order
// status, battery, velocity, altitude, errorCode, latitude, longitude.
func EncodeTelemetry(t TelemetryFrame) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, &EncodeError{Frame: "telemetry", Err: err}
	}
	return encodeNav(KindTelemetry, [NavFieldCount]float64{
		float64(t.Status),
		float64(t.Battery),
		t.Velocity,
		t.Altitude,
		float64(t.ErrorCode),
		t.Latitude,
		t.Longitude,
	}), nil
}

// DecodeTelemetry parses a telemetry frame. Malformed input yields a *DecodeError.
func DecodeTelemetry(data []byte) (TelemetryFrame, error) {
	f, err := decodeNav(data, KindTelemetry, "telemetry")
	if err != nil {
		return TelemetryFrame{}, err
	}

	var codes [3]int
	for i, idx := range [3]int{0, 1, 4} {
		v, ok := integral(f[idx])
		if !ok {
			return TelemetryFrame{}, decodeErr("telemetry", "non-integral field %d: %v", idx, f[idx])
		}
		codes[i] = v
	}

	t := TelemetryFrame{
		Status:    Status(codes[0]),
		Battery:   codes[1],
		Velocity:  f[2],
		Altitude:  f[3],
		ErrorCode: ErrorCode(codes[2]),
		Latitude:  f[5],
		Longitude: f[6],
	}
	if err := t.Validate(); err != nil {
		return TelemetryFrame{}, &DecodeError{Frame: "telemetry", Reason: "invalid values", Err: err}
	}
	return t, nil
}

func encodeNav(kind byte, fields [NavFieldCount]float64) []byte {
	data := make([]byte, NavFrameLen)
	data[0] = NavSyncByte
	data[1] = NavVersion
	data[2] = kind
	data[3] = NavFieldCount

	for i, v := range fields {
		off := NavHeaderLen + i*FieldSize
		binary.BigEndian.PutUint64(data[off:off+FieldSize], math.Float64bits(v))
	}

	crcPos := NavFrameLen - CRCSize
	binary.BigEndian.PutUint16(data[crcPos:], Checksum(data[:crcPos]))
	return data
}

func decodeNav(data []byte, kind byte, name string) ([NavFieldCount]float64, error) {
	var fields [NavFieldCount]float64

	if len(data) < NavHeaderLen {
		return fields, decodeErr(name, "frame too short: %d bytes", len(data))
	}
	if data[0] != NavSyncByte {
		return fields, decodeErr(name, "invalid sync byte: 0x%02x", data[0])
	}
	if data[1] != NavVersion {
		return fields, decodeErr(name, "unsupported version %d", data[1])
	}
	if data[2] != kind {
		return fields, decodeErr(name, "unexpected kind 0x%02x", data[2])
	}
	if int(data[3]) != NavFieldCount {
		return fields, decodeErr(name, "expected %d fields, got %d", NavFieldCount, data[3])
	}
	if len(data) != NavFrameLen {
		return fields, decodeErr(name, "expected %d bytes, got %d", NavFrameLen, len(data))
	}

	crcPos := NavFrameLen - CRCSize
	if got, want := binary.BigEndian.Uint16(data[crcPos:]), Checksum(data[:crcPos]); got != want {
		return fields, decodeErr(name, "crc mismatch: got 0x%04x, want 0x%04x", got, want)
	}

	for i := range fields {
		off := NavHeaderLen + i*FieldSize
		v := math.Float64frombits(binary.BigEndian.Uint64(data[off : off+FieldSize]))
		if !finite(v) {
			return fields, decodeErr(name, "non-finite field %d", i)
		}
		fields[i] = v
	}
	return fields, nil
}

func integral(v float64) (int, bool) {
	if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}
