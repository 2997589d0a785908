package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Framing describes how frames are delimited on one channel.
type Framing struct {
	Name      string
	SyncByte  byte
	HeaderLen int
	MaxLen    int

	// FrameLen returns the total frame length announced by a complete header,
	// or 0 when the header cannot start a frame.
	FrameLen func(header []byte) int

	// Check reports whether a complete candidate frame is intact. A nil Check
	// accepts every frame.
	Check func(frame []byte) bool
}

// NavFraming delimits telemetry and command frames.
var NavFraming = Framing{
	Name:      "nav",
	SyncByte:  NavSyncByte,
	HeaderLen: NavHeaderLen,
	MaxLen:    NavFrameLen,
	FrameLen: func(header []byte) int {
		if header[1] != NavVersion || header[3] != NavFieldCount {
			return 0
		}
		return NavFrameLen
	},
	Check: func(frame []byte) bool {
		crcPos := len(frame) - CRCSize
		return binary.BigEndian.Uint16(frame[crcPos:]) == Checksum(frame[:crcPos])
	},
}

// VideoFraming delimits video frames.
var VideoFraming = Framing{
	Name:      "video",
	SyncByte:  VideoSyncByte,
	HeaderLen: VideoHeaderLen,
	MaxLen:    VideoHeaderLen + VideoMaxPayload,
	FrameLen: func(header []byte) int {
		if header[1] != VideoVersion {
			return 0
		}
		n := binary.BigEndian.Uint32(header[8:12])
		if n == 0 || n > VideoMaxPayload {
			return 0
		}
		return VideoHeaderLen + int(n)
	},
}

// Decoder extracts complete frames from a byte stream
type Decoder struct {
	framing Framing
	logger  *logrus.Logger
	buffer   []byte
	skipped  uint64
	rejected uint64
}

// NewDecoder creates a new stream decoder for the given framing
func NewDecoder(framing Framing, logger *logrus.Logger) *Decoder {
	return &Decoder{
		framing: framing,
		logger:  logger,
		buffer:  make([]byte, 0, 4096),
	}
}

// Decode appends data to the internal buffer and returns every complete frame found.
// Returned slices are owned by the caller.
func (d *Decoder) Decode(data []byte) [][]byte {
	d.buffer = append(d.buffer, data...)

	var frames [][]byte

	for {
		// Look for sync byte
		syncIndex := -1
		for i, b := range d.buffer {
			if b == d.framing.SyncByte {
				syncIndex = i
				break
			}
		}

		if syncIndex == -1 {
			d.discard(len(d.buffer))
			break
		}

		// Remove data before sync byte
		if syncIndex > 0 {
			d.discard(syncIndex)
		}

		if len(d.buffer) < d.framing.HeaderLen {
			break
		}

		frameLen := d.framing.FrameLen(d.buffer[:d.framing.HeaderLen])
		if frameLen == 0 || frameLen > d.framing.MaxLen {
			// Not a real header, skip this sync byte
			d.logger.WithFields(logrus.Fields{
				"channel": d.framing.Name,
				"header":  fmt.Sprintf("% x", d.buffer[:d.framing.HeaderLen]),
			}).Debug("Invalid frame header, resyncing")
			d.discard(1)
			continue
		}

		if len(d.buffer) < frameLen {
			break
		}

		if d.framing.Check != nil && !d.framing.Check(d.buffer[:frameLen]) {
			// A truncated frame may hide the next sync byte inside this
			// span, so only the sync byte is dropped.
			d.rejected++
			d.logger.WithField("channel", d.framing.Name).Debug("Frame check failed, resyncing")
			d.discard(1)
			continue
		}

		frame := make([]byte, frameLen)
		copy(frame, d.buffer[:frameLen])
		frames = append(frames, frame)

		d.buffer = d.buffer[frameLen:]
	}

	// Reclaim the consumed prefix
	if cap(d.buffer) > 4096 && len(d.buffer) < cap(d.buffer)/4 {
		d.buffer = append(make([]byte, 0, 4096), d.buffer...)
	}

	return frames
}

// Skipped returns the number of bytes discarded while searching for frames.
func (d *Decoder) Skipped() uint64 {
	return d.skipped
}

// Rejected returns the number of candidate frames that failed the framing check.
func (d *Decoder) Rejected() uint64 {
	return d.rejected
}

// Reset drops any buffered partial frame.
func (d *Decoder) Reset() {
	d.buffer = d.buffer[:0]
}

func (d *Decoder) discard(n int) {
	d.skipped += uint64(n)
	d.buffer = d.buffer[n:]
}
