package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/webp"
)

// Video frame layout (version 1, big-endian):
//
//	sync(1) | version(1) | format(1) | reserved(1) | width(2) | height(2) | length(4) | payload
const (
	VideoSyncByte   = 0xD6
	VideoVersion    = 0x01
	VideoHeaderLen  = 12
	VideoMaxPayload = 8 << 20
	VideoMaxPixels  = 4096 * 4096
)

// VideoFormat identifies the payload encoding of a video frame.
type VideoFormat byte

const (
	VideoJPEG VideoFormat = 0x01
	VideoPNG  VideoFormat = 0x02
	VideoBMP  VideoFormat = 0x03
	VideoWebP VideoFormat = 0x04
	VideoRGBA VideoFormat = 0x05
)

func (f VideoFormat) String() string {
	switch f {
	case VideoJPEG:
		return "jpeg"
	case VideoPNG:
		return "png"
	case VideoBMP:
		return "bmp"
	case VideoWebP:
		return "webp"
	case VideoRGBA:
		return "rgba"
	default:
		return fmt.Sprintf("VideoFormat(0x%02x)", byte(f))
	}
}

// JPEGQuality is used for JPEG video frames and snapshots.
const JPEGQuality = 90

// DecodeVideoFrame parses a video frame into an image.
func DecodeVideoFrame(data []byte) (image.Image, error) {
	if len(data) < VideoHeaderLen {
		return nil, decodeErr("video", "frame too short: %d bytes", len(data))
	}
	if data[0] != VideoSyncByte {
		return nil, decodeErr("video", "invalid sync byte: 0x%02x", data[0])
	}
	if data[1] != VideoVersion {
		return nil, decodeErr("video", "unsupported version %d", data[1])
	}

	format := VideoFormat(data[2])
	width := int(binary.BigEndian.Uint16(data[4:6]))
	height := int(binary.BigEndian.Uint16(data[6:8]))
	length := int(binary.BigEndian.Uint32(data[8:12]))

	if width == 0 || height == 0 {
		return nil, decodeErr("video", "empty dimensions %dx%d", width, height)
	}
	if len(data) != VideoHeaderLen+length {
		return nil, decodeErr("video", "payload length %d does not match frame size %d", length, len(data)-VideoHeaderLen)
	}

	if width*height > VideoMaxPixels {
		return nil, decodeErr("video", "dimensions %dx%d exceed %d pixels", width, height, VideoMaxPixels)
	}

	payload := data[VideoHeaderLen:]

	if format == VideoRGBA {
		if length != 4*width*height {
			return nil, decodeErr("video", "raw payload %d bytes, want %d", length, 4*width*height)
		}
		rgba := image.NewRGBA(image.Rect(0, 0, width, height))
		copy(rgba.Pix, payload)
		return rgba, nil
	}

	c, ok := videoCodecs[format]
	if !ok {
		return nil, decodeErr("video", "unknown format 0x%02x", byte(format))
	}

	// The payload's own dimensions are checked before any pixel buffer is allocated
	config, err := c.decodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, &DecodeError{Frame: "video", Reason: format.String() + " header", Err: err}
	}
	if config.Width != width || config.Height != height {
		return nil, decodeErr("video", "payload is %dx%d, header says %dx%d", config.Width, config.Height, width, height)
	}

	img, err := c.decode(bytes.NewReader(payload))
	if err != nil {
		return nil, &DecodeError{Frame: "video", Reason: format.String() + " payload", Err: err}
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		return nil, decodeErr("video", "image is %dx%d, header says %dx%d", b.Dx(), b.Dy(), width, height)
	}
	return img, nil
}

type videoCodec struct {
	decodeConfig func(io.Reader) (image.Config, error)
	decode       func(io.Reader) (image.Image, error)
}

var videoCodecs = map[VideoFormat]videoCodec{
	VideoJPEG: {jpeg.DecodeConfig, jpeg.Decode},
	VideoPNG:  {png.DecodeConfig, png.Decode},
	VideoBMP:  {bmp.DecodeConfig, bmp.Decode},
	VideoWebP: {webp.DecodeConfig, webp.Decode},
}

// EncodeVideoFrame wraps img into a video frame. JPEG, PNG and raw RGBA are supported.
func EncodeVideoFrame(format VideoFormat, img image.Image) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 || b.Dx() > 0xFFFF || b.Dy() > 0xFFFF {
		return nil, &EncodeError{Frame: "video", Err: fmt.Errorf("unsupported dimensions %dx%d", b.Dx(), b.Dy())}
	}

	var buf bytes.Buffer
	buf.Write(make([]byte, VideoHeaderLen))

	switch format {
	case VideoJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
			return nil, &EncodeError{Frame: "video", Err: err}
		}
	case VideoPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, &EncodeError{Frame: "video", Err: err}
		}
	case VideoRGBA:
		rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				rgba.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		buf.Write(rgba.Pix)
	default:
		return nil, &EncodeError{Frame: "video", Err: fmt.Errorf("cannot encode %s", format)}
	}

	data := buf.Bytes()
	length := len(data) - VideoHeaderLen
	if length > VideoMaxPayload {
		return nil, &EncodeError{Frame: "video", Err: fmt.Errorf("payload %d bytes exceeds limit", length)}
	}

	data[0] = VideoSyncByte
	data[1] = VideoVersion
	data[2] = byte(format)
	binary.BigEndian.PutUint16(data[4:6], uint16(b.Dx()))
	binary.BigEndian.PutUint16(data[6:8], uint16(b.Dy()))
	binary.BigEndian.PutUint32(data[8:12], uint32(length))
	return data, nil
}
