package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	return img
}

func TestVideoFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format VideoFormat
		exact  bool
	}{
		{"JPEG", VideoJPEG, false},
		{"PNG", VideoPNG, true},
		{"Raw RGBA", VideoRGBA, true},
	}

	src := testImage(16, 8)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeVideoFrame(tt.format, src)
			require.NoError(t, err)
			assert.Equal(t, byte(tt.format), data[2])

			img, err := DecodeVideoFrame(data)
			require.NoError(t, err)
			assert.Equal(t, src.Bounds(), img.Bounds())

			if tt.exact {
				r, g, b, a := img.At(3, 2).RGBA()
				er, eg, eb, ea := src.At(3, 2).RGBA()
				assert.Equal(t, []uint32{er, eg, eb, ea}, []uint32{r, g, b, a})
			}
		})
	}
}

func TestDecodeVideoFrameBMP(t *testing.T) {
	src := testImage(5, 7)

	var payload bytes.Buffer
	require.NoError(t, bmp.Encode(&payload, src))

	data := make([]byte, VideoHeaderLen)
	data[0] = VideoSyncByte
	data[1] = VideoVersion
	data[2] = byte(VideoBMP)
	binary.BigEndian.PutUint16(data[4:6], 5)
	binary.BigEndian.PutUint16(data[6:8], 7)
	binary.BigEndian.PutUint32(data[8:12], uint32(payload.Len()))
	data = append(data, payload.Bytes()...)

	img, err := DecodeVideoFrame(data)
	require.NoError(t, err)
	assert.Equal(t, 5, img.Bounds().Dx())
	assert.Equal(t, 7, img.Bounds().Dy())
}

func TestDecodeVideoFrameMalformed(t *testing.T) {
	good, err := EncodeVideoFrame(VideoPNG, testImage(4, 4))
	require.NoError(t, err)

	withHeader := func(mutate func([]byte)) []byte {
		data := append([]byte(nil), good...)
		mutate(data)
		return data
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"Too short", good[:5]},
		{"Bad sync", withHeader(func(d []byte) { d[0] = 0 })},
		{"Bad version", withHeader(func(d []byte) { d[1] = 9 })},
		{"Unknown format", withHeader(func(d []byte) { d[2] = 0x7F })},
		{"Zero width", withHeader(func(d []byte) { binary.BigEndian.PutUint16(d[4:6], 0) })},
		{"Dimension mismatch", withHeader(func(d []byte) { binary.BigEndian.PutUint16(d[4:6], 5) })},
		{"Length mismatch", good[:len(good)-1]},
		{"Corrupt payload", withHeader(func(d []byte) { copy(d[VideoHeaderLen:], []byte("garbage!")) })},
		{"Raw size mismatch", withHeader(func(d []byte) { d[2] = byte(VideoRGBA) })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeVideoFrame(tt.data)
			assert.Nil(t, img)

			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr), "expected DecodeError, got %v", err)
			assert.Equal(t, "video", decErr.Frame)
		})
	}
}

// inflateDimensions rewrites the image size stored inside an encoded payload
// so it claims w x h while the frame stays a few hundred bytes long.
func inflateDimensions(t *testing.T, format VideoFormat, frame []byte, w, h uint16) []byte {
	t.Helper()
	data := append([]byte(nil), frame...)
	payload := data[VideoHeaderLen:]

	switch format {
	case VideoPNG:
		// IHDR data starts after the 8-byte signature, chunk length and type
		binary.BigEndian.PutUint32(payload[16:20], uint32(w))
		binary.BigEndian.PutUint32(payload[20:24], uint32(h))
		binary.BigEndian.PutUint32(payload[29:33], crc32.ChecksumIEEE(payload[12:29]))
	case VideoJPEG:
		sof := bytes.Index(payload, []byte{0xFF, 0xC0})
		require.GreaterOrEqual(t, sof, 0, "no SOF0 marker")
		binary.BigEndian.PutUint16(payload[sof+5:sof+7], h)
		binary.BigEndian.PutUint16(payload[sof+7:sof+9], w)
	default:
		t.Fatalf("cannot inflate %s", format)
	}
	return data
}

func TestDecodeVideoFrameOversized(t *testing.T) {
	tests := []struct {
		name         string
		format       VideoFormat
		headerMatch  bool
		wantContains string
	}{
		{"PNG payload larger than header", VideoPNG, false, "header says 4x4"},
		{"JPEG payload larger than header", VideoJPEG, false, "header says 4x4"},
		{"PNG header and payload both huge", VideoPNG, true, "exceed"},
		{"JPEG header and payload both huge", VideoJPEG, true, "exceed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeVideoFrame(tt.format, testImage(4, 4))
			require.NoError(t, err)

			data := inflateDimensions(t, tt.format, frame, 60000, 60000)
			if tt.headerMatch {
				binary.BigEndian.PutUint16(data[4:6], 60000)
				binary.BigEndian.PutUint16(data[6:8], 60000)
			}
			require.Less(t, len(data), 4096)

			img, err := DecodeVideoFrame(data)
			assert.Nil(t, img)

			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr), "expected DecodeError, got %v", err)
			assert.Contains(t, err.Error(), tt.wantContains)
		})
	}
}

func TestEncodeVideoFrameUnsupported(t *testing.T) {
	_, err := EncodeVideoFrame(VideoWebP, testImage(2, 2))
	var encErr *EncodeError
	assert.True(t, errors.As(err, &encErr))

	_, err = EncodeVideoFrame(VideoPNG, image.NewRGBA(image.Rect(0, 0, 0, 0)))
	assert.True(t, errors.As(err, &encErr))
}
