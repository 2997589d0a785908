package snapshot

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dronelink/internal/protocol"
)

// FileLayout names snapshot files after the capture time.
const FileLayout = "20060102_150405"

// ErrNoFrame is returned by Save before any video frame arrived.
var ErrNoFrame = errors.New("no video frame received yet")

// Snapshotter keeps the latest video frame and writes it to disk on request.
type Snapshotter struct {
	dir    string
	logger *logrus.Logger
	now    func() time.Time

	mu       sync.RWMutex
	latest   image.Image
	received time.Time
	frames   uint64
}

// New creates a snapshotter saving into dir.
func New(dir string, logger *logrus.Logger) *Snapshotter {
	return &Snapshotter{
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

// Update replaces the latest frame.
func (s *Snapshotter) Update(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = img
	s.received = s.now()
	s.frames++
}

// Latest returns the latest frame and when it arrived, or nil.
func (s *Snapshotter) Latest() (image.Image, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.received
}

// Frames returns the number of frames seen.
func (s *Snapshotter) Frames() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// Save writes the latest frame as <yyyyMMdd_HHmmss>.jpg and returns its path.
// A snapshot taken in the same second replaces the earlier one.
func (s *Snapshotter) Save() (string, error) {
	img, _ := s.Latest()
	if img == nil {
		return "", ErrNoFrame
	}

	path, err := WriteJPEG(s.dir, img, s.now())
	if err != nil {
		return "", err
	}

	s.logger.WithField("file", path).Info("Snapshot saved")
	return path, nil
}

// WriteJPEG encodes img into dir under a name derived from at.
func WriteJPEG(dir string, img image.Image, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	path := filepath.Join(dir, at.Format(FileLayout)+".jpg")

	tmp, err := os.CreateTemp(dir, ".snapshot-*.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: protocol.JPEGQuality}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to store snapshot: %w", err)
	}
	return path, nil
}
