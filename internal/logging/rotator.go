package logging

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// Rotator writes to one file per day, named <prefix>_<date>.log, and gzips
// the previous day's file after switching.
type Rotator struct {
	dir    string
	prefix string
	useUTC bool
	logger *logrus.Logger
	now    func() time.Time

	mu          sync.Mutex
	current     *os.File
	currentDate string
	compressing sync.WaitGroup
}

// NewRotator creates dir if needed and opens today's file.
func NewRotator(dir, prefix string, useUTC bool, logger *logrus.Logger) (*Rotator, error) {
	if prefix == "" {
		return nil, fmt.Errorf("log prefix cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r := &Rotator{
		dir:    dir,
		prefix: prefix,
		useUTC: useUTC,
		logger: logger,
		now:    time.Now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.openLocked(r.today()); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}
	return r, nil
}

// Run rotates on date change until ctx is cancelled. Write also rotates lazily,
// so Run only matters for files that go quiet across midnight.
func (r *Rotator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.current == nil {
				r.mu.Unlock()
				return
			}
			if err := r.rotateLocked(); err != nil {
				r.logger.WithError(err).Error("Failed to rotate log file")
			}
			r.mu.Unlock()
		}
	}
}

// Write appends p to the current day's file.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return 0, fmt.Errorf("rotator closed")
	}
	if err := r.rotateLocked(); err != nil {
		return 0, err
	}
	return r.current.Write(p)
}

// CurrentFile returns the path of the file being written, or "" once closed.
func (r *Rotator) CurrentFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return ""
	}
	return r.path(r.currentDate)
}

// Files lists every file of this rotator, compressed ones included.
func (r *Rotator) Files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, r.prefix+"_*.log*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	return files, nil
}

// Cleanup removes files last modified more than maxDays ago.
func (r *Rotator) Cleanup(maxDays int) (int, error) {
	if maxDays <= 0 {
		return 0, fmt.Errorf("maxDays must be positive")
	}

	files, err := r.Files()
	if err != nil {
		return 0, err
	}

	cutoff := r.now().AddDate(0, 0, -maxDays)
	current := r.CurrentFile()

	removed := 0
	for _, file := range files {
		if file == current {
			continue
		}

		info, err := os.Stat(file)
		if err != nil {
			r.logger.WithError(err).WithField("file", file).Warn("Failed to stat log file")
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(file); err != nil {
			r.logger.WithError(err).WithField("file", file).Error("Failed to remove old log file")
			continue
		}
		removed++
	}

	r.logger.WithFields(logrus.Fields{
		"prefix":  r.prefix,
		"removed": removed,
	}).Debug("Cleaned up old log files")
	return removed, nil
}

// Close closes the current file and waits for pending compressions.
func (r *Rotator) Close() error {
	r.mu.Lock()
	var err error
	if r.current != nil {
		err = r.current.Close()
		r.current = nil
	}
	r.mu.Unlock()

	r.compressing.Wait()
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

func (r *Rotator) today() string {
	now := r.now()
	if r.useUTC {
		now = now.UTC()
	}
	return now.Format(dateLayout)
}

func (r *Rotator) path(date string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s_%s.log", r.prefix, date))
}

func (r *Rotator) rotateLocked() error {
	date := r.today()
	if date == r.currentDate {
		return nil
	}

	r.logger.WithFields(logrus.Fields{
		"prefix":   r.prefix,
		"old_date": r.currentDate,
		"new_date": date,
	}).Info("Rotating log file")

	old, oldDate := r.current, r.currentDate
	if err := r.openLocked(date); err != nil {
		return err
	}

	if old != nil {
		if err := old.Close(); err != nil {
			r.logger.WithError(err).Error("Failed to close old log file")
		}
		r.compressing.Add(1)
		go func() {
			defer r.compressing.Done()
			r.compress(oldDate)
		}()
	}
	return nil
}

func (r *Rotator) openLocked(date string) error {
	path := r.path(date)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	r.current = file
	r.currentDate = date
	r.logger.WithField("file", path).Debug("Opened log file")
	return nil
}

// compress gzips the file for date and removes the original.
func (r *Rotator) compress(date string) {
	source := r.path(date)
	target := source + ".gz"

	if err := gzipFile(source, target); err != nil {
		r.logger.WithError(err).WithField("file", source).Error("Failed to compress log file")
		os.Remove(target)
		return
	}
	if err := os.Remove(source); err != nil {
		r.logger.WithError(err).WithField("file", source).Error("Failed to remove original log file")
		return
	}

	r.logger.WithField("file", target).Info("Log file compressed")
}

func gzipFile(source, target string) error {
	src, err := os.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	gz.Name = filepath.Base(source)
	gz.ModTime = time.Now()

	if _, err := io.Copy(gz, src); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return dst.Close()
}
