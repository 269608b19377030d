package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultMaxBytes is the size at which the active log file rotates.
	DefaultMaxBytes int64 = 4 * 1024 * 1024
	// DefaultMaxFiles is the number of rotated files kept before the
	// oldest-numbered one is deleted.
	DefaultMaxFiles = 10
)

// RotatingFileSink writes one timestamped line per AppendLine call to a
// file named "<name>-<n>.log" under dir, rotating to a new, higher-
// numbered file once the current one reaches maxBytes and deleting the
// oldest file once more than maxFiles exist. Grounded in
// original_source/src/Logger.cpp, translated from fstream to os.File.
type RotatingFileSink struct {
	mu sync.Mutex

	dir      string
	name     string
	maxBytes int64
	maxFiles uint16

	counter uint16
	file    *os.File
}

// NewRotatingFileSink creates dir if needed and opens (or creates) the
// first log file. maxBytes <= 0 defaults to DefaultMaxBytes; maxFiles <= 0
// defaults to DefaultMaxFiles.
func NewRotatingFileSink(dir, name string, maxBytes int64, maxFiles int) (*RotatingFileSink, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sink: create log dir %q: %w", dir, err)
		}
	}

	s := &RotatingFileSink{
		dir:      dir,
		name:     name,
		maxBytes: maxBytes,
		maxFiles: uint16(maxFiles),
		counter:  1,
	}

	f, err := os.OpenFile(s.pathFor(s.counter), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open log file: %w", err)
	}
	s.file = f

	return s, nil
}

func (s *RotatingFileSink) pathFor(counter uint16) string {
	base := fmt.Sprintf("%s-%d.log", s.name, counter)
	if s.dir == "" {
		return base
	}
	return filepath.Join(s.dir, base)
}

// AppendLine writes "[YYYY-MM-DD HH:MM:SS] <text>\n", rotating first if
// the current file is already at or over the size threshold.
func (s *RotatingFileSink) AppendLine(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oversize, err := s.checkOversize(); err != nil {
		return err
	} else if oversize {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	line := fmt.Sprintf("[%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), text)
	if _, err := s.file.WriteString(line); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *RotatingFileSink) checkOversize() (bool, error) {
	info, err := s.file.Stat()
	if err != nil {
		return false, err
	}
	return info.Size() >= s.maxBytes, nil
}

func (s *RotatingFileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	s.counter++
	s.deleteOldest()

	f, err := os.OpenFile(s.pathFor(s.counter), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("sink: rotate to new log file: %w", err)
	}
	s.file = f
	return nil
}

func (s *RotatingFileSink) deleteOldest() {
	if s.maxFiles <= 1 {
		os.Remove(s.pathFor(s.counter))
		return
	}
	if s.counter > s.maxFiles {
		oldest := s.counter - s.maxFiles
		os.Remove(s.pathFor(oldest))
	}
}

// Close closes the currently open log file.
func (s *RotatingFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
