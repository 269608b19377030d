package sink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRotatingFileSink_WritesLine(t *testing.T) {
	dir := t.TempDir()
	s, err := NewRotatingFileSink(dir, "query", 0, 0)
	if err != nil {
		t.Fatalf("NewRotatingFileSink: %v", err)
	}
	defer s.Close()

	if err := s.AppendLine("10.0.0.1:5432 SELECT 1"); err != nil {
		t.Fatalf("AppendLine: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "query-1.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty log file")
	}
}

func TestRotatingFileSink_RotatesAtMaxBytes(t *testing.T) {
	dir := t.TempDir()
	// A tiny limit forces rotation on the second write.
	s, err := NewRotatingFileSink(dir, "query", 10, 10)
	if err != nil {
		t.Fatalf("NewRotatingFileSink: %v", err)
	}
	defer s.Close()

	if err := s.AppendLine("first line is already over 10 bytes"); err != nil {
		t.Fatalf("AppendLine 1: %v", err)
	}
	if err := s.AppendLine("second line triggers rotation"); err != nil {
		t.Fatalf("AppendLine 2: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "query-1.log")); err != nil {
		t.Errorf("expected query-1.log to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "query-2.log")); err != nil {
		t.Errorf("expected query-2.log to exist: %v", err)
	}
	if s.counter != 2 {
		t.Errorf("expected counter 2, got %d", s.counter)
	}
}

func TestRotatingFileSink_DeletesOldestAfterMaxFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewRotatingFileSink(dir, "query", 1, 3)
	if err != nil {
		t.Fatalf("NewRotatingFileSink: %v", err)
	}
	defer s.Close()

	// Every AppendLine exceeds maxBytes=1, so every call rotates first
	// (after the first). Drive the counter past maxFiles to exercise
	// delete-oldest.
	for i := 0; i < 5; i++ {
		if err := s.AppendLine("line"); err != nil {
			t.Fatalf("AppendLine %d: %v", i, err)
		}
	}

	// counter should now be 5 (started at 1, rotated 4 times), and
	// query-1.log / query-2.log should have been removed once the
	// counter exceeded maxFiles=3.
	if s.counter != 5 {
		t.Fatalf("expected counter 5, got %d", s.counter)
	}
	if _, err := os.Stat(filepath.Join(dir, "query-1.log")); !os.IsNotExist(err) {
		t.Errorf("expected query-1.log to have been deleted, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "query-5.log")); err != nil {
		t.Errorf("expected query-5.log (current) to exist: %v", err)
	}
}

func TestRotatingFileSink_MaxFilesOneDeletesNewFile(t *testing.T) {
	// Faithfully preserves the original implementation's own behavior:
	// with maxFiles<=1, deleteOldest removes the about-to-be-created
	// file's own path rather than a prior one (original_source's
	// Logger.cpp::delete_oldest_file does the same), so the older file is
	// kept.
	dir := t.TempDir()
	s, err := NewRotatingFileSink(dir, "query", 1, 1)
	if err != nil {
		t.Fatalf("NewRotatingFileSink: %v", err)
	}
	defer s.Close()

	if err := s.AppendLine("first"); err != nil {
		t.Fatalf("AppendLine: %v", err)
	}
	if err := s.AppendLine("second"); err != nil {
		t.Fatalf("AppendLine: %v", err)
	}

	if s.counter != 2 {
		t.Fatalf("expected counter 2, got %d", s.counter)
	}
	if _, err := os.Stat(filepath.Join(dir, "query-1.log")); err != nil {
		t.Errorf("expected query-1.log to be kept: %v", err)
	}
}

func TestRotatingFileSink_CreatesDir(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "nested", "logs")
	s, err := NewRotatingFileSink(dir, "query", 0, 0)
	if err != nil {
		t.Fatalf("NewRotatingFileSink: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected dir to be created: %v", err)
	}
}
