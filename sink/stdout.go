package sink

import (
	"fmt"
	"io"
	"sync"
)

// StdoutSink writes each line to an underlying writer (os.Stdout in
// production), one spec.md §1 names as a valid sink alongside the
// rotating file log. No timestamp prefix is added — stdout is typically
// already timestamped by whatever collects it (journald, a container
// runtime, etc).
type StdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdoutSink wraps w (use os.Stdout in production; tests can pass a
// bytes.Buffer).
func NewStdoutSink(w io.Writer) *StdoutSink {
	return &StdoutSink{w: w}
}

// AppendLine writes text followed by a newline.
func (s *StdoutSink) AppendLine(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, text)
	return err
}
