package platform

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// StderrLogger is the default Logger, writing one line at a time to an
// underlying io.Writer (os.Stderr in production, a bytes.Buffer in tests).
type StderrLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStderrLogger returns a Logger writing to os.Stderr.
func NewStderrLogger() *StderrLogger {
	return &StderrLogger{w: os.Stderr}
}

// NewWriterLogger returns a Logger writing to an arbitrary io.Writer, useful
// for tests that want to assert on the exact diagnostic text.
func NewWriterLogger(w io.Writer) *StderrLogger {
	return &StderrLogger{w: w}
}

func (l *StderrLogger) WriteLine(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}
