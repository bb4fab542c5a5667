// Package status implements the colored progress/log output consumed by the
// job scheduler and the wakerun CLI, grounded on the teacher's
// internal/errors.ErrorReporter: a level-colored line writer rather than a
// generic logging framework, since the surface this package needs is a
// handful of status lines, not structured log records.
package status

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Level mirrors the teacher's ErrorLevel enum, with a Progress level added
// for the scheduler's per-job activity lines.
type Level string

const (
	Error    Level = "error"
	Warning  Level = "warning"
	Info     Level = "info"
	Progress Level = "progress"
)

// Stream is the process-wide status sink. It is constructed explicitly and
// passed by reference through the call graph (see DESIGN.md's note on
// avoiding global mutable state), rather than a package-level singleton.
type Stream struct {
	mu  sync.Mutex
	out io.Writer
}

// New returns a Stream writing to w.
func New(w io.Writer) *Stream { return &Stream{out: w} }

// Default returns a Stream writing to os.Stderr, for CLI entry points that
// don't need to redirect status output.
func Default() *Stream { return New(os.Stderr) }

func (s *Stream) color(level Level) *color.Color {
	switch level {
	case Error:
		return color.New(color.FgRed, color.Bold)
	case Warning:
		return color.New(color.FgYellow)
	case Progress:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgGreen)
	}
}

// Line emits one formatted, level-colored line.
func (s *Stream) Line(level Level, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	s.color(level).Fprintf(s.out, "%s: %s\n", level, msg)
}

// Errorf is a convenience wrapper around Line(Error, ...).
func (s *Stream) Errorf(format string, args ...any) { s.Line(Error, format, args...) }

// Progressf is a convenience wrapper around Line(Progress, ...), used by the
// job scheduler to report per-job activity and the critical-path estimate.
func (s *Stream) Progressf(format string, args ...any) { s.Line(Progress, format, args...) }
