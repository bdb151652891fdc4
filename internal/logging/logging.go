// Package logging provides the leveled diagnostic stream of a run.
//
// Lines look like "2006/01/02 15:04:05 [INFO]: message". The console copy
// colours the level tag when the destination is a terminal; the optional file
// copy is always plain.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Level orders diagnostics by severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	default:
		return "ERROR"
	}
}

// Logger writes leveled lines to one or more destinations. It is safe for
// concurrent use.
type Logger struct {
	min   Level
	sinks []*sink
}

type sink struct {
	mu     sync.Mutex
	log    *log.Logger
	styles map[Level]lipgloss.Style
	closer io.Closer
}

// New returns a logger writing to w. When styled is true the level tag is
// rendered with a colour profile detected for w.
func New(w io.Writer, min Level, styled bool) *Logger {
	l := &Logger{min: min}
	l.add(w, styled, nil)
	return l
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, LevelError+1, false)
}

// Console returns a styled logger on w (normally stderr), mirrored to path
// when path is not empty. The file is opened for append.
func Console(w io.Writer, path string, verbose bool) (*Logger, error) {
	min := LevelInfo
	if verbose {
		min = LevelDebug
	}
	l := New(w, min, true)
	if path == "" {
		return l, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l.add(f, false, f)
	return l, nil
}

func (l *Logger) add(w io.Writer, styled bool, c io.Closer) {
	s := &sink{log: log.New(w, "", log.LstdFlags), closer: c}
	if styled {
		r := lipgloss.NewRenderer(w)
		s.styles = map[Level]lipgloss.Style{
			LevelDebug: r.NewStyle().Faint(true),
			LevelInfo:  r.NewStyle().Foreground(lipgloss.Color("6")),
			LevelError: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		}
	}
	l.sinks = append(l.sinks, s)
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

func (l *Logger) logf(level Level, format string, args ...any) {
	if level < l.min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	for _, s := range l.sinks {
		tag := "[" + level.String() + "]"
		if st, ok := s.styles[level]; ok {
			tag = st.Render(tag)
		}
		s.mu.Lock()
		s.log.Print(tag + ": " + msg)
		s.mu.Unlock()
	}
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	var first error
	for _, s := range l.sinks {
		if s.closer == nil {
			continue
		}
		if err := s.closer.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
