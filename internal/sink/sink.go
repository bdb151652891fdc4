// Package sink appends classified lines to the per-key and global output files.
package sink

import (
	"errors"
	"fmt"

	"github.com/agentic-research/logreduce/internal/classify"
)

// KeyedDestination appends a record to the file for one (kind, key) pair.
type KeyedDestination interface {
	AppendKeyed(kind classify.Kind, key, record string) error
}

// GlobalDestination appends a record to the aggregate file of a kind.
type GlobalDestination interface {
	AppendGlobal(kind classify.Kind, record string) error
}

// Sink is the set of destinations a reduction writes to.
type Sink interface {
	KeyedDestination
	GlobalDestination
}

// Format renders the output record for a line. The line keeps its own
// terminator; nothing else is added or trimmed.
func Format(source, line string) string {
	return source + ": " + line
}

// KeyPath is the output path, relative to the output root, of a per-key file.
func KeyPath(kind classify.Kind, key string) string {
	return kind.Dir() + "/" + key + ".txt"
}

// Dispatch writes line to the keyed and global destinations of ev. The two
// appends are independent: a failure of one does not skip the other. Any
// failures are returned joined, each as a *WriteError.
func Dispatch(dst Sink, source, line string, ev classify.Event) error {
	record := Format(source, line)

	var errs []error
	if err := dst.AppendKeyed(ev.Kind, ev.Key, record); err != nil {
		errs = append(errs, &WriteError{Path: KeyPath(ev.Kind, ev.Key), Source: source, Line: line, Err: err})
	}
	if err := dst.AppendGlobal(ev.Kind, record); err != nil {
		errs = append(errs, &WriteError{Path: ev.Kind.GlobalFile(), Source: source, Line: line, Err: err})
	}
	return errors.Join(errs...)
}

// WriteError is a failed append. It is recoverable: the run continues.
type WriteError struct {
	Path   string
	Source string
	Line   string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("append %s (from %s): %v", e.Path, e.Source, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
