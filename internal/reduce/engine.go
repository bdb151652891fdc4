// Package reduce drives a log reduction: walk the input tree, classify each
// line and fan matching lines out to the sink.
package reduce

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/logreduce/api"
	"github.com/agentic-research/logreduce/internal/classify"
	"github.com/agentic-research/logreduce/internal/logging"
	"github.com/agentic-research/logreduce/internal/sink"
	"github.com/agentic-research/logreduce/internal/walker"
)

const (
	// binarySniffLen is how much of a file is inspected for NUL bytes.
	binarySniffLen = 8 << 10
	// readBufferSize is the initial bufio size; longer lines still work.
	readBufferSize = 64 << 10
	// cancelCheckEvery is how many lines pass between context checks.
	cancelCheckEvery = 1024
)

// Match is one event together with the line that produced it.
type Match struct {
	Source string
	LineNo int
	Line   string
	Event  classify.Event
}

// Observer is notified of every dispatched event, after the sink writes.
// Implementations must be safe for concurrent use when Workers > 1.
type Observer interface {
	OnMatch(m Match)
}

// Engine runs one reduction.
type Engine struct {
	Config     *api.Config
	Walker     *walker.Walker
	Classifier *classify.Classifier
	Sink       sink.Sink
	Log        *logging.Logger
	Observer   Observer
}

// NewEngine wires the collaborators of a run. Log defaults to a discarding
// logger; Observer may be nil.
func NewEngine(cfg *api.Config, w *walker.Walker, c *classify.Classifier, s sink.Sink) *Engine {
	return &Engine{
		Config:     cfg,
		Walker:     w,
		Classifier: c,
		Sink:       s,
		Log:        logging.Discard(),
	}
}

// Run processes every discovered file. Per-file read failures and per-write
// failures are logged and recorded in the summary, and do not stop the run.
// Unreadable subdirectories are skipped the same way. The returned error is
// non-nil only when the root cannot be listed or ctx is done;
// the summary is returned in every case.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	sum := newSummary()
	e.Log.Infof("Processing logs in %s...", e.Config.InputRoot)

	var err error
	if e.Config.Workers > 1 {
		err = e.runParallel(ctx, sum)
	} else {
		err = e.runSequential(ctx, sum)
	}

	sum.SuppressedReserved = e.Classifier.Suppressed()
	sum.Finished = time.Now()

	if err != nil {
		e.Log.Errorf("An error occurred: %v", err)
		return sum, err
	}
	if sum.Failed() {
		e.Log.Errorf("Log reduction completed with %d file error(s), %d directory error(s) and %d write error(s).",
			len(sum.ReadErrors), len(sum.DirErrors), sum.WriteFailures)
	} else {
		e.Log.Infof("Log reduction completed successfully.")
	}
	return sum, nil
}

func (e *Engine) runSequential(ctx context.Context, sum *Summary) error {
	for rel, err := range e.Walker.Files() {
		if err != nil {
			if e.dirFailed(sum, err) {
				continue
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		sum.discovered()
		if err := e.processFile(ctx, rel, sum); err != nil {
			return err
		}
	}
	return nil
}

// runParallel hands whole files to a bounded pool. A file is always consumed
// by a single goroutine, so its lines reach each output in order.
func (e *Engine) runParallel(ctx context.Context, sum *Summary) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Config.Workers)

	var walkErr error
	for rel, err := range e.Walker.Files() {
		if err != nil {
			if e.dirFailed(sum, err) {
				continue
			}
			walkErr = err
			break
		}
		if gctx.Err() != nil {
			break
		}
		sum.discovered()
		g.Go(func() error {
			return e.processFile(gctx, rel, sum)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if walkErr != nil {
		return walkErr
	}
	return ctx.Err()
}

// dirFailed records an unreadable subdirectory and reports whether the walk
// may go on.
func (e *Engine) dirFailed(sum *Summary, err error) bool {
	var de *walker.DirError
	if !errors.As(err, &de) {
		return false
	}
	e.Log.Errorf("An error occurred while reading directory %s: %v", de.Path, de.Err)
	sum.dirFailed(de)
	return true
}

// processFile returns an error only when ctx is done.
func (e *Engine) processFile(ctx context.Context, rel string, sum *Summary) error {
	e.Log.Infof("Processing log file: %s", rel)

	f, err := e.Walker.Open(rel)
	if err != nil {
		e.fileFailed(sum, newFileTally(rel), &FileReadError{Path: rel, Err: err})
		return nil
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, readBufferSize)
	if e.Config.SkipBinary {
		head, err := r.Peek(binarySniffLen)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			e.fileFailed(sum, newFileTally(rel), &FileReadError{Path: rel, Err: err})
			return nil
		}
		if bytes.IndexByte(head, 0) >= 0 {
			e.Log.Debugf("Skipping binary file: %s", rel)
			sum.skipped()
			return nil
		}
	}

	tally := newFileTally(rel)
	var events []classify.Event
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			tally.lines++
			lineNo := int(tally.lines)
			events = e.Classifier.ClassifyInto(events[:0], line)
			for _, ev := range events {
				e.dispatch(sum, tally, rel, lineNo, line, ev)
			}
			if lineNo%cancelCheckEvery == 0 {
				if cerr := ctx.Err(); cerr != nil {
					sum.fileDone(tally, &FileReadError{Path: rel, Line: lineNo, Err: cerr})
					return cerr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			e.fileFailed(sum, tally, &FileReadError{Path: rel, Line: int(tally.lines), Err: err})
			return nil
		}
	}
	sum.fileDone(tally, nil)
	e.Log.Debugf("Finished %s: %d lines, %d matched", rel, tally.lines, tally.matched.GetCardinality())
	return nil
}

func (e *Engine) dispatch(sum *Summary, t *fileTally, rel string, lineNo int, line string, ev classify.Event) {
	t.event(lineNo, ev)
	if err := sink.Dispatch(e.Sink, rel, line, ev); err != nil {
		for _, we := range sum.writeFailed(err) {
			e.Log.Errorf("Failed to write line %d of %s to %s: %v", lineNo, rel, we.Path, we.Err)
		}
	}
	if e.Observer != nil {
		e.Observer.OnMatch(Match{Source: rel, LineNo: lineNo, Line: line, Event: ev})
	}
}

func (e *Engine) fileFailed(sum *Summary, t *fileTally, err *FileReadError) {
	e.Log.Errorf("An error occurred while processing file %s: %v", err.Path, err.Err)
	sum.fileDone(t, err)
}
