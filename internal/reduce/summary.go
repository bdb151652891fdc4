package reduce

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/logreduce/internal/classify"
	"github.com/agentic-research/logreduce/internal/sink"
	"github.com/agentic-research/logreduce/internal/walker"
)

// maxRecordedWriteErrors bounds how many write failures are kept verbatim.
// All of them are counted.
const maxRecordedWriteErrors = 100

// FileReadError is a source file that could not be opened or read to the end.
// Line is the last line read successfully before the failure (0 if none).
type FileReadError struct {
	Path string
	Line int
	Err  error
}

func (e *FileReadError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("read %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("read %s after line %d: %v", e.Path, e.Line, e.Err)
}

func (e *FileReadError) Unwrap() error { return e.Err }

// Summary describes a finished run. It is filled concurrently by the engine
// and must only be read once Run has returned.
type Summary struct {
	mu sync.Mutex

	Started  time.Time
	Finished time.Time

	FilesDiscovered int
	FilesProcessed  int
	FilesSkipped    int
	FilesFailed     int

	LinesRead          int64
	IPEvents           int64
	KeywordEvents      int64
	SuppressedReserved int64

	// Events per output key.
	IPKeys      map[string]int64
	KeywordKeys map[string]int64

	ReadErrors    []*FileReadError
	DirErrors     []*walker.DirError
	WriteErrors   []*sink.WriteError
	WriteFailures int64

	// Source file -> 1-based numbers of lines that produced at least one event.
	// Bitmaps are run-compressed once a file is done, so a source costs
	// memory per contiguous block of matching lines.
	matched map[string]*roaring.Bitmap
}

func newSummary() *Summary {
	return &Summary{
		Started:     time.Now(),
		IPKeys:      make(map[string]int64),
		KeywordKeys: make(map[string]int64),
		matched:     make(map[string]*roaring.Bitmap),
	}
}

func (s *Summary) discovered() {
	s.mu.Lock()
	s.FilesDiscovered++
	s.mu.Unlock()
}

func (s *Summary) skipped() {
	s.mu.Lock()
	s.FilesSkipped++
	s.mu.Unlock()
}

// fileDone merges the per-file tallies once a file has been consumed.
func (s *Summary) fileDone(t *fileTally, readErr *FileReadError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LinesRead += t.lines
	s.IPEvents += t.ipEvents
	s.KeywordEvents += t.keywordEvents
	for k, n := range t.ipKeys {
		s.IPKeys[k] += n
	}
	for k, n := range t.keywordKeys {
		s.KeywordKeys[k] += n
	}
	if !t.matched.IsEmpty() {
		t.matched.RunOptimize()
		s.matched[t.source] = t.matched
	}
	if readErr != nil {
		s.FilesFailed++
		s.ReadErrors = append(s.ReadErrors, readErr)
		return
	}
	s.FilesProcessed++
}

func (s *Summary) dirFailed(de *walker.DirError) {
	s.mu.Lock()
	s.DirErrors = append(s.DirErrors, de)
	s.mu.Unlock()
}

func (s *Summary) writeFailed(err error) []*sink.WriteError {
	var wes []*sink.WriteError
	collectWriteErrors(err, &wes)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.WriteFailures += int64(len(wes))
	for _, we := range wes {
		if len(s.WriteErrors) >= maxRecordedWriteErrors {
			break
		}
		s.WriteErrors = append(s.WriteErrors, we)
	}
	return wes
}

// collectWriteErrors flattens a joined error from sink.Dispatch.
func collectWriteErrors(err error, out *[]*sink.WriteError) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			collectWriteErrors(e, out)
		}
		return
	}
	var we *sink.WriteError
	if errors.As(err, &we) {
		*out = append(*out, we)
		return
	}
	*out = append(*out, &sink.WriteError{Err: err})
}

// Events returns the number of events of kind.
func (s *Summary) Events(kind classify.Kind) int64 {
	if kind == classify.KindIP {
		return s.IPEvents
	}
	return s.KeywordEvents
}

// LinesMatched is the number of source lines that produced at least one event.
func (s *Summary) LinesMatched() uint64 {
	var n uint64
	for _, bm := range s.matched {
		n += bm.GetCardinality()
	}
	return n
}

// MatchedLines returns the sorted line numbers of source that matched.
func (s *Summary) MatchedLines(source string) []uint32 {
	bm, ok := s.matched[source]
	if !ok {
		return nil
	}
	return bm.ToArray()
}

// MatchedRanges returns the matched lines of source as inclusive
// [first, last] runs of consecutive line numbers.
func (s *Summary) MatchedRanges(source string) [][2]uint32 {
	bm, ok := s.matched[source]
	if !ok {
		return nil
	}
	var out [][2]uint32
	it := bm.Iterator()
	for it.HasNext() {
		n := it.Next()
		if last := len(out) - 1; last >= 0 && out[last][1]+1 == n {
			out[last][1] = n
			continue
		}
		out = append(out, [2]uint32{n, n})
	}
	return out
}

// MatchedSources returns the source files with at least one match, sorted.
func (s *Summary) MatchedSources() []string {
	out := make([]string, 0, len(s.matched))
	for src := range s.matched {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// Failed reports whether any file, directory or write failed.
func (s *Summary) Failed() bool {
	return len(s.ReadErrors) > 0 || len(s.DirErrors) > 0 || s.WriteFailures > 0
}

// Err joins every recorded failure, or returns nil for a clean run.
func (s *Summary) Err() error {
	var errs []error
	for _, e := range s.ReadErrors {
		errs = append(errs, e)
	}
	for _, e := range s.DirErrors {
		errs = append(errs, e)
	}
	for _, e := range s.WriteErrors {
		errs = append(errs, e)
	}
	if extra := s.WriteFailures - int64(len(s.WriteErrors)); extra > 0 {
		errs = append(errs, fmt.Errorf("%d more write failures not shown", extra))
	}
	return errors.Join(errs...)
}

// Map renders the summary as plain values for JSON output.
func (s *Summary) Map() map[string]any {
	readErrs := make([]any, 0, len(s.ReadErrors))
	for _, e := range s.ReadErrors {
		readErrs = append(readErrs, map[string]any{"file": e.Path, "line": int64(e.Line), "error": e.Err.Error()})
	}
	dirErrs := make([]any, 0, len(s.DirErrors))
	for _, e := range s.DirErrors {
		dirErrs = append(dirErrs, map[string]any{"dir": e.Path, "error": e.Err.Error()})
	}
	matched := make(map[string]any, len(s.matched))
	for _, src := range s.MatchedSources() {
		ranges := []any{}
		for _, r := range s.MatchedRanges(src) {
			ranges = append(ranges, []any{int64(r[0]), int64(r[1])})
		}
		matched[src] = ranges
	}
	writeErrs := make([]any, 0, len(s.WriteErrors))
	for _, e := range s.WriteErrors {
		writeErrs = append(writeErrs, map[string]any{"output": e.Path, "source": e.Source, "error": e.Err.Error()})
	}
	return map[string]any{
		"started":             s.Started.UTC().Format(time.RFC3339),
		"finished":            s.Finished.UTC().Format(time.RFC3339),
		"files_discovered":    int64(s.FilesDiscovered),
		"files_processed":     int64(s.FilesProcessed),
		"files_skipped":       int64(s.FilesSkipped),
		"files_failed":        int64(s.FilesFailed),
		"lines_read":          s.LinesRead,
		"lines_matched":       int64(s.LinesMatched()),
		"ip_events":           s.IPEvents,
		"keyword_events":      s.KeywordEvents,
		"suppressed_reserved": s.SuppressedReserved,
		"ip_keys":             countsMap(s.IPKeys),
		"keyword_keys":        countsMap(s.KeywordKeys),
		"matched_lines":       matched,
		"read_errors":         readErrs,
		"dir_errors":          dirErrs,
		"write_failures":      s.WriteFailures,
		"write_errors":        writeErrs,
	}
}

func countsMap(m map[string]int64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// fileTally accumulates one file's results without locking.
type fileTally struct {
	source        string
	lines         int64
	ipEvents      int64
	keywordEvents int64
	ipKeys        map[string]int64
	keywordKeys   map[string]int64
	matched       *roaring.Bitmap
}

func newFileTally(source string) *fileTally {
	return &fileTally{
		source:      source,
		ipKeys:      make(map[string]int64),
		keywordKeys: make(map[string]int64),
		matched:     roaring.New(),
	}
}

func (t *fileTally) event(lineNo int, ev classify.Event) {
	t.matched.Add(uint32(lineNo))
	if ev.Kind == classify.KindIP {
		t.ipEvents++
		t.ipKeys[ev.Key]++
		return
	}
	t.keywordEvents++
	t.keywordKeys[ev.Key]++
}
