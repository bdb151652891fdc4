// Package walker enumerates the regular files under an input root.
package walker

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// DiscoveryError means the root could not be enumerated. It is fatal to a run.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %q: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// DirError is a directory below the root that could not be listed. Its
// subtree is skipped and the walk continues with its siblings.
type DirError struct {
	Path string
	Err  error
}

func (e *DirError) Error() string {
	return fmt.Sprintf("list directory %q: %v", e.Path, e.Err)
}

func (e *DirError) Unwrap() error { return e.Err }

// Options filters the walk. Patterns use doublestar syntax against
// slash-separated paths relative to the root, e.g. "**/*.log".
type Options struct {
	Include []string
	Exclude []string
}

// Walker yields the relative paths of every regular file below its root.
// Order is depth-first with directory entries sorted by name.
type Walker struct {
	fs      billy.Filesystem
	include []string
	exclude []string
}

// New returns a walker over fs, whose root is the input directory.
func New(fs billy.Filesystem, opts Options) (*Walker, error) {
	for _, p := range append(append([]string(nil), opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob %q", p)
		}
	}
	return &Walker{fs: fs, include: opts.Include, exclude: opts.Exclude}, nil
}

// NewDir returns a walker over the host directory root.
func NewDir(root string, opts Options) (*Walker, error) {
	return New(osfs.New(root), opts)
}

// FS returns the filesystem the relative paths resolve against.
func (w *Walker) FS() billy.Filesystem { return w.fs }

// Open opens a file yielded by Files.
func (w *Walker) Open(rel string) (billy.File, error) {
	return w.fs.Open(fsPath(rel))
}

// Check verifies that the root exists and is a directory.
func (w *Walker) Check() error {
	info, err := w.fs.Stat("/")
	if err != nil {
		return &DiscoveryError{Path: w.fs.Root(), Err: err}
	}
	if !info.IsDir() {
		return &DiscoveryError{Path: w.fs.Root(), Err: errors.New("not a directory")}
	}
	return nil
}

// Files returns a lazy sequence of relative file paths. A root that cannot
// be listed is yielded as a *DiscoveryError and ends the sequence. An
// unreadable subdirectory is yielded as a *DirError and the sequence goes on.
func (w *Walker) Files() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := w.Check(); err != nil {
			yield("", err)
			return
		}
		w.walk("", yield)
	}
}

// Walk calls fn for every file in order. It stops at the first error from
// fn or from the traversal, including a *DirError.
func (w *Walker) Walk(fn func(rel string) error) error {
	for rel, err := range w.Files() {
		if err != nil {
			return err
		}
		if err := fn(rel); err != nil {
			return err
		}
	}
	return nil
}

// walk returns false once the consumer stops.
func (w *Walker) walk(dir string, yield func(string, error) bool) bool {
	entries, err := w.fs.ReadDir(fsPath(dir))
	if err != nil {
		if dir == "" {
			yield("", &DiscoveryError{Path: w.fs.Root(), Err: err})
			return false
		}
		return yield("", &DirError{Path: dir, Err: err})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		rel := path.Join(dir, e.Name())
		mode := e.Mode()

		if mode&os.ModeSymlink != 0 {
			// Links to directories are not followed; links to files are
			// reported like the files themselves.
			target, err := w.fs.Stat(fsPath(rel))
			if err != nil || !target.Mode().IsRegular() {
				continue
			}
			mode = target.Mode()
		}

		switch {
		case mode.IsDir():
			if !w.walk(rel, yield) {
				return false
			}
		case mode.IsRegular():
			if !w.selected(rel) {
				continue
			}
			if !yield(rel, nil) {
				return false
			}
		}
	}
	return true
}

func (w *Walker) selected(rel string) bool {
	for _, p := range w.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	if len(w.include) == 0 {
		return true
	}
	for _, p := range w.include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func fsPath(rel string) string {
	return "/" + strings.TrimPrefix(rel, "/")
}
