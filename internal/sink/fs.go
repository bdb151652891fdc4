package sink

import (
	"fmt"
	"os"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/agentic-research/logreduce/internal/classify"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// FS writes records to files on a billy.Filesystem rooted at the output
// directory. Every append opens the file with O_APPEND, writes one record and
// closes it, so no handle outlives a single record. Files are never truncated.
//
// FS is safe for concurrent use; appends to the same path are serialized.
type FS struct {
	fs billy.Filesystem

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	dirs  map[string]bool
}

// NewFS returns a sink writing under fs.
func NewFS(fs billy.Filesystem) *FS {
	return &FS{
		fs:    fs,
		locks: make(map[string]*sync.Mutex),
		dirs:  make(map[string]bool),
	}
}

// NewDir returns a sink writing under the directory root on the host filesystem.
func NewDir(root string) *FS {
	return NewFS(osfs.New(root))
}

// AppendKeyed implements KeyedDestination. The kind directory is created on
// first use.
func (s *FS) AppendKeyed(kind classify.Kind, key, record string) error {
	if err := s.ensureDir(kind.Dir()); err != nil {
		return err
	}
	return s.append(KeyPath(kind, key), record)
}

// AppendGlobal implements GlobalDestination.
func (s *FS) AppendGlobal(kind classify.Kind, record string) error {
	return s.append(kind.GlobalFile(), record)
}

func (s *FS) ensureDir(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirs[dir] {
		return nil
	}
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	s.dirs[dir] = true
	return nil
}

func (s *FS) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

func (s *FS) append(path, record string) error {
	l := s.lockFor(path)
	l.Lock()
	defer l.Unlock()

	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if _, err := f.Write([]byte(record)); err != nil {
		_ = f.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

var _ Sink = (*FS)(nil)
