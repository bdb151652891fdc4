package sink

import (
	"sort"
	"strings"
	"sync"

	"github.com/agentic-research/logreduce/internal/classify"
)

// Memory is an in-memory Sink keyed by output path. It records the same
// paths FS would write, which makes it a drop-in for tests.
type Memory struct {
	mu    sync.Mutex
	files map[string][]string

	// Fail, when set, is consulted before every append; a non-nil result is
	// returned instead of recording.
	Fail func(path string) error
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string][]string)}
}

func (m *Memory) AppendKeyed(kind classify.Kind, key, record string) error {
	return m.append(KeyPath(kind, key), record)
}

func (m *Memory) AppendGlobal(kind classify.Kind, record string) error {
	return m.append(kind.GlobalFile(), record)
}

func (m *Memory) append(path, record string) error {
	if m.Fail != nil {
		if err := m.Fail(path); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append(m.files[path], record)
	return nil
}

// Records returns a copy of the records appended to path, in order.
func (m *Memory) Records(path string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.files[path]...)
}

// Content returns the concatenated records of path, as the file would hold them.
func (m *Memory) Content(path string) string {
	return strings.Join(m.Records(path), "")
}

// Paths returns every path written so far, sorted.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

var _ Sink = (*Memory)(nil)
