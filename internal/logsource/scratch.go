package logsource

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Scratch is the staging area shared by every pair in a run. Each run gets
// its own directory under the configured root so concurrent runs never
// remove each other's files.
type Scratch struct {
	mu      sync.Mutex
	root    string
	cleaned bool
}

// NewScratch creates a fresh run directory under dir.
func NewScratch(dir string) (*Scratch, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	root, err := os.MkdirTemp(dir, "run-*")
	if err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Scratch{root: root}, nil
}

// Root returns the run directory.
func (s *Scratch) Root() string {
	return s.root
}

// Dir creates and returns a directory below the run directory.
func (s *Scratch) Dir(parts ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaned {
		return "", fmt.Errorf("scratch %s already cleaned up", s.root)
	}

	dir := filepath.Join(append([]string{s.root}, parts...)...)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes every staged file. It is safe to call more than once.
func (s *Scratch) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaned {
		return nil
	}
	s.cleaned = true
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	return nil
}
