package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Stager copies files into a shared staging directory and remembers them so
// Cleanup can remove exactly those files again. Use it with defer:
//
//	st := artifact.NewStager(dir)
//	defer st.Cleanup()
type Stager struct {
	dir string

	mu     sync.Mutex
	staged []string
}

// NewStager returns a Stager for dir.
func NewStager(dir string) *Stager {
	return &Stager{dir: dir}
}

// Dir returns the staging directory.
func (s *Stager) Dir() string { return s.dir }

// Copy copies src into the staging directory under its base name.
func (s *Stager) Copy(src string) (string, error) {
	return s.CopyAs(src, filepath.Base(src))
}

// CopyAs copies src into the staging directory under name.
func (s *Stager) CopyAs(src, name string) (string, error) {
	dst := filepath.Join(s.dir, name)
	s.mu.Lock()
	s.staged = append(s.staged, dst)
	s.mu.Unlock()
	if err := CopyFile(src, dst); err != nil {
		return "", fmt.Errorf("stage %s: %w", filepath.Base(src), err)
	}
	return dst, nil
}

// Files returns the staged paths.
func (s *Stager) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.staged...)
}

// Cleanup removes every staged file. It is safe to call more than once.
func (s *Stager) Cleanup() error {
	s.mu.Lock()
	staged := s.staged
	s.staged = nil
	s.mu.Unlock()

	var errs []error
	for _, path := range staged {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
