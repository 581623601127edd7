// Package rules implements the Rules Store (spec.md §4.3, component C2):
// an append-only + remove-at-index list of free-form strings persisted to
// CODIAL.md under the workspace root. Atomic write idiom (temp file +
// fsync + rename) is adapted from the teacher's
// internal/sessions/manager.go Save().
package rules

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/codial-ai/codial-core/internal/codialerr"
)

const fileName = "CODIAL.md"

// Store is the storage port for the rules list.
type Store interface {
	List() ([]string, error)
	Append(text string) ([]string, error)
	Remove(index1Based int) ([]string, *codialerr.Error)
}

// FileStore persists rules as newline-separated lines in
// <workspaceRoot>/CODIAL.md.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore rooted at workspaceRoot.
func NewFileStore(workspaceRoot string) *FileStore {
	return &FileStore{path: filepath.Join(workspaceRoot, fileName)}
}

func (s *FileStore) readLocked() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// writeLocked rewrites CODIAL.md atomically: temp file in the same
// directory, fsync, then rename over the target.
func (s *FileStore) writeLocked(lines []string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".codial-rules-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (s *FileStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

func (s *FileStore) Append(text string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	lines = append(lines, text)
	if err := s.writeLocked(lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// Remove deletes the 1-based index-th rule. Fails with INDEX_OUT_OF_RANGE
// when idx is out of [1, len(lines)].
func (s *FileStore) Remove(idx int) ([]string, *codialerr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLocked()
	if err != nil {
		return nil, codialerr.Internal("", err)
	}
	if idx < 1 || idx > len(lines) {
		return nil, codialerr.IndexOutOfRange("", idx, len(lines))
	}

	out := make([]string, 0, len(lines)-1)
	out = append(out, lines[:idx-1]...)
	out = append(out, lines[idx:]...)

	if err := s.writeLocked(out); err != nil {
		return nil, codialerr.Internal("", err)
	}
	return out, nil
}
