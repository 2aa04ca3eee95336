// Package atomicfile writes files via a temp-file-plus-rename sequence so
// readers never observe a partially written file.
package atomicfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Writer serializes concurrent writes to files inside a single directory
// and replaces each target atomically via a temp file plus os.Rename.
type Writer struct {
	dir string
	mu  sync.Mutex
}

// New creates a Writer rooted at dir, creating the directory if absent.
func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// WriteJSON marshals v and atomically replaces <dir>/<name> with the result.
func (w *Writer) WriteJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return w.Write(name, data)
}

// Write atomically replaces <dir>/<name> with data.
func (w *Writer) Write(name string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	target := filepath.Join(w.dir, name)
	tempFile := fmt.Sprintf("%s-%s.tmp", target, uuid.New().String())

	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file %s: %w", tempFile, err)
	}

	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file %s to %s: %w", tempFile, target, err)
	}

	return nil
}

// Read reads <dir>/<name> in full.
func (w *Writer) Read(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(w.dir, name))
}
